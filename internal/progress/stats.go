package progress

import (
	"math"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
)

const dateLayout = "2006-01-02"

// DerivedStats is the dashboard view. It is always recomputed and never persisted.
type DerivedStats struct {
	// QuizAverage is the rolling average percentage over the most recent quiz window.
	QuizAverage             int            `json:"quizAverage"`
	QuizzesCompleted        int            `json:"quizzesCompleted"`
	FlashcardsTotal         int            `json:"flashcardsTotal"`
	FlashcardsMastered      int            `json:"flashcardsMastered"`
	FlashcardsLearning      int            `json:"flashcardsLearning"`
	FlashcardsNeedsPractice int            `json:"flashcardsNeedsPractice"`
	TotalStudyTime          int            `json:"totalStudyTime"`
	CurrentStreak           int            `json:"currentStreak"`
	BestStreak              int            `json:"bestStreak"`
	LastStudyDate           string         `json:"lastStudyDate,omitempty"`
	RecentQuizzes           []records.Quiz `json:"recentQuizzes"`
}

// ComputeStats derives statistics from a bundle and a progress log. window bounds the rolling
// quiz average and the recent list; location decides where calendar days start.
func ComputeStats(bundle records.Bundle, log Log, window int, location *time.Location) DerivedStats {
	if location == nil {
		location = time.Local
	}
	stats := DerivedStats{
		QuizAverage:      RollingAverage(bundle.Quizzes, window),
		QuizzesCompleted: len(bundle.Quizzes),
		FlashcardsTotal:  len(bundle.Flashcards),
		TotalStudyTime:   log.TotalMinutes(),
		RecentQuizzes:    recentQuizzes(bundle.Quizzes, window),
	}

	for _, card := range bundle.Flashcards {
		switch log.FlashcardStatuses[card.ID] {
		case StatusMastered:
			stats.FlashcardsMastered++
		case StatusLearning:
			stats.FlashcardsLearning++
		case StatusNeedsPractice:
			stats.FlashcardsNeedsPractice++
		}
	}

	events := make([]time.Time, 0, len(log.StudySessions)+len(bundle.Quizzes))
	for _, session := range log.StudySessions {
		events = append(events, session.At)
	}
	for _, quiz := range bundle.Quizzes {
		events = append(events, quiz.TimeCompleted)
	}
	streak := FoldStreak(events, location)
	stats.CurrentStreak = streak.Current
	stats.BestStreak = streak.Best
	if !streak.LastDay.IsZero() {
		stats.LastStudyDate = streak.LastDay.Format(dateLayout)
	}
	return stats
}

// RollingAverage is round(mean(score/total*100)) over the last window quizzes, or 0 without
// quizzes.
func RollingAverage(quizzes []records.Quiz, window int) int {
	recent := lastN(quizzes, window)
	if len(recent) == 0 {
		return 0
	}
	total := 0.0
	for _, quiz := range recent {
		total += quiz.Percentage()
	}
	return int(math.Floor(total/float64(len(recent)) + 0.5))
}

// Streak is the result of folding study events into consecutive calendar days.
type Streak struct {
	Current int
	Best    int
	// LastDay is midnight UTC of the last study day's calendar date.
	LastDay time.Time
}

// FoldStreak walks events in time order. An event on the same calendar day as the previous
// one leaves the streak alone, one on the next day extends it, anything else restarts it at 1.
func FoldStreak(events []time.Time, location *time.Location) Streak {
	if location == nil {
		location = time.Local
	}
	ordered := make([]time.Time, 0, len(events))
	for _, event := range events {
		if !event.IsZero() {
			ordered = append(ordered, event)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	var streak Streak
	for _, event := range ordered {
		day := calendarDay(event, location)
		switch {
		case streak.LastDay.IsZero():
			streak.Current = 1
		case day.Equal(streak.LastDay):
			// same day
		case day.Equal(streak.LastDay.AddDate(0, 0, 1)):
			streak.Current++
		default:
			streak.Current = 1
		}
		streak.LastDay = day
		if streak.Current > streak.Best {
			streak.Best = streak.Current
		}
	}
	return streak
}

func calendarDay(moment time.Time, location *time.Location) time.Time {
	year, month, day := moment.In(location).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func lastN(quizzes []records.Quiz, window int) []records.Quiz {
	if window <= 0 || len(quizzes) <= window {
		return quizzes
	}
	return quizzes[len(quizzes)-window:]
}

func recentQuizzes(quizzes []records.Quiz, window int) []records.Quiz {
	recent := lastN(quizzes, window)
	newestFirst := make([]records.Quiz, 0, len(recent))
	for index := len(recent) - 1; index >= 0; index-- {
		newestFirst = append(newestFirst, recent[index])
	}
	return newestFirst
}
