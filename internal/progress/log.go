// Package progress keeps the per-identity study log (card mastery and study sessions) and
// derives dashboard statistics from it together with the record bundle.
package progress

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
)

const logKeyPrefix = "study_progress_"

// LogKey returns the storage key of the progress log owned by identity.
func LogKey(identity users.Identity) string {
	return logKeyPrefix + identity.Key()
}

// FlashcardStatus is how well a card is known.
type FlashcardStatus string

const (
	StatusMastered      FlashcardStatus = "mastered"
	StatusLearning      FlashcardStatus = "learning"
	StatusNeedsPractice FlashcardStatus = "needs_practice"
)

// ParseFlashcardStatus accepts the snake_case labels plus the camelCase spelling older
// clients used for needs-practice.
func ParseFlashcardStatus(raw string) (FlashcardStatus, error) {
	switch strings.TrimSpace(raw) {
	case string(StatusMastered):
		return StatusMastered, nil
	case string(StatusLearning):
		return StatusLearning, nil
	case string(StatusNeedsPractice), "needsPractice":
		return StatusNeedsPractice, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// StudySession is one block of recorded study time.
type StudySession struct {
	At      time.Time `json:"at"`
	Minutes int       `json:"minutes"`
}

// Log is everything the tracker persists for one identity.
type Log struct {
	FlashcardStatuses map[records.RecordID]FlashcardStatus `json:"flashcardStatuses"`
	StudySessions     []StudySession                       `json:"studySessions"`
}

// EmptyLog returns the log a never-seen identity starts with.
func EmptyLog() Log {
	return Log{
		FlashcardStatuses: map[records.RecordID]FlashcardStatus{},
		StudySessions:     []StudySession{},
	}
}

// Clone returns a deep copy.
func (l Log) Clone() Log {
	statuses := make(map[records.RecordID]FlashcardStatus, len(l.FlashcardStatuses))
	for id, status := range l.FlashcardStatuses {
		statuses[id] = status
	}
	return Log{
		FlashcardStatuses: statuses,
		StudySessions:     append(make([]StudySession, 0, len(l.StudySessions)), l.StudySessions...),
	}
}

// TotalMinutes sums every recorded session.
func (l Log) TotalMinutes() int {
	total := 0
	for _, session := range l.StudySessions {
		total += session.Minutes
	}
	return total
}

func decodeLog(payload string) (Log, error) {
	var log Log
	if err := json.Unmarshal([]byte(payload), &log); err != nil {
		return Log{}, err
	}
	if log.FlashcardStatuses == nil {
		log.FlashcardStatuses = map[records.RecordID]FlashcardStatus{}
	}
	for id, status := range log.FlashcardStatuses {
		parsed, err := ParseFlashcardStatus(string(status))
		if err != nil {
			delete(log.FlashcardStatuses, id)
			continue
		}
		log.FlashcardStatuses[id] = parsed
	}
	sessions := make([]StudySession, 0, len(log.StudySessions))
	for _, session := range log.StudySessions {
		if session.Minutes <= 0 || session.At.IsZero() {
			continue
		}
		sessions = append(sessions, session)
	}
	log.StudySessions = sessions
	return log, nil
}

func encodeLog(log Log) (string, error) {
	payload, err := json.Marshal(log)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
