package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Collection names one of the record sequences held in a Bundle.
type Collection string

const (
	// CollectionFlashcards holds study cards in navigation order.
	CollectionFlashcards Collection = "flashcards"
	// CollectionQuizzes holds completed quiz results in chronological order.
	CollectionQuizzes Collection = "quizzes"
	// CollectionNotes holds free-form study notes.
	CollectionNotes Collection = "notes"
)

// ParseCollection maps a collection name onto a known Collection.
func ParseCollection(raw string) (Collection, error) {
	switch Collection(strings.TrimSpace(raw)) {
	case CollectionFlashcards:
		return CollectionFlashcards, nil
	case CollectionQuizzes:
		return CollectionQuizzes, nil
	case CollectionNotes:
		return CollectionNotes, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, raw)
	}
}

// Difficulty is the difficulty a quiz was taken at.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty validates a difficulty label; empty input defaults to medium.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DifficultyMedium:
		return DifficultyMedium, nil
	case DifficultyEasy:
		return DifficultyEasy, nil
	case DifficultyHard:
		return DifficultyHard, nil
	default:
		return "", fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRecord, raw)
	}
}

// RecordID identifies a flashcard, quiz, or note. Older clients wrote millisecond
// timestamps as JSON numbers, so both numbers and strings decode.
type RecordID string

// UnmarshalJSON decodes a string or numeric identifier.
func (id *RecordID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		*id = RecordID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return errors.New("records: id must be a string or number")
	}
	*id = RecordID(number.String())
	return nil
}

// String returns the identifier text.
func (id RecordID) String() string {
	return string(id)
}

// Flashcard is a single question/answer card.
type Flashcard struct {
	ID       RecordID `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	ImageURL string   `json:"imageUrl,omitempty"`
}

// Quiz is a completed quiz result. Score counts correct answers out of TotalQuestions.
type Quiz struct {
	ID             RecordID   `json:"id"`
	Date           time.Time  `json:"date"`
	Score          int        `json:"score"`
	TotalQuestions int        `json:"totalQuestions"`
	Difficulty     Difficulty `json:"difficulty"`
	TimeCompleted  time.Time  `json:"timeCompleted"`
}

// Percentage returns the quiz score as a percentage of TotalQuestions.
func (q Quiz) Percentage() float64 {
	if q.TotalQuestions <= 0 {
		return 0
	}
	return float64(q.Score) / float64(q.TotalQuestions) * 100
}

// Note is a titled study note.
type Note struct {
	ID      RecordID  `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Date    time.Time `json:"date"`
}

// QuizStats is the incrementally maintained lifetime quiz average.
type QuizStats struct {
	Completed    int     `json:"completed"`
	AverageScore float64 `json:"averageScore"`
}

// Bundle is everything persisted for one identity.
type Bundle struct {
	Flashcards []Flashcard `json:"flashcards"`
	Quizzes    []Quiz      `json:"quizzes"`
	Notes      []Note      `json:"notes"`
	QuizStats  QuizStats   `json:"quizStats"`
}

// EmptyBundle returns the bundle a never-seen identity starts with.
func EmptyBundle() Bundle {
	return Bundle{
		Flashcards: []Flashcard{},
		Quizzes:    []Quiz{},
		Notes:      []Note{},
		QuizStats:  QuizStats{},
	}
}

// Clone returns a deep copy so callers cannot mutate store-owned slices.
func (b Bundle) Clone() Bundle {
	return Bundle{
		Flashcards: append(make([]Flashcard, 0, len(b.Flashcards)), b.Flashcards...),
		Quizzes:    append(make([]Quiz, 0, len(b.Quizzes)), b.Quizzes...),
		Notes:      append(make([]Note, 0, len(b.Notes)), b.Notes...),
		QuizStats:  b.QuizStats,
	}
}

// LifetimeAverage is the mean percentage across every recorded quiz, rounded to a whole
// number. It is distinct from QuizStats.AverageScore, which only moves through UpdateQuizStats.
func (b Bundle) LifetimeAverage() int {
	if len(b.Quizzes) == 0 {
		return 0
	}
	total := 0.0
	for _, quiz := range b.Quizzes {
		total += quiz.Percentage()
	}
	return int(roundHalfUp(total / float64(len(b.Quizzes))))
}

func decodeBundle(payload string) (Bundle, error) {
	var bundle Bundle
	if err := json.Unmarshal([]byte(payload), &bundle); err != nil {
		return Bundle{}, err
	}
	if bundle.Flashcards == nil {
		bundle.Flashcards = []Flashcard{}
	}
	if bundle.Quizzes == nil {
		bundle.Quizzes = []Quiz{}
	}
	if bundle.Notes == nil {
		bundle.Notes = []Note{}
	}
	if bundle.QuizStats.Completed < 0 {
		bundle.QuizStats = QuizStats{}
	}
	return bundle, nil
}

func encodeBundle(bundle Bundle) (string, error) {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
