package records

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxTitleLength = 200
	maxTextLength  = 20000
)

var (
	// Card and note bodies come back from the generation API as lightly formatted HTML.
	contentPolicy = bluemonday.UGCPolicy()
	// Titles and ids are rendered as plain text.
	plainPolicy = bluemonday.StrictPolicy()
)

func sanitizeContent(raw string) string {
	return strings.TrimSpace(contentPolicy.Sanitize(strings.TrimSpace(raw)))
}

func sanitizePlain(raw string) string {
	return strings.TrimSpace(html.UnescapeString(plainPolicy.Sanitize(strings.TrimSpace(raw))))
}

func normalizeID(id RecordID) (RecordID, error) {
	trimmed := strings.TrimSpace(id.String())
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(trimmed) > 190 {
		return "", fmt.Errorf("%w: id exceeds 190 characters", ErrInvalidRecord)
	}
	return RecordID(trimmed), nil
}

func requireText(field, value string, limit int) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidRecord, field)
	}
	if len(value) > limit {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidRecord, field, limit)
	}
	return nil
}

// NormalizeFlashcard validates a card and returns its sanitized form.
func NormalizeFlashcard(card Flashcard) (Flashcard, error) {
	id, err := normalizeID(card.ID)
	if err != nil {
		return Flashcard{}, err
	}
	normalized := Flashcard{
		ID:       id,
		Question: sanitizeContent(card.Question),
		Answer:   sanitizeContent(card.Answer),
		ImageURL: strings.TrimSpace(card.ImageURL),
	}
	if err := requireText("question", normalized.Question, maxTextLength); err != nil {
		return Flashcard{}, err
	}
	if err := requireText("answer", normalized.Answer, maxTextLength); err != nil {
		return Flashcard{}, err
	}
	if normalized.ImageURL != "" {
		parsed, err := url.Parse(normalized.ImageURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return Flashcard{}, fmt.Errorf("%w: image url must be absolute http(s)", ErrInvalidRecord)
		}
	}
	return normalized, nil
}

// NormalizeQuiz validates a quiz result.
func NormalizeQuiz(quiz Quiz) (Quiz, error) {
	id, err := normalizeID(quiz.ID)
	if err != nil {
		return Quiz{}, err
	}
	if quiz.TotalQuestions <= 0 {
		return Quiz{}, fmt.Errorf("%w: totalQuestions must be positive", ErrInvalidRecord)
	}
	if quiz.Score < 0 || quiz.Score > quiz.TotalQuestions {
		return Quiz{}, fmt.Errorf("%w: score %d outside 0..%d", ErrInvalidRecord, quiz.Score, quiz.TotalQuestions)
	}
	difficulty, err := ParseDifficulty(string(quiz.Difficulty))
	if err != nil {
		return Quiz{}, err
	}
	if quiz.Date.IsZero() {
		return Quiz{}, fmt.Errorf("%w: quiz date is required", ErrInvalidRecord)
	}
	normalized := quiz
	normalized.ID = id
	normalized.Difficulty = difficulty
	if normalized.TimeCompleted.IsZero() {
		normalized.TimeCompleted = normalized.Date
	}
	return normalized, nil
}

// NormalizeNote validates a note and returns its sanitized form.
func NormalizeNote(note Note) (Note, error) {
	id, err := normalizeID(note.ID)
	if err != nil {
		return Note{}, err
	}
	normalized := Note{
		ID:      id,
		Title:   sanitizePlain(note.Title),
		Content: sanitizeContent(note.Content),
		Date:    note.Date,
	}
	if err := requireText("title", normalized.Title, maxTitleLength); err != nil {
		return Note{}, err
	}
	if err := requireText("content", normalized.Content, maxTextLength); err != nil {
		return Note{}, err
	}
	if normalized.Date.IsZero() {
		return Note{}, fmt.Errorf("%w: note date is required", ErrInvalidRecord)
	}
	return normalized, nil
}

func normalizeAll[T any](items []T, normalize func(T) (T, error)) ([]T, error) {
	normalized := make([]T, 0, len(items))
	seen := make(map[RecordID]struct{}, len(items))
	for index, item := range items {
		value, err := normalize(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", index, err)
		}
		id := recordIDOf(value)
		if _, duplicate := seen[id]; duplicate {
			return nil, fmt.Errorf("entry %d: %w: duplicate id %q", index, ErrInvalidRecord, id)
		}
		seen[id] = struct{}{}
		normalized = append(normalized, value)
	}
	return normalized, nil
}

func recordIDOf(value any) RecordID {
	switch typed := value.(type) {
	case Flashcard:
		return typed.ID
	case Quiz:
		return typed.ID
	case Note:
		return typed.ID
	default:
		return ""
	}
}
