// Package records owns the current identity and the record bundle that belongs to it, and
// keeps both synchronized with durable storage.
package records

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"go.uber.org/zap"
)

const (
	// CurrentUserKey is the storage slot holding the logged-in identity.
	CurrentUserKey   = "current_user"
	recordsKeyPrefix = "user_records_"
	fieldEmail       = "email"
)

// CollectionQuizStats tags change events that touched the lifetime quiz statistics. It is not
// accepted by SaveRecords.
const CollectionQuizStats Collection = "quizStats"

// RecordsKey returns the storage key of the bundle owned by identity.
func RecordsKey(identity users.Identity) string {
	return recordsKeyPrefix + identity.Key()
}

// IdentityRegistry is notified of every successful login.
type IdentityRegistry interface {
	Touch(identity users.Identity) error
}

// ChangeKind classifies store change events.
type ChangeKind string

const (
	ChangeKindLogin   ChangeKind = "login"
	ChangeKindLogout  ChangeKind = "logout"
	ChangeKindRecords ChangeKind = "records"
)

// ChangeEvent describes a committed store mutation.
type ChangeEvent struct {
	Email       string
	Kind        ChangeKind
	Collections []Collection
	Durable     bool
	At          time.Time
}

// ChangeNotifier receives change events. Implementations must not block.
type ChangeNotifier interface {
	RecordsChanged(event ChangeEvent)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Storage    kvstore.Storage
	Clock      func() time.Time
	IDProvider IDProvider
	Registry   IdentityRegistry
	Notifier   ChangeNotifier
	Logger     *zap.Logger
}

// Store is the single source of truth for who is logged in and which records belong to them.
// Every public mutation updates memory and durable storage in one step.
type Store struct {
	mu       sync.Mutex
	storage  kvstore.Storage
	clock    func() time.Time
	ids      IDProvider
	registry IdentityRegistry
	notifier ChangeNotifier
	logger   *zap.Logger

	current *users.Identity
	bundle  Bundle
	// loaded is false while the current identity's durable bundle could not be read.
	loaded bool
}

// NewStore constructs a Store and restores the identity left in the current-user slot.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Storage == nil {
		return nil, newStoreError(opStoreNew, reasonMissingStorage, errMissingStorage)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{
		storage:  cfg.Storage,
		clock:    clock,
		ids:      cfg.IDProvider,
		registry: cfg.Registry,
		notifier: cfg.Notifier,
		logger:   logger,
		bundle:   EmptyBundle(),
		loaded:   true,
	}
	store.restore()
	return store, nil
}

func (s *Store) restore() {
	payload, found, err := s.storage.Get(CurrentUserKey)
	if err != nil {
		s.logger.Warn("current user slot unreadable", zap.Error(err))
		return
	}
	if !found {
		return
	}
	var identity users.Identity
	if err := json.Unmarshal([]byte(payload), &identity); err != nil {
		metrics.MalformedRecords.WithLabelValues("identity").Inc()
		s.logger.Warn("current user slot malformed", zap.Error(err))
		return
	}
	normalized, err := normalizeIdentity(identity)
	if err != nil {
		metrics.MalformedRecords.WithLabelValues("identity").Inc()
		s.logger.Warn("current user slot invalid", zap.Error(err))
		return
	}
	bundle, _, err := s.loadBundle(normalized)
	s.current = &normalized
	s.bundle = bundle
	s.loaded = err == nil
	s.logger.Debug("session restored", zap.String(fieldEmail, normalized.Email), zap.Bool("loaded", s.loaded))
}

// CurrentIdentity returns the logged-in identity, if any.
func (s *Store) CurrentIdentity() (users.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return users.Identity{}, false
	}
	return *s.current, true
}

// Records returns a copy of the current bundle. Anonymous sessions, and sessions whose stored
// bundle cannot be read yet, see an empty bundle.
func (s *Store) Records() Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ensureLoadedLocked()
	return s.bundle.Clone()
}

// Snapshot returns the identity and bundle as one consistent pair.
func (s *Store) Snapshot() (users.Identity, Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return users.Identity{}, EmptyBundle(), false
	}
	_ = s.ensureLoadedLocked()
	return *s.current, s.bundle.Clone(), true
}

// Login makes identity current and swaps in its persisted bundle, creating an empty one for
// a never-seen identity. It fails only when the identity has no usable email. When the stored
// bundle cannot be read the identity still switches, nothing is written over the stored
// bundle, and the returned error wraps both ErrNotPersisted and ErrStorageUnreadable.
func (s *Store) Login(identity users.Identity) error {
	normalized, err := normalizeIdentity(identity)
	if err != nil {
		return s.reject(opLogin, reasonInvalidIdentity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bundle, stored, readErr := s.loadBundle(normalized)
	s.current = &normalized
	s.bundle = bundle
	s.loaded = readErr == nil

	var persistErr error
	if err := s.writeIdentity(normalized); err != nil {
		persistErr = err
	}
	if readErr != nil && persistErr == nil {
		persistErr = fmt.Errorf("%w: %w", ErrStorageUnreadable, readErr)
	}
	if !stored && persistErr == nil {
		persistErr = s.writeBundle(normalized, bundle)
	}

	if s.registry != nil {
		if err := s.registry.Touch(normalized); err != nil {
			s.logger.Warn("identity directory update failed", zap.String(fieldEmail, normalized.Email), zap.Error(err))
		}
	}

	s.notify(ChangeEvent{Email: normalized.Email, Kind: ChangeKindLogin, Durable: persistErr == nil})
	if persistErr != nil {
		return s.persistFailure(opLogin, normalized, persistErr)
	}
	metrics.StoreMutations.WithLabelValues(opLogin, metrics.OutcomeDurable).Inc()
	s.logger.Info("user logged in", zap.String(fieldEmail, normalized.Email), zap.Bool("new_bundle", !stored))
	return nil
}

// Logout clears the in-memory identity and bundle. The durable bundle is kept so the next
// login for the same identity restores it.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	identity := *s.current
	s.current = nil
	s.bundle = EmptyBundle()
	s.loaded = true

	err := s.storage.Remove(CurrentUserKey)
	s.notify(ChangeEvent{Email: identity.Email, Kind: ChangeKindLogout, Durable: err == nil})
	if err != nil {
		return s.persistFailure(opLogout, identity, err)
	}
	metrics.StoreMutations.WithLabelValues(opLogout, metrics.OutcomeDurable).Inc()
	s.logger.Info("user logged out", zap.String(fieldEmail, identity.Email))
	return nil
}

// SaveRecords replaces the named collection with data, a JSON array of that collection's records.
func (s *Store) SaveRecords(name string, data json.RawMessage) error {
	collection, err := ParseCollection(name)
	if err != nil {
		return s.reject(opSaveRecords, reasonUnknownCollection, err)
	}
	switch collection {
	case CollectionFlashcards:
		var cards []Flashcard
		if err := json.Unmarshal(data, &cards); err != nil {
			return s.reject(opSaveRecords, reasonInvalidRecord, fmt.Errorf("%w: %v", ErrInvalidRecord, err))
		}
		return s.SaveFlashcards(cards)
	case CollectionQuizzes:
		var quizzes []Quiz
		if err := json.Unmarshal(data, &quizzes); err != nil {
			return s.reject(opSaveRecords, reasonInvalidRecord, fmt.Errorf("%w: %v", ErrInvalidRecord, err))
		}
		return s.SaveQuizzes(quizzes)
	default:
		var notes []Note
		if err := json.Unmarshal(data, &notes); err != nil {
			return s.reject(opSaveRecords, reasonInvalidRecord, fmt.Errorf("%w: %v", ErrInvalidRecord, err))
		}
		return s.SaveNotes(notes)
	}
}

// SaveFlashcards replaces the flashcard collection.
func (s *Store) SaveFlashcards(cards []Flashcard) error {
	normalized, err := normalizeAll(cards, NormalizeFlashcard)
	if err != nil {
		return s.reject(opSaveRecords, reasonInvalidRecord, err)
	}
	return s.mutate(opSaveRecords, func(bundle *Bundle) error {
		bundle.Flashcards = normalized
		return nil
	}, CollectionFlashcards)
}

// SaveQuizzes replaces the quiz collection. QuizStats is left untouched.
func (s *Store) SaveQuizzes(quizzes []Quiz) error {
	normalized, err := normalizeAll(quizzes, NormalizeQuiz)
	if err != nil {
		return s.reject(opSaveRecords, reasonInvalidRecord, err)
	}
	return s.mutate(opSaveRecords, func(bundle *Bundle) error {
		bundle.Quizzes = normalized
		return nil
	}, CollectionQuizzes)
}

// SaveNotes replaces the note collection.
func (s *Store) SaveNotes(notes []Note) error {
	normalized, err := normalizeAll(notes, NormalizeNote)
	if err != nil {
		return s.reject(opSaveRecords, reasonInvalidRecord, err)
	}
	return s.mutate(opSaveRecords, func(bundle *Bundle) error {
		bundle.Notes = normalized
		return nil
	}, CollectionNotes)
}

// UpdateQuizStats folds one completed quiz percentage (0-100) into the lifetime running
// average. Call it exactly once per completed quiz; RecordQuiz already does.
func (s *Store) UpdateQuizStats(score float64) error {
	if err := validateScore(score); err != nil {
		return s.reject(opUpdateQuizStats, reasonInvalidScore, err)
	}
	return s.mutate(opUpdateQuizStats, func(bundle *Bundle) error {
		bundle.QuizStats = nextQuizStats(bundle.QuizStats, score)
		return nil
	}, CollectionQuizStats)
}

// QuizResult is the outcome of a finished quiz as reported by the quiz screen.
type QuizResult struct {
	Score          int
	TotalQuestions int
	Difficulty     string
}

// RecordQuiz appends a quiz record and updates QuizStats in the same step.
func (s *Store) RecordQuiz(result QuizResult) (Quiz, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Quiz{}, s.reject(opRecordQuiz, reasonIDGenerationFailed, err)
	}
	now := s.clock().UTC()
	quiz, err := NormalizeQuiz(Quiz{
		ID:             RecordID(id),
		Date:           now,
		Score:          result.Score,
		TotalQuestions: result.TotalQuestions,
		Difficulty:     Difficulty(result.Difficulty),
		TimeCompleted:  now,
	})
	if err != nil {
		return Quiz{}, s.reject(opRecordQuiz, reasonInvalidRecord, err)
	}
	err = s.mutate(opRecordQuiz, func(bundle *Bundle) error {
		bundle.Quizzes = append(bundle.Quizzes, quiz)
		bundle.QuizStats = nextQuizStats(bundle.QuizStats, quiz.Percentage())
		return nil
	}, CollectionQuizzes, CollectionQuizStats)
	if err != nil && !isNotPersisted(err) {
		return Quiz{}, err
	}
	return quiz, err
}

// FlashcardDraft is a card before it has been assigned an id.
type FlashcardDraft struct {
	Question string
	Answer   string
	ImageURL string
}

// AddFlashcards appends cards in order, assigning fresh ids.
func (s *Store) AddFlashcards(drafts ...FlashcardDraft) ([]Flashcard, error) {
	cards := make([]Flashcard, 0, len(drafts))
	for index, draft := range drafts {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, s.reject(opAddFlashcard, reasonIDGenerationFailed, err)
		}
		card, err := NormalizeFlashcard(Flashcard{
			ID:       RecordID(id),
			Question: draft.Question,
			Answer:   draft.Answer,
			ImageURL: draft.ImageURL,
		})
		if err != nil {
			return nil, s.reject(opAddFlashcard, reasonInvalidRecord, fmt.Errorf("card %d: %w", index, err))
		}
		cards = append(cards, card)
	}
	err := s.mutate(opAddFlashcard, func(bundle *Bundle) error {
		bundle.Flashcards = append(bundle.Flashcards, cards...)
		return nil
	}, CollectionFlashcards)
	if err != nil && !isNotPersisted(err) {
		return nil, err
	}
	return cards, err
}

// DeleteFlashcard removes the card with id.
func (s *Store) DeleteFlashcard(id RecordID) error {
	return s.mutate(opDeleteFlashcard, func(bundle *Bundle) error {
		remaining, removed := removeByID(bundle.Flashcards, id, func(card Flashcard) RecordID { return card.ID })
		if !removed {
			return s.reject(opDeleteFlashcard, reasonNotFound, fmt.Errorf("%w: flashcard %q", ErrRecordNotFound, id))
		}
		bundle.Flashcards = remaining
		return nil
	}, CollectionFlashcards)
}

// AddNote appends a note. Title and content are required.
func (s *Store) AddNote(title, content string) (Note, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Note{}, s.reject(opAddNote, reasonIDGenerationFailed, err)
	}
	note, err := NormalizeNote(Note{
		ID:      RecordID(id),
		Title:   title,
		Content: content,
		Date:    s.clock().UTC(),
	})
	if err != nil {
		return Note{}, s.reject(opAddNote, reasonInvalidRecord, err)
	}
	err = s.mutate(opAddNote, func(bundle *Bundle) error {
		bundle.Notes = append(bundle.Notes, note)
		return nil
	}, CollectionNotes)
	if err != nil && !isNotPersisted(err) {
		return Note{}, err
	}
	return note, err
}

// DeleteNote removes the note with id.
func (s *Store) DeleteNote(id RecordID) error {
	return s.mutate(opDeleteNote, func(bundle *Bundle) error {
		remaining, removed := removeByID(bundle.Notes, id, func(note Note) RecordID { return note.ID })
		if !removed {
			return s.reject(opDeleteNote, reasonNotFound, fmt.Errorf("%w: note %q", ErrRecordNotFound, id))
		}
		bundle.Notes = remaining
		return nil
	}, CollectionNotes)
}

// mutate applies change to a copy of the current bundle and commits it. A failed apply
// leaves the bundle untouched.
func (s *Store) mutate(operation string, apply func(bundle *Bundle) error, collections ...Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		s.logger.Debug("mutation ignored while anonymous", zap.String("operation", operation))
		metrics.StoreMutations.WithLabelValues(operation, metrics.OutcomeRejected).Inc()
		return newStoreError(operation, reasonAnonymous, ErrAnonymous)
	}
	identity := *s.current
	if err := s.ensureLoadedLocked(); err != nil {
		return s.reject(operation, reasonReadFailed, fmt.Errorf("%w: %w", ErrStorageUnreadable, err))
	}
	next := s.bundle.Clone()
	if err := apply(&next); err != nil {
		return err
	}

	s.bundle = next
	persistErr := s.writeBundle(identity, next)
	s.notify(ChangeEvent{
		Email:       identity.Email,
		Kind:        ChangeKindRecords,
		Collections: collections,
		Durable:     persistErr == nil,
	})
	if persistErr != nil {
		return s.persistFailure(operation, identity, persistErr)
	}
	metrics.StoreMutations.WithLabelValues(operation, metrics.OutcomeDurable).Inc()
	return nil
}

// ensureLoadedLocked retries the read of a bundle that was unreadable at login or restore.
func (s *Store) ensureLoadedLocked() error {
	if s.current == nil || s.loaded {
		return nil
	}
	bundle, _, err := s.loadBundle(*s.current)
	if err != nil {
		return err
	}
	s.bundle = bundle
	s.loaded = true
	s.logger.Info("record bundle reloaded", zap.String(fieldEmail, s.current.Email))
	return nil
}

// loadBundle reports whether a bundle is stored for identity. A read error is returned as is
// and must never be taken to mean the identity has no stored bundle.
func (s *Store) loadBundle(identity users.Identity) (Bundle, bool, error) {
	key := RecordsKey(identity)
	payload, found, err := s.storage.Get(key)
	if err != nil {
		s.logger.Warn("record bundle unreadable", zap.String(fieldEmail, identity.Email), zap.Error(err))
		return EmptyBundle(), false, err
	}
	if !found {
		return EmptyBundle(), false, nil
	}
	bundle, err := decodeBundle(payload)
	if err != nil {
		metrics.MalformedRecords.WithLabelValues("bundle").Inc()
		s.logger.Warn("record bundle malformed, starting empty",
			zap.String(fieldEmail, identity.Email),
			zap.Error(err))
		return EmptyBundle(), true, nil
	}
	return bundle, true, nil
}

func (s *Store) writeIdentity(identity users.Identity) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return newStoreError(opLogin, reasonEncodeFailed, err)
	}
	return s.storage.Set(CurrentUserKey, string(payload))
}

func (s *Store) writeBundle(identity users.Identity, bundle Bundle) error {
	payload, err := encodeBundle(bundle)
	if err != nil {
		return err
	}
	return s.storage.Set(RecordsKey(identity), payload)
}

func (s *Store) notify(event ChangeEvent) {
	if s.notifier == nil {
		return
	}
	event.At = s.clock().UTC()
	s.notifier.RecordsChanged(event)
}

func (s *Store) persistFailure(operation string, identity users.Identity, cause error) error {
	metrics.StoreMutations.WithLabelValues(operation, metrics.OutcomeNotPersisted).Inc()
	s.logger.Warn("change kept in memory but not persisted",
		zap.String("operation", operation),
		zap.String("reason", reasonPersistFailed),
		zap.String(fieldEmail, identity.Email),
		zap.Error(cause))
	return newStoreError(operation, reasonPersistFailed, fmt.Errorf("%w: %w", ErrNotPersisted, cause))
}

func (s *Store) reject(operation, reason string, cause error) error {
	metrics.StoreMutations.WithLabelValues(operation, metrics.OutcomeRejected).Inc()
	s.logger.Warn("records store rejected request",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(cause))
	return newStoreError(operation, reason, cause)
}

func normalizeIdentity(identity users.Identity) (users.Identity, error) {
	return users.NewIdentity(users.IdentityConfig{
		ID:     identity.ID,
		Name:   identity.Name,
		Email:  identity.Email,
		Avatar: identity.Avatar,
	})
}

func removeByID[T any](items []T, id RecordID, idOf func(T) RecordID) ([]T, bool) {
	target := RecordID(strings.TrimSpace(id.String()))
	remaining := make([]T, 0, len(items))
	removed := false
	for _, item := range items {
		if idOf(item) == target {
			removed = true
			continue
		}
		remaining = append(remaining, item)
	}
	return remaining, removed
}

func validateScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalidScore)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: %v outside 0..100", ErrInvalidScore, score)
	}
	return nil
}

func nextQuizStats(previous QuizStats, score float64) QuizStats {
	completed := previous.Completed + 1
	average := (previous.AverageScore*float64(previous.Completed) + score) / float64(completed)
	return QuizStats{
		Completed:    completed,
		AverageScore: roundHalfUp(average*100) / 100,
	}
}

func roundHalfUp(value float64) float64 {
	return math.Floor(value + 0.5)
}
