package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"go.uber.org/zap"
)

// SnapshotSource exposes the current identity and its bundle. *records.Store satisfies it.
type SnapshotSource interface {
	Snapshot() (users.Identity, records.Bundle, bool)
}

// TrackerConfig describes the dependencies of a Tracker.
type TrackerConfig struct {
	Storage kvstore.Storage
	Source  SnapshotSource
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Tracker records study activity for the current identity.
type Tracker struct {
	mu      sync.Mutex
	storage kvstore.Storage
	source  SnapshotSource
	clock   func() time.Time
	logger  *zap.Logger

	// logs holds the authoritative copy per email; it survives failed writes.
	logs map[string]Log
}

// NewTracker constructs a Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Storage == nil {
		return nil, newTrackerError(opTrackerNew, reasonMissingStorage, errMissingStorage)
	}
	if cfg.Source == nil {
		return nil, newTrackerError(opTrackerNew, reasonMissingSource, errMissingSource)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		storage: cfg.Storage,
		source:  cfg.Source,
		clock:   clock,
		logger:  logger,
		logs:    make(map[string]Log),
	}, nil
}

// RecordStudyTime appends a study session of minutes ending now.
func (t *Tracker) RecordStudyTime(minutes int) (StudySession, error) {
	if minutes <= 0 || minutes > maxMinutesPerSession {
		return StudySession{}, t.reject(opRecordStudyTime, reasonInvalidMinutes,
			fmt.Errorf("%w: %d outside 1..%d", ErrInvalidMinutes, minutes, maxMinutesPerSession))
	}
	identity, _, ok := t.source.Snapshot()
	if !ok {
		return StudySession{}, t.reject(opRecordStudyTime, reasonAnonymous, records.ErrAnonymous)
	}
	session := StudySession{At: t.clock().UTC(), Minutes: minutes}
	err := t.mutate(opRecordStudyTime, identity, func(log *Log) {
		log.StudySessions = append(log.StudySessions, session)
	})
	return session, err
}

// UpdateFlashcardStatus records how well the current identity knows cardID.
func (t *Tracker) UpdateFlashcardStatus(cardID records.RecordID, status FlashcardStatus) error {
	parsed, err := ParseFlashcardStatus(string(status))
	if err != nil {
		return t.reject(opUpdateCardStatus, reasonInvalidStatus, err)
	}
	identity, bundle, ok := t.source.Snapshot()
	if !ok {
		return t.reject(opUpdateCardStatus, reasonAnonymous, records.ErrAnonymous)
	}
	if !hasFlashcard(bundle, cardID) {
		return t.reject(opUpdateCardStatus, reasonUnknownCard, fmt.Errorf("%w: %q", ErrUnknownFlashcard, cardID))
	}
	return t.mutate(opUpdateCardStatus, identity, func(log *Log) {
		log.FlashcardStatuses[cardID] = parsed
	})
}

// Log returns the current identity's log.
func (t *Tracker) Log() (Log, error) {
	identity, _, ok := t.source.Snapshot()
	if !ok {
		return EmptyLog(), newTrackerError(opLoadLog, reasonAnonymous, records.ErrAnonymous)
	}
	return t.LogFor(identity), nil
}

// LogFor returns a copy of identity's log. Unreadable or malformed data yields an empty log;
// an unreadable log is not cached, so the next call reads storage again.
func (t *Tracker) LogFor(identity users.Identity) Log {
	t.mu.Lock()
	defer t.mu.Unlock()
	log, err := t.loadLocked(identity)
	if err != nil {
		return EmptyLog()
	}
	return log.Clone()
}

func (t *Tracker) mutate(operation string, identity users.Identity, apply func(log *Log)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.loadLocked(identity)
	if err != nil {
		return t.reject(operation, reasonReadFailed, fmt.Errorf("%w: %w", records.ErrStorageUnreadable, err))
	}
	next := current.Clone()
	apply(&next)
	t.logs[identity.Email] = next

	payload, err := encodeLog(next)
	if err != nil {
		return t.persistFailure(operation, identity, newTrackerError(operation, reasonEncodeFailed, err))
	}
	if err := t.storage.Set(LogKey(identity), payload); err != nil {
		return t.persistFailure(operation, identity, err)
	}
	metrics.StoreMutations.WithLabelValues(operation, metrics.OutcomeDurable).Inc()
	return nil
}

func (t *Tracker) loadLocked(identity users.Identity) (Log, error) {
	if cached, ok := t.logs[identity.Email]; ok {
		return cached, nil
	}
	payload, found, err := t.storage.Get(LogKey(identity))
	if err != nil {
		t.logger.Warn("progress log unreadable", zap.String("email", identity.Email), zap.Error(err))
		return Log{}, err
	}
	log := EmptyLog()
	if found {
		decoded, decodeErr := decodeLog(payload)
		if decodeErr != nil {
			metrics.MalformedRecords.WithLabelValues("progress").Inc()
			t.logger.Warn("progress log malformed, starting empty",
				zap.String("email", identity.Email),
				zap.Error(decodeErr))
		} else {
			log = decoded
		}
	}
	t.logs[identity.Email] = log
	return log, nil
}

func (t *Tracker) persistFailure(operation string, identity users.Identity, cause error) error {
	metrics.StoreMutations.WithLabelValues(operation, metrics.OutcomeNotPersisted).Inc()
	t.logger.Warn("progress kept in memory but not persisted",
		zap.String("operation", operation),
		zap.String("reason", reasonPersistFailed),
		zap.String("email", identity.Email),
		zap.Error(cause))
	return newTrackerError(operation, reasonPersistFailed, fmt.Errorf("%w: %w", records.ErrNotPersisted, cause))
}

func (t *Tracker) reject(operation, reason string, cause error) error {
	metrics.StoreMutations.WithLabelValues(operation, metrics.OutcomeRejected).Inc()
	t.logger.Warn("progress tracker rejected request",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(cause))
	return newTrackerError(operation, reason, cause)
}

func hasFlashcard(bundle records.Bundle, id records.RecordID) bool {
	for _, card := range bundle.Flashcards {
		if card.ID == id {
			return true
		}
	}
	return false
}
