package kvstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultWriteAttempts = 3
	defaultRetryInterval = 25 * time.Millisecond
	columnEntryKey       = "entry_key"
	queryEntryKey        = columnEntryKey + " = ?"
)

var errMissingDatabase = errors.New("kvstore: database handle is required")

// Entry is a single persisted key-value pair.
type Entry struct {
	Key              string `gorm:"column:entry_key;primaryKey;size:512;not null"`
	Value            string `gorm:"column:entry_value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "kv_entries"
}

// SQLiteStorageConfig describes the dependencies of a SQLiteStorage.
type SQLiteStorageConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	WriteAttempts int
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// SQLiteStorage persists entries in the kv_entries table. Writes are retried with exponential
// backoff because a second process holding the database file surfaces as SQLITE_BUSY.
type SQLiteStorage struct {
	db            *gorm.DB
	clock         func() time.Time
	writeAttempts int
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewSQLiteStorage constructs a SQLiteStorage. The schema is expected to be migrated already.
func NewSQLiteStorage(cfg SQLiteStorageConfig) (*SQLiteStorage, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	attempts := cfg.WriteAttempts
	if attempts <= 0 {
		attempts = defaultWriteAttempts
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStorage{
		db:            cfg.Database,
		clock:         clock,
		writeAttempts: attempts,
		retryInterval: interval,
		logger:        logger,
	}, nil
}

func (s *SQLiteStorage) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	var entry Entry
	err := s.db.Where(queryEntryKey, key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return entry.Value, true, nil
}

func (s *SQLiteStorage) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	entry := Entry{
		Key:              key,
		Value:            value,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.withRetry("set", key, func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnEntryKey}},
			DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_s"}),
		}).Create(&entry).Error
	})
}

func (s *SQLiteStorage) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.withRetry("remove", key, func() error {
		return s.db.Where(queryEntryKey, key).Delete(&Entry{}).Error
	})
}

func (s *SQLiteStorage) withRetry(operation, key string, write func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInterval
	policy.MaxInterval = 8 * s.retryInterval
	policy.Multiplier = 2

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		writeErr := write()
		if writeErr != nil && attempt < s.writeAttempts {
			s.logger.Debug("storage write retry",
				zap.String("operation", operation),
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(writeErr))
		}
		return writeErr
	}, backoff.WithMaxRetries(policy, uint64(s.writeAttempts-1)))
	if err != nil {
		metrics.StorageWriteFailures.WithLabelValues(operation).Inc()
		return fmt.Errorf("kvstore: %s %q: %w", operation, key, err)
	}
	return nil
}
