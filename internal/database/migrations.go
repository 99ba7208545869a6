package database

import (
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRenameLegacyCurrentUserKey = "2026-10-01_rename_legacy_current_user_key"
	migrationLowercaseIdentityKeys      = "2026-10-02_lowercase_identity_keys"

	legacyCurrentUserKey = "user"
)

// Keys written by older clients embedded the email exactly as typed.
var identityKeyPrefixes = []string{"user_records_", "study_progress_"}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRenameLegacyCurrentUserKey, apply: renameLegacyCurrentUserKey},
		{name: migrationLowercaseIdentityKeys, apply: lowercaseIdentityKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// renameLegacyCurrentUserKey moves the identity older clients kept under "user" into the
// current-user slot. An existing current-user entry wins.
func renameLegacyCurrentUserKey(db *gorm.DB) error {
	var legacy kvstore.Entry
	err := db.Where("entry_key = ?", legacyCurrentUserKey).Take(&legacy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var existing int64
	if err := db.Model(&kvstore.Entry{}).Where("entry_key = ?", records.CurrentUserKey).Count(&existing).Error; err != nil {
		return err
	}
	if existing == 0 {
		renamed := kvstore.Entry{Key: records.CurrentUserKey, Value: legacy.Value, UpdatedAtSeconds: legacy.UpdatedAtSeconds}
		if err := db.Create(&renamed).Error; err != nil {
			return err
		}
	}
	return db.Where("entry_key = ?", legacyCurrentUserKey).Delete(&kvstore.Entry{}).Error
}

// lowercaseIdentityKeys rewrites per-identity keys to the lowercased email. When both
// spellings exist the lowercase one is kept and the mixed-case copy is left untouched.
func lowercaseIdentityKeys(db *gorm.DB) error {
	for _, prefix := range identityKeyPrefixes {
		var entries []kvstore.Entry
		if err := db.Where("entry_key LIKE ?", prefix+"%").Find(&entries).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			lowered := prefix + strings.ToLower(strings.TrimSpace(strings.TrimPrefix(entry.Key, prefix)))
			if lowered == entry.Key {
				continue
			}
			var existing int64
			if err := db.Model(&kvstore.Entry{}).Where("entry_key = ?", lowered).Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				continue
			}
			if err := db.Model(&kvstore.Entry{}).Where("entry_key = ?", entry.Key).Update("entry_key", lowered).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
