package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("users: database connection required")

// DirectoryEntry records an identity that has logged in on this device.
type DirectoryEntry struct {
	Email       string    `gorm:"column:user_email;primaryKey;size:320;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing known identities.
func (DirectoryEntry) TableName() string {
	return "user_identities"
}

// Identity converts the entry back into a profile.
func (entry DirectoryEntry) Identity() Identity {
	return Identity{
		ID:     entry.UserID,
		Name:   entry.DisplayName,
		Email:  entry.Email,
		Avatar: entry.AvatarURL,
	}
}

// DirectoryConfig describes the dependencies required by a Directory.
type DirectoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Directory tracks every identity seen on this device so returning users can be listed.
type Directory struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDirectory constructs the identity directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Directory{db: cfg.Database, now: clock}, nil
}

// Touch creates or refreshes the directory entry for identity.
func (d *Directory) Touch(identity Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	entry := DirectoryEntry{
		Email:       identity.Email,
		UserID:      identity.ID,
		DisplayName: identity.Name,
		AvatarURL:   identity.Avatar,
		LastSeenAt:  d.now().UTC(),
	}
	err := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_email"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "user_display_name", "user_avatar_url", "last_seen_at", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("users: touch %s: %w", identity.Email, err)
	}
	return nil
}

// List returns known identities, most recently seen first.
func (d *Directory) List(ctx context.Context) ([]DirectoryEntry, error) {
	var entries []DirectoryEntry
	if err := d.db.WithContext(ctx).Order("last_seen_at DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("users: list directory: %w", err)
	}
	return entries, nil
}
