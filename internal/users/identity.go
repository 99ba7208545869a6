package users

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

const (
	maxEmailLength   = 320
	avatarURLPattern = "https://api.dicebear.com/7.x/avataaars/svg?seed=%s"
	defaultName      = "Study Buddy"
)

var (
	// ErrInvalidIdentity indicates the identity has no usable stable key.
	ErrInvalidIdentity = errors.New("users: invalid identity")
)

// Identity is the profile of the user currently studying. Email is the stable key that
// namespaces every persisted record bundle.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

// IdentityConfig carries raw login input.
type IdentityConfig struct {
	ID     string
	Name   string
	Email  string
	Avatar string
}

// NewIdentity validates and normalizes login input.
func NewIdentity(cfg IdentityConfig) (Identity, error) {
	email, err := NormalizeEmail(cfg.Email)
	if err != nil {
		return Identity{}, err
	}
	identity := Identity{
		ID:     normalize(cfg.ID),
		Name:   normalize(cfg.Name),
		Email:  email,
		Avatar: normalize(cfg.Avatar),
	}
	if identity.ID == "" {
		identity.ID = email
	}
	if identity.Name == "" {
		identity.Name = defaultName
	}
	if identity.Avatar == "" {
		identity.Avatar = fmt.Sprintf(avatarURLPattern, url.QueryEscape(email))
	}
	return identity, nil
}

// Validate reports whether the identity carries a usable key.
func (identity Identity) Validate() error {
	_, err := NormalizeEmail(identity.Email)
	return err
}

// Key returns the stable storage key for the identity.
func (identity Identity) Key() string {
	return identity.Email
}

// UnmarshalJSON accepts numeric ids written by older clients.
func (identity *Identity) UnmarshalJSON(data []byte) error {
	type identityAlias Identity
	var raw struct {
		identityAlias
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*identity = Identity(raw.identityAlias)
	identity.ID = ""
	trimmed := bytes.TrimSpace(raw.ID)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		identity.ID = text
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("%w: id must be a string or number", ErrInvalidIdentity)
	}
	identity.ID = number.String()
	return nil
}

// NormalizeEmail trims and lowercases an address and checks that it parses.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(normalize(raw))
	if email == "" {
		return "", fmt.Errorf("%w: empty email", ErrInvalidIdentity)
	}
	if len(email) > maxEmailLength {
		return "", fmt.Errorf("%w: email exceeds %d characters", ErrInvalidIdentity, maxEmailLength)
	}
	address, err := mail.ParseAddress(email)
	if err != nil || address.Address != email {
		return "", fmt.Errorf("%w: malformed email %q", ErrInvalidIdentity, email)
	}
	return email, nil
}

// normalize value helper used across the package.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
