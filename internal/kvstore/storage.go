// Package kvstore provides the durable, synchronous key-value storage that backs per-user
// study records. Values are opaque strings; callers own their serialization.
package kvstore

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidKey indicates an empty storage key.
	ErrInvalidKey = errors.New("kvstore: invalid key")
	// ErrQuotaExceeded indicates the write would exceed the configured storage quota.
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")
)

// Storage is a synchronous durable key-value store.
type Storage interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)
	// Set writes value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
