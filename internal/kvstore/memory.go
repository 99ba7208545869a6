package kvstore

import (
	"fmt"
	"sync"
)

// MemoryStorage keeps entries in process memory. A positive quota bounds the summed size of
// keys and values, mirroring browser storage limits.
type MemoryStorage struct {
	mu         sync.RWMutex
	entries    map[string]string
	quotaBytes int
	usedBytes  int
}

// NewMemoryStorage constructs an unbounded MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return NewMemoryStorageWithQuota(0)
}

// NewMemoryStorageWithQuota constructs a MemoryStorage limited to quotaBytes (0 disables the limit).
func NewMemoryStorageWithQuota(quotaBytes int) *MemoryStorage {
	return &MemoryStorage{
		entries:    make(map[string]string),
		quotaBytes: quotaBytes,
	}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	nextUsed := m.usedBytes + len(value)
	if previous, ok := m.entries[key]; ok {
		nextUsed -= len(previous)
	} else {
		nextUsed += len(key)
	}
	if m.quotaBytes > 0 && nextUsed > m.quotaBytes {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, nextUsed, m.quotaBytes)
	}

	m.entries[key] = value
	m.usedBytes = nextUsed
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if previous, ok := m.entries[key]; ok {
		m.usedBytes -= len(key) + len(previous)
		delete(m.entries, key)
	}
	return nil
}

// Len reports the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
