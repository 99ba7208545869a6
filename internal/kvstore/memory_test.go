package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	storage := NewMemoryStorage()

	_, found, err := storage.Get("current_user")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, storage.Set("current_user", `{"email":"a@example.com"}`))
	value, found, err := storage.Get("current_user")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"email":"a@example.com"}`, value)

	require.NoError(t, storage.Remove("current_user"))
	require.NoError(t, storage.Remove("current_user"))
	assert.Equal(t, 0, storage.Len())
}

func TestMemoryStorageRejectsEmptyKey(t *testing.T) {
	storage := NewMemoryStorage()
	assert.ErrorIs(t, storage.Set("  ", "value"), ErrInvalidKey)
	_, _, err := storage.Get("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryStorageQuota(t *testing.T) {
	storage := NewMemoryStorageWithQuota(10)

	require.NoError(t, storage.Set("k", "12345"))
	err := storage.Set("other", "123456789")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	_, found, err := storage.Get("other")
	require.NoError(t, err)
	assert.False(t, found, "rejected write must not be visible")

	// Replacing a value only counts the delta.
	require.NoError(t, storage.Set("k", "123456789"))
	require.NoError(t, storage.Remove("k"))
	require.NoError(t, storage.Set("other", "12345"))
}
