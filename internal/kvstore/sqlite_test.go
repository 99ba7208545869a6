package kvstore

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/metrics"
	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Entry{}))
	return db
}

func TestSQLiteStorageUpsertsEntries(t *testing.T) {
	db := openTestDatabase(t)
	storage, err := NewSQLiteStorage(SQLiteStorageConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)

	require.NoError(t, storage.Set("user_records_a@example.com", `{"notes":[]}`))
	require.NoError(t, storage.Set("user_records_a@example.com", `{"notes":[{"id":"1"}]}`))

	value, found, err := storage.Get("user_records_a@example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"notes":[{"id":"1"}]}`, value)

	var count int64
	require.NoError(t, db.Model(&Entry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored Entry
	require.NoError(t, db.Where(queryEntryKey, "user_records_a@example.com").Take(&stored).Error)
	assert.Equal(t, int64(1700000000), stored.UpdatedAtSeconds)
}

func TestSQLiteStorageGetMissingKey(t *testing.T) {
	storage, err := NewSQLiteStorage(SQLiteStorageConfig{Database: openTestDatabase(t)})
	require.NoError(t, err)

	value, found, err := storage.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, value)
}

func TestSQLiteStorageRemove(t *testing.T) {
	storage, err := NewSQLiteStorage(SQLiteStorageConfig{Database: openTestDatabase(t)})
	require.NoError(t, err)

	require.NoError(t, storage.Set("current_user", "{}"))
	require.NoError(t, storage.Remove("current_user"))
	_, found, err := storage.Get("current_user")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStorageReportsFailedWritesAfterRetries(t *testing.T) {
	db := openTestDatabase(t)
	storage, err := NewSQLiteStorage(SQLiteStorageConfig{
		Database:      db,
		WriteAttempts: 2,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	before := testutil.ToFloat64(metrics.StorageWriteFailures.WithLabelValues("set"))
	err = storage.Set("current_user", "{}")
	require.Error(t, err)
	after := testutil.ToFloat64(metrics.StorageWriteFailures.WithLabelValues("set"))
	assert.Equal(t, before+1, after)
}

func TestNewSQLiteStorageRequiresDatabase(t *testing.T) {
	_, err := NewSQLiteStorage(SQLiteStorageConfig{})
	assert.ErrorIs(t, err, errMissingDatabase)
}
