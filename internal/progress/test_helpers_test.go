package progress

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	now     time.Time
	storage *kvstore.MemoryStorage
	store   *records.Store
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:     time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC),
		storage: kvstore.NewMemoryStorage(),
	}
	clock := func() time.Time { return f.now }

	store, err := records.NewStore(records.StoreConfig{
		Storage:    f.storage,
		Clock:      clock,
		IDProvider: records.NewUUIDProvider(),
	})
	require.NoError(t, err)
	tracker, err := NewTracker(TrackerConfig{Storage: f.storage, Source: store, Clock: clock})
	require.NoError(t, err)

	f.store = store
	f.tracker = tracker
	return f
}

func (f *fixture) login(t *testing.T, email string) {
	t.Helper()
	identity, err := users.NewIdentity(users.IdentityConfig{Email: email})
	require.NoError(t, err)
	require.NoError(t, f.store.Login(identity))
}

func day(n int, hour int) time.Time {
	return time.Date(2026, time.January, n, hour, 0, 0, 0, time.UTC)
}
