package records

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
)

var testNow = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%03d", p.next), nil
}

type recordingNotifier struct {
	events []ChangeEvent
}

func (n *recordingNotifier) RecordsChanged(event ChangeEvent) {
	n.events = append(n.events, event)
}

type failingStorage struct {
	kvstore.Storage
	failWrites bool
	// failReadsPrefix makes Get fail for keys with this prefix when non-empty.
	failReadsPrefix string
}

var (
	errDiskFull       = errors.New("disk full")
	errDatabaseLocked = errors.New("database is locked")
)

func (f *failingStorage) Get(key string) (string, bool, error) {
	if f.failReadsPrefix != "" && strings.HasPrefix(key, f.failReadsPrefix) {
		return "", false, errDatabaseLocked
	}
	return f.Storage.Get(key)
}

func (f *failingStorage) Set(key, value string) error {
	if f.failWrites {
		return errDiskFull
	}
	return f.Storage.Set(key, value)
}

func newTestStore(t *testing.T, storage kvstore.Storage) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Storage:    storage,
		Clock:      func() time.Time { return testNow },
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func mustIdentity(t *testing.T, email string) users.Identity {
	t.Helper()
	identity, err := users.NewIdentity(users.IdentityConfig{Email: email, Name: "Test User"})
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}
	return identity
}

func mustLogin(t *testing.T, store *Store, identity users.Identity) {
	t.Helper()
	if err := store.Login(identity); err != nil {
		t.Fatalf("login %s failed: %v", identity.Email, err)
	}
}

func mustStored(t *testing.T, storage kvstore.Storage, key string) string {
	t.Helper()
	value, found, err := storage.Get(key)
	if err != nil {
		t.Fatalf("storage get %s failed: %v", key, err)
	}
	if !found {
		t.Fatalf("expected %s to be stored", key)
	}
	return value
}
