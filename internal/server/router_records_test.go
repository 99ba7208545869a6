package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/progress"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
)

func TestRecordsRoundTripAcrossIdentities(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	aliceToken := server.login(t, "alice@example.com")

	expectStatus(t, server.do(t, http.MethodPost, "/notes", aliceToken, `{"title":"Cells","content":"Mitochondria"}`), http.StatusCreated)
	notes := `[{"id":"n1","title":"Saved","content":"Body","date":"2026-03-01T10:00:00Z"}]`
	expectStatus(t, server.do(t, http.MethodPut, "/records/notes", aliceToken, notes), http.StatusOK)
	expectStatus(t, server.do(t, http.MethodDelete, "/session", aliceToken, ""), http.StatusOK)

	bobToken := server.login(t, "bob@example.com")
	var bobRecords recordsResponsePayload
	decodeBody(t, server.do(t, http.MethodGet, "/records", bobToken, ""), &bobRecords)
	if len(bobRecords.Notes) != 0 {
		t.Fatalf("bob must not see alice's notes: %#v", bobRecords.Notes)
	}
	expectStatus(t, server.do(t, http.MethodDelete, "/session", bobToken, ""), http.StatusOK)

	aliceToken = server.login(t, "alice@example.com")
	var aliceRecords recordsResponsePayload
	decodeBody(t, server.do(t, http.MethodGet, "/records", aliceToken, ""), &aliceRecords)
	if len(aliceRecords.Notes) != 1 || aliceRecords.Notes[0].ID != "n1" {
		t.Fatalf("expected alice's saved notes to survive logout, got %#v", aliceRecords.Notes)
	}
}

func TestSaveRecordsErrors(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	token := server.login(t, "alice@example.com")

	expectError(t, server.do(t, http.MethodPut, "/records/achievements", token, `[]`), http.StatusNotFound, "unknown_collection")
	expectError(t, server.do(t, http.MethodPut, "/records/notes", token, `[{"id":"n1","title":"","content":"x","date":"2026-03-01T10:00:00Z"}]`), http.StatusBadRequest, "invalid_request")
	expectError(t, server.do(t, http.MethodPut, "/records/notes", token, ""), http.StatusBadRequest, "invalid_request")
	expectError(t, server.do(t, http.MethodDelete, "/notes/missing", token, ""), http.StatusNotFound, "not_found")
}

func TestDeckFollowsDeletion(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	token := server.login(t, "alice@example.com")

	body := `{"flashcards":[{"question":"q1","answer":"a1"},{"question":"q2","answer":"a2"},{"question":"q3","answer":"a3"}]}`
	var created struct {
		Flashcards []records.Flashcard `json:"flashcards"`
	}
	recorder := server.do(t, http.MethodPost, "/flashcards", token, body)
	expectStatus(t, recorder, http.StatusCreated)
	decodeBody(t, recorder, &created)
	if len(created.Flashcards) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(created.Flashcards))
	}

	var deck deckResponsePayload
	decodeBody(t, server.do(t, http.MethodGet, "/flashcards/deck", token, ""), &deck)
	if deck.Index != 0 || deck.Total != 3 || deck.Card == nil || deck.Card.Question != "q1" {
		t.Fatalf("unexpected initial deck %#v", deck)
	}

	decodeBody(t, server.do(t, http.MethodPost, "/flashcards/deck/previous", token, ""), &deck)
	if deck.Index != 2 {
		t.Fatalf("expected previous to wrap to the last card, got %d", deck.Index)
	}

	var deleted struct {
		Deck deckResponsePayload `json:"deck"`
	}
	recorder = server.do(t, http.MethodDelete, "/flashcards/"+created.Flashcards[2].ID.String(), token, "")
	expectStatus(t, recorder, http.StatusOK)
	decodeBody(t, recorder, &deleted)
	if deleted.Deck.Index != 1 || deleted.Deck.Total != 2 || deleted.Deck.Card.Question != "q2" {
		t.Fatalf("expected cursor to clamp onto the new last card, got %#v", deleted.Deck)
	}

	decodeBody(t, server.do(t, http.MethodPost, "/flashcards/deck/next", token, ""), &deck)
	if deck.Index != 0 {
		t.Fatalf("expected next to wrap to the first card, got %d", deck.Index)
	}

	expectStatus(t, server.do(t, http.MethodPost, "/flashcards", token, `{"flashcards":[{"question":"q4","answer":"a4"}]}`), http.StatusCreated)
	decodeBody(t, server.do(t, http.MethodGet, "/flashcards/deck", token, ""), &deck)
	if deck.Index != 2 || deck.Card.Question != "q4" {
		t.Fatalf("expected cursor on the newly added card, got %#v", deck)
	}
}

func TestQuizzesStudyTimeAndStats(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	token := server.login(t, "alice@example.com")

	var quiz struct {
		Quiz      records.Quiz      `json:"quiz"`
		QuizStats records.QuizStats `json:"quizStats"`
	}
	recorder := server.do(t, http.MethodPost, "/quizzes", token, `{"score":4,"totalQuestions":5,"difficulty":"hard"}`)
	expectStatus(t, recorder, http.StatusCreated)
	decodeBody(t, recorder, &quiz)
	if quiz.QuizStats != (records.QuizStats{Completed: 1, AverageScore: 80}) || quiz.Quiz.Difficulty != records.DifficultyHard {
		t.Fatalf("unexpected quiz response %#v", quiz)
	}

	var stats struct {
		QuizStats records.QuizStats `json:"quizStats"`
	}
	decodeBody(t, server.do(t, http.MethodPost, "/quiz-stats", token, `{"score":60}`), &stats)
	if stats.QuizStats != (records.QuizStats{Completed: 2, AverageScore: 70}) {
		t.Fatalf("unexpected quiz stats %#v", stats.QuizStats)
	}
	expectError(t, server.do(t, http.MethodPost, "/quiz-stats", token, `{}`), http.StatusBadRequest, "invalid_request")
	expectError(t, server.do(t, http.MethodPost, "/quiz-stats", token, `{"score":"eighty"}`), http.StatusBadRequest, "invalid_request")
	expectError(t, server.do(t, http.MethodPost, "/quiz-stats", token, `{"score":180}`), http.StatusBadRequest, "invalid_request")
	expectError(t, server.do(t, http.MethodPost, "/quizzes", token, `{"score":6,"totalQuestions":5}`), http.StatusBadRequest, "invalid_request")

	expectStatus(t, server.do(t, http.MethodPost, "/study-time", token, `{"minutes":30}`), http.StatusCreated)
	expectError(t, server.do(t, http.MethodPost, "/study-time", token, `{"minutes":0}`), http.StatusBadRequest, "invalid_request")

	var created struct {
		Flashcards []records.Flashcard `json:"flashcards"`
	}
	decodeBody(t, server.do(t, http.MethodPost, "/flashcards", token, `{"flashcards":[{"question":"q","answer":"a"}]}`), &created)
	cardPath := "/flashcards/" + created.Flashcards[0].ID.String() + "/status"
	expectStatus(t, server.do(t, http.MethodPut, cardPath, token, `{"status":"mastered"}`), http.StatusOK)
	expectError(t, server.do(t, http.MethodPut, cardPath, token, `{"status":"expert"}`), http.StatusBadRequest, "invalid_request")
	expectError(t, server.do(t, http.MethodPut, "/flashcards/missing/status", token, `{"status":"learning"}`), http.StatusNotFound, "not_found")

	var derived progress.DerivedStats
	decodeBody(t, server.do(t, http.MethodGet, "/stats", token, ""), &derived)
	if derived.QuizAverage != 80 || derived.QuizzesCompleted != 1 {
		t.Fatalf("unexpected rolling average %#v", derived)
	}
	if derived.TotalStudyTime != 30 || derived.FlashcardsMastered != 1 || derived.FlashcardsTotal != 1 {
		t.Fatalf("unexpected progress counters %#v", derived)
	}
	if derived.CurrentStreak != 1 || len(derived.RecentQuizzes) != 1 {
		t.Fatalf("unexpected streak or recent quizzes %#v", derived)
	}
}

func TestWriteFailureIsReportedAsWarning(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorageWithQuota(400))
	token := server.login(t, "alice@example.com")

	body := `{"title":"Long","content":"` + strings.Repeat("x", 500) + `"}`
	recorder := server.do(t, http.MethodPost, "/notes", token, body)
	expectStatus(t, recorder, http.StatusCreated)
	var response struct {
		Warning string `json:"warning"`
	}
	decodeBody(t, recorder, &response)
	if response.Warning != warningNotPersisted {
		t.Fatalf("expected not_persisted warning, got %q", response.Warning)
	}
	if len(server.store.Records().Notes) != 1 {
		t.Fatalf("expected the note to stay in memory")
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	expectStatus(t, server.do(t, http.MethodGet, "/healthz", "", ""), http.StatusOK)

	server.login(t, "alice@example.com")
	recorder := server.do(t, http.MethodGet, "/metrics", "", "")
	expectStatus(t, recorder, http.StatusOK)
	if !strings.Contains(recorder.Body.String(), "studyaid_store_mutations_total") {
		t.Fatalf("expected store mutation metrics to be exported")
	}
}

type lockedRecordsStorage struct {
	kvstore.Storage
	locked bool
}

func (s *lockedRecordsStorage) Get(key string) (string, bool, error) {
	if s.locked && strings.HasPrefix(key, "user_records_") {
		return "", false, errors.New("database is locked")
	}
	return s.Storage.Get(key)
}

func TestUnreadableRecordsRefuseWrites(t *testing.T) {
	storage := &lockedRecordsStorage{Storage: kvstore.NewMemoryStorage()}
	server := newTestServer(t, storage)
	token := server.login(t, "alice@example.com")
	expectStatus(t, server.do(t, http.MethodPost, "/notes", token, `{"title":"Cells","content":"Mitochondria"}`), http.StatusCreated)
	expectStatus(t, server.do(t, http.MethodDelete, "/session", token, ""), http.StatusOK)
	before, _, _ := storage.Get("user_records_alice@example.com")

	storage.locked = true
	recorder := server.do(t, http.MethodPost, "/session", "", `{"email":"alice@example.com","name":"Tester"}`)
	expectStatus(t, recorder, http.StatusOK)
	var login loginResponsePayload
	decodeBody(t, recorder, &login)
	if login.Warning != warningNotPersisted {
		t.Fatalf("expected not_persisted warning on unreadable login, got %q", login.Warning)
	}
	expectError(t, server.do(t, http.MethodPost, "/notes", login.AccessToken, `{"title":"New","content":"Note"}`), http.StatusServiceUnavailable, "storage_unavailable")

	storage.locked = false
	if after, _, _ := storage.Get("user_records_alice@example.com"); after != before {
		t.Fatalf("stored bundle changed while unreadable")
	}
}
