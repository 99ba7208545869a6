package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/progress"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type testServer struct {
	handler    http.Handler
	store      *records.Store
	issuer     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
}

func newTestServer(t *testing.T, storage kvstore.Storage) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dispatcher := NewRealtimeDispatcher()
	store, err := records.NewStore(records.StoreConfig{
		Storage:    storage,
		IDProvider: records.NewUUIDProvider(),
		Notifier:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	tracker, err := progress.NewTracker(progress.TrackerConfig{Storage: storage, Source: store})
	if err != nil {
		t.Fatalf("failed to construct tracker: %v", err)
	}
	aggregator, err := progress.NewAggregator(progress.AggregatorConfig{Source: store, Tracker: tracker, Location: time.UTC})
	if err != nil {
		t.Fatalf("failed to construct aggregator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Store:        store,
		Tracker:      tracker,
		Aggregator:   aggregator,
		TokenManager: issuer,
		Realtime:     dispatcher,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testServer{handler: handler, store: store, issuer: issuer, dispatcher: dispatcher}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/session", "", `{"email":"`+email+`","name":"Tester"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login %s failed with %d: %s", email, recorder.Code, recorder.Body.String())
	}
	var response loginResponsePayload
	decodeBody(t, recorder, &response)
	if response.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return response.AccessToken
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, recorder, status)
	expected := `{"error":"` + code + `"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}
