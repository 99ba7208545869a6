package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/kvstore"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/records", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: auth.ErrExpiredSessionToken},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/records", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: errors.New("signature mismatch")},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	expectError(t, server.do(t, http.MethodGet, "/records", "", ""), http.StatusUnauthorized, "unauthorized")
	expectError(t, server.do(t, http.MethodGet, "/records", "garbage", ""), http.StatusUnauthorized, "unauthorized")
}

func TestSessionLifecycle(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())

	var whoami struct {
		Authenticated bool           `json:"authenticated"`
		Identity      users.Identity `json:"identity"`
	}
	recorder := server.do(t, http.MethodGet, "/session", "", "")
	expectStatus(t, recorder, http.StatusOK)
	decodeBody(t, recorder, &whoami)
	if whoami.Authenticated {
		t.Fatalf("expected anonymous session")
	}

	expectError(t, server.do(t, http.MethodPost, "/session", "", `{"email":"not-an-email"}`), http.StatusBadRequest, "invalid_identity")

	loginRecorder := server.do(t, http.MethodPost, "/session", "", `{"id":1700000000000,"email":"Alice@Example.com","name":"Alice"}`)
	expectStatus(t, loginRecorder, http.StatusOK)
	var login loginResponsePayload
	decodeBody(t, loginRecorder, &login)
	if login.Identity.Email != "alice@example.com" || login.Identity.ID != "1700000000000" {
		t.Fatalf("unexpected identity %#v", login.Identity)
	}
	if login.TokenType != "Bearer" || login.ExpiresIn != 60 {
		t.Fatalf("unexpected token metadata %#v", login)
	}
	cookies := loginRecorder.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != server.issuer.CookieName() || !cookies[0].HttpOnly {
		t.Fatalf("expected an http-only session cookie, got %#v", cookies)
	}

	recorder = server.do(t, http.MethodGet, "/session", "", "")
	decodeBody(t, recorder, &whoami)
	if !whoami.Authenticated || whoami.Identity.Email != "alice@example.com" {
		t.Fatalf("expected alice to be current, got %#v", whoami)
	}

	expectStatus(t, server.do(t, http.MethodDelete, "/session", login.AccessToken, ""), http.StatusOK)
	if _, ok := server.store.CurrentIdentity(); ok {
		t.Fatalf("expected logout to clear the current identity")
	}
	expectError(t, server.do(t, http.MethodGet, "/records", login.AccessToken, ""), http.StatusConflict, "identity_changed")
}

func TestStaleTokenCannotTouchNewIdentity(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	aliceToken := server.login(t, "alice@example.com")
	bobToken := server.login(t, "bob@example.com")

	expectError(t, server.do(t, http.MethodGet, "/records", aliceToken, ""), http.StatusConflict, "identity_changed")
	expectError(t, server.do(t, http.MethodPost, "/notes", aliceToken, `{"title":"t","content":"c"}`), http.StatusConflict, "identity_changed")
	expectError(t, server.do(t, http.MethodDelete, "/session", aliceToken, ""), http.StatusConflict, "identity_changed")

	current, ok := server.store.CurrentIdentity()
	if !ok || current.Email != "bob@example.com" {
		t.Fatalf("expected bob to stay logged in")
	}
	if len(server.store.Records().Notes) != 0 {
		t.Fatalf("stale tab must not write into bob's bundle")
	}
	expectStatus(t, server.do(t, http.MethodGet, "/records", bobToken, ""), http.StatusOK)
}

func TestSessionCookieAuthorizesRequests(t *testing.T) {
	server := newTestServer(t, kvstore.NewMemoryStorage())
	token := server.login(t, "alice@example.com")

	request := httptest.NewRequest(http.MethodGet, "/records", http.NoBody)
	request.AddCookie(&http.Cookie{Name: server.issuer.CookieName(), Value: token})
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, request)
	expectStatus(t, recorder, http.StatusOK)
}

type stubTokenManager struct {
	validateErr error
}

func (s stubTokenManager) IssueSessionToken(users.Identity) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateToken(string) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.validateErr
}

func (s stubTokenManager) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.validateErr
}

func (s stubTokenManager) CookieName() string {
	return "studyaid_session"
}
