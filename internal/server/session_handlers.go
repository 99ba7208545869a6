package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginRequestPayload struct {
	ID     records.RecordID `json:"id"`
	Name   string           `json:"name"`
	Email  string           `json:"email"`
	Avatar string           `json:"avatar"`
}

type loginResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	Identity    users.Identity `json:"identity"`
	Warning     string         `json:"warning,omitempty"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	identity, err := users.NewIdentity(users.IdentityConfig{
		ID:     request.ID.String(),
		Name:   request.Name,
		Email:  request.Email,
		Avatar: request.Avatar,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_identity"})
		return
	}

	h.sessionMu.Lock()
	warning, err := warningFor(h.store.Login(identity))
	h.sessionMu.Unlock()
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(identity)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.tokens.CookieName(), token, int(expiresIn), "/", "", false, true)
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Identity:    identity,
		Warning:     warning,
	})
}

func (h *httpHandler) handleWhoAmI(c *gin.Context) {
	identity, ok := h.store.CurrentIdentity()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "identity": identity})
}

// handleLogout ends the session only when the token still belongs to the current identity,
// so a stale tab cannot sign out whoever logged in after it.
func (h *httpHandler) handleLogout(c *gin.Context) {
	email := sessionEmail(c)

	h.sessionMu.Lock()
	if !h.isCurrent(email) {
		h.sessionMu.Unlock()
		h.abortStale(c, email)
		return
	}
	warning, err := warningFor(h.store.Logout())
	h.sessionMu.Unlock()
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.decks.forget(email)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.tokens.CookieName(), "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, withWarning(gin.H{"authenticated": false}, warning))
}

const warningNotPersisted = "not_persisted"

// warningFor splits a store result into a user-facing warning and a real failure.
func warningFor(err error) (string, error) {
	if err == nil {
		return "", nil
	}
	if errors.Is(err, records.ErrNotPersisted) {
		return warningNotPersisted, nil
	}
	return "", err
}

func withWarning(response gin.H, warning string) gin.H {
	if warning != "" {
		response["warning"] = warning
	}
	return response
}
