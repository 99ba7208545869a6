package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/progress"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const sessionEmailContextKey = "studyaid_session_email"

var (
	errMissingStore        = errors.New("record store dependency required")
	errMissingTracker      = errors.New("progress tracker dependency required")
	errMissingAggregator   = errors.New("progress aggregator dependency required")
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingRealtime     = errors.New("realtime dispatcher dependency required")
)

var defaultAllowedOrigins = []string{"http://localhost:5173"}

// SessionTokenManager issues and validates the tokens that bind a tab to an identity.
type SessionTokenManager interface {
	IssueSessionToken(identity users.Identity) (string, int64, error)
	ValidateToken(token string) (auth.SessionClaims, error)
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

type Dependencies struct {
	Store          *records.Store
	Tracker        *progress.Tracker
	Aggregator     *progress.Aggregator
	TokenManager   SessionTokenManager
	Realtime       *RealtimeDispatcher
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Tracker == nil {
		return nil, errMissingTracker
	}
	if deps.Aggregator == nil {
		return nil, errMissingAggregator
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		store:      deps.Store,
		tracker:    deps.Tracker,
		aggregator: deps.Aggregator,
		tokens:     deps.TokenManager,
		realtime:   deps.Realtime,
		decks:      newDeckRegistry(),
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/session", handler.handleLogin)
	router.GET("/session", handler.handleWhoAmI)
	router.DELETE("/session", handler.authenticate, handler.handleLogout)
	router.GET("/events", handler.authorizeStream, handler.handleEventStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/records", handler.handleGetRecords)
	protected.PUT("/records/:collection", handler.handleSaveRecords)
	protected.POST("/flashcards", handler.handleAddFlashcards)
	protected.DELETE("/flashcards/:id", handler.handleDeleteFlashcard)
	protected.PUT("/flashcards/:id/status", handler.handleFlashcardStatus)
	protected.GET("/flashcards/deck", handler.handleDeck)
	protected.POST("/flashcards/deck/next", handler.handleDeckNext)
	protected.POST("/flashcards/deck/previous", handler.handleDeckPrevious)
	protected.POST("/quizzes", handler.handleRecordQuiz)
	protected.POST("/quiz-stats", handler.handleQuizStats)
	protected.POST("/notes", handler.handleAddNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.POST("/study-time", handler.handleStudyTime)
	protected.GET("/stats", handler.handleStats)

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = defaultAllowedOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	// sessionMu keeps the current identity fixed for the duration of a protected request;
	// login and logout take it exclusively.
	sessionMu  sync.RWMutex
	store      *records.Store
	tracker    *progress.Tracker
	aggregator *progress.Aggregator
	tokens     SessionTokenManager
	realtime   *RealtimeDispatcher
	decks      *deckRegistry
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, ok := h.validateSession(c, false)
	if !ok {
		return
	}

	h.sessionMu.RLock()
	defer h.sessionMu.RUnlock()
	if !h.isCurrent(claims.UserEmail) {
		h.abortStale(c, claims.UserEmail)
		return
	}
	c.Set(sessionEmailContextKey, claims.UserEmail)
	c.Next()
}

// authenticate validates the token without requiring it to match the current identity; the
// handler decides what a stale token may do.
func (h *httpHandler) authenticate(c *gin.Context) {
	claims, ok := h.validateSession(c, false)
	if !ok {
		return
	}
	c.Set(sessionEmailContextKey, claims.UserEmail)
	c.Next()
}

// authorizeStream also accepts ?access_token= since EventSource cannot set headers.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	claims, ok := h.validateSession(c, true)
	if !ok {
		return
	}
	if !h.isCurrent(claims.UserEmail) {
		h.abortStale(c, claims.UserEmail)
		return
	}
	c.Set(sessionEmailContextKey, claims.UserEmail)
	c.Next()
}

func (h *httpHandler) validateSession(c *gin.Context, allowQueryToken bool) (auth.SessionClaims, bool) {
	var (
		claims auth.SessionClaims
		err    error
	)
	if token := strings.TrimSpace(c.Query("access_token")); allowQueryToken && token != "" {
		claims, err = h.tokens.ValidateToken(token)
	} else {
		claims, err = h.tokens.ValidateRequest(c.Request)
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.SessionClaims{}, false
	}
	return claims, true
}

func (h *httpHandler) isCurrent(email string) bool {
	current, ok := h.store.CurrentIdentity()
	return ok && current.Email == email
}

func (h *httpHandler) abortStale(c *gin.Context, email string) {
	h.logger.Info("session token belongs to a replaced identity", zap.String("email", email))
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "identity_changed"})
}

func sessionEmail(c *gin.Context) string {
	return c.GetString(sessionEmailContextKey)
}
