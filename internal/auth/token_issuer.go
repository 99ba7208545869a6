// Package auth issues and validates the session tokens that bind a UI tab to the identity it
// logged in as.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/users"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL   = 12 * time.Hour
	defaultIssuer     = "studyaid"
	defaultAudience   = "studyaid-ui"
	defaultCookieName = "studyaid_session"
	bearerPrefix      = "Bearer "
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingSessionToken  = errors.New("auth: session token required")
	ErrInvalidSessionToken  = errors.New("auth: invalid session token")
	ErrExpiredSessionToken  = errors.New("auth: session token expired")
	ErrMissingSubject       = errors.New("auth: subject required")
)

// SessionClaims is the JWT payload of a session token. The subject is the identity's email.
type SessionClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	UserAvatarURL   string `json:"user_avatar_url"`
	jwt.RegisteredClaims
}

// Identity rebuilds the identity the token was issued for.
func (c SessionClaims) Identity() users.Identity {
	return users.Identity{
		ID:     c.UserID,
		Name:   c.UserDisplayName,
		Email:  c.UserEmail,
		Avatar: c.UserAvatarURL,
	}
}

// TokenIssuerConfig configures session token issuance.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	CookieName    string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 session tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	cookieName    string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with defaults for everything but the secret.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        valueOrDefault(cfg.Issuer, defaultIssuer),
		audience:      valueOrDefault(cfg.Audience, defaultAudience),
		cookieName:    valueOrDefault(cfg.CookieName, defaultCookieName),
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie consulted when a request carries no bearer token.
func (i *TokenIssuer) CookieName() string {
	return i.cookieName
}

// IssueSessionToken signs a token for identity and returns it with its lifetime in seconds.
func (i *TokenIssuer) IssueSessionToken(identity users.Identity) (string, int64, error) {
	subject := strings.TrimSpace(identity.Key())
	if subject == "" {
		return "", 0, ErrMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl).UTC()
	claims := SessionClaims{
		UserID:          identity.ID,
		UserEmail:       identity.Email,
		UserDisplayName: identity.Name,
		UserAvatarURL:   identity.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken verifies signature, issuer, audience, and expiry, and returns the claims.
func (i *TokenIssuer) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Subject != claims.UserEmail {
		return SessionClaims{}, ErrMissingSubject
	}
	return *claims, nil
}

// ValidateRequest reads the bearer token, falling back to the session cookie, and validates it.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return SessionClaims{}, ErrInvalidSessionToken
		}
		return i.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	cookie, err := r.Cookie(i.cookieName)
	if err != nil || cookie == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return i.ValidateToken(cookie.Value)
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
