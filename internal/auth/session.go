// session.go

// Stateless session tokens (HS256 JWT) and cookie management.
package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yellowcatz/badgegate/internal/store"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "yellow_session"

// Session is the verified identity carried by a session token.
type Session struct {
	UserID           uuid.UUID
	ExternalUserID   string
	ExternalUsername string
	ExpiresAt        time.Time
}

// sessionClaims is the JWT body.
type sessionClaims struct {
	UserID           string `json:"userId"`
	ExternalUserID   string `json:"externalUserId"`
	ExternalUsername string `json:"externalUsername"`
	jwt.RegisteredClaims
}

// SessionCodec signs and verifies session tokens with a process-wide secret.
// There is no server-side session store and no revocation; a token stays valid until it expires.
type SessionCodec struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionCodec returns a codec issuing tokens valid for ttl.
// secure sets the Secure attribute on the session cookie.
func NewSessionCodec(secret []byte, ttl time.Duration, secure bool) *SessionCodec {
	return &SessionCodec{secret: secret, ttl: ttl, secure: secure, now: time.Now}
}

// WithClock overrides the time source for issuance and expiry checks. Used by tests.
func (c *SessionCodec) WithClock(now func() time.Time) *SessionCodec {
	c.now = now
	return c
}

// CreateToken signs {userId, externalUserId, externalUsername} with exp = now + ttl.
func (c *SessionCodec) CreateToken(u *store.User) (string, error) {
	now := c.now()
	claims := sessionClaims{
		UserID:           u.ID.String(),
		ExternalUserID:   u.ExternalUserID,
		ExternalUsername: u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks signature, algorithm and expiry.
// Returns (nil, false) on any failure; never an error.
func (c *SessionCodec) VerifyToken(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, false
	}

	userID, err := uuid.FromString(claims.UserID)
	if err != nil || claims.ExternalUserID == "" {
		return nil, false
	}
	return &Session{
		UserID:           userID,
		ExternalUserID:   claims.ExternalUserID,
		ExternalUsername: claims.ExternalUsername,
		ExpiresAt:        claims.ExpiresAt.Time,
	}, true
}

// SessionFromRequest verifies the session cookie on r.
// A missing or invalid cookie reports false, not an error.
func (c *SessionCodec) SessionFromRequest(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, false
	}
	return c.VerifyToken(cookie.Value)
}

// SetSessionCookie writes the session cookie with HttpOnly, SameSite=Lax and Max-Age = ttl.
func (c *SessionCodec) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.ttl.Seconds()),
	})
}

// ClearSessionCookie overwrites the session cookie with an empty value and Max-Age=0.
func (c *SessionCodec) ClearSessionCookie(w http.ResponseWriter) {
	// MaxAge<0 is what net/http renders as "Max-Age=0"
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
