// handler.go -- dependencies shared by every HTTP handler in the badge service.
package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/yellowcatz/badgegate/internal/badge"
	"github.com/yellowcatz/badgegate/internal/identity"
	"github.com/yellowcatz/badgegate/internal/oauth"
	"github.com/yellowcatz/badgegate/internal/store"
)

// Store defines the relational operations the handlers call directly.
// Satisfied by *store.PostgresStore and *store.SQLiteStore -- defined here (at consumer) per Go convention.
// User creation and awards go through Resolver and Policy, which hold the same store.
type Store interface {
	// CheckHealth pings the database.
	CheckHealth(ctx context.Context) error

	// GetUserByExternalID fetches the user anchored to a provider id.
	// Returns store.ErrNotFound if absent.
	GetUserByExternalID(ctx context.Context, externalID string) (*store.User, error)
}

// StateLedger records consumed OAuth state values so a callback cannot be replayed.
// Satisfied by *store.RedisStateLedger and *store.MemoryStateLedger.
type StateLedger interface {
	// Consume marks state used for ttl; false means it was already consumed.
	Consume(ctx context.Context, state string, ttl time.Duration) (bool, error)

	// CheckHealth pings the backing service. store.ErrLedgerDisabled means process-local.
	CheckHealth(ctx context.Context) error
}

// Pages are the browser redirect targets.
type Pages struct {
	ErrorURL   string
	LandingURL string
	HomeURL    string
}

// AuthHandler holds dependencies for the login flow, badge and status handlers.
type AuthHandler struct {
	PS Store
	SL StateLedger

	// Provider is nil when no OAuth client is configured; login then reports config_error.
	Provider oauth.Provider

	Sessions *SessionCodec
	Resolver *identity.Resolver
	Policy   *badge.Policy
	Pages    Pages

	// Secure sets the Secure attribute on PKCE cookies.
	Secure bool

	// Now is the clock for window checks and award timestamps. Nil means time.Now.
	Now func() time.Time
}

func (h *AuthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// errorPageURL appends ?error=<tag> to the configured error page.
func (h *AuthHandler) errorPageURL(tag string) string {
	u, err := url.Parse(h.Pages.ErrorURL)
	if err != nil {
		return h.Pages.ErrorURL + "?error=" + url.QueryEscape(tag)
	}
	q := u.Query()
	q.Set("error", tag)
	u.RawQuery = q.Encode()
	return u.String()
}
