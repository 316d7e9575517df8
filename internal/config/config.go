// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default X (Twitter) OAuth2 endpoints, used unless OAUTH_ISSUER or the
// explicit endpoint overrides are set.
const (
	DefaultAuthURL    = "https://twitter.com/i/oauth2/authorize"
	DefaultTokenURL   = "https://api.twitter.com/2/oauth2/token"
	DefaultProfileURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url"
)

// DefaultXScopes are requested from X when OAUTH_SCOPES is unset.
var DefaultXScopes = []string{"tweet.read", "users.read"}

// minSecretLen is the shortest accepted HMAC key for session tokens.
const minSecretLen = 32

// Config holds all env configuration vars for the badge service.
type Config struct {
	DatabaseURL string     `env:"DATABASE_URL"`
	StoreDriver string     `env:"STORE_DRIVER" envDefault:"postgres"`
	RedisURL    string     `env:"REDIS_URL"`
	Port        string     `env:"PORT" envDefault:"7865"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string     `env:"APP_ENV" envDefault:"development"`

	// Session token signing. TTL defaults to 7 days.
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	// Identity provider client registration. All optional at startup; the
	// login leg reports config_error while ClientID or RedirectURL is empty.
	// Empty ClientSecret selects public-client token exchange.
	OAuthClientID     string        `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string        `env:"OAUTH_CLIENT_SECRET"`
	OAuthRedirectURL  string        `env:"OAUTH_REDIRECT_URL"`
	OAuthScopes       []string      `env:"OAUTH_SCOPES" envSeparator:","`
	OAuthIssuer       string        `env:"OAUTH_ISSUER"`
	OAuthAuthURL      string        `env:"OAUTH_AUTH_URL"`
	OAuthTokenURL     string        `env:"OAUTH_TOKEN_URL"`
	OAuthProfileURL   string        `env:"OAUTH_PROFILE_URL"`
	OAuthTimeout      time.Duration `env:"OAUTH_TIMEOUT" envDefault:"10s"`

	// Founding badge window. Zero LaunchAt means the window never opens.
	LaunchAt       time.Time     `env:"LAUNCH_AT"`
	FoundingWindow time.Duration `env:"FOUNDING_WINDOW" envDefault:"24h"`

	// Browser redirect targets.
	ErrorPageURL string `env:"ERROR_PAGE_URL" envDefault:"/yellow.html"`
	LandingURL   string `env:"LANDING_URL" envDefault:"/status.html"`
	HomeURL      string `env:"HOME_URL" envDefault:"/index.html"`
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, SESSION_SECRET) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "sqlite" {
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", cfg.StoreDriver)
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if len(cfg.SessionSecret) < minSecretLen {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSecretLen)
	}

	// Durations must be positive; a zero TTL would issue already-expired sessions.
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}
	if cfg.OAuthTimeout <= 0 {
		return nil, fmt.Errorf("OAUTH_TIMEOUT must be positive")
	}
	if cfg.FoundingWindow <= 0 {
		return nil, fmt.Errorf("FOUNDING_WINDOW must be positive")
	}

	if cfg.OAuthAuthURL == "" {
		cfg.OAuthAuthURL = DefaultAuthURL
	}
	if cfg.OAuthTokenURL == "" {
		cfg.OAuthTokenURL = DefaultTokenURL
	}
	if cfg.OAuthProfileURL == "" {
		cfg.OAuthProfileURL = DefaultProfileURL
	}

	scopes := cfg.OAuthScopes[:0]
	for _, s := range cfg.OAuthScopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	cfg.OAuthScopes = scopes
	// X scopes apply only to the fixed X endpoints; OIDC picks its own.
	if len(cfg.OAuthScopes) == 0 && cfg.OAuthIssuer == "" {
		cfg.OAuthScopes = append([]string(nil), DefaultXScopes...)
	}

	if !cfg.OAuthConfigured() {
		slog.Warn("oauth client not configured, login will report config_error",
			"client_id_set", cfg.OAuthClientID != "", "redirect_url_set", cfg.OAuthRedirectURL != "")
	}

	return cfg, nil
}

// Production reports whether the service runs behind TLS in production mode.
// Controls the Secure attribute on every cookie.
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// OAuthConfigured reports whether the provider client id and callback URL are set.
func (c *Config) OAuthConfigured() bool {
	return c.OAuthClientID != "" && c.OAuthRedirectURL != ""
}
