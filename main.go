package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yellowcatz/badgegate/internal/auth"
	"github.com/yellowcatz/badgegate/internal/badge"
	"github.com/yellowcatz/badgegate/internal/config"
	"github.com/yellowcatz/badgegate/internal/identity"
	"github.com/yellowcatz/badgegate/internal/oauth"
	"github.com/yellowcatz/badgegate/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Embeds the migration files INTO the go bin, one directory per driver.

//go:embed migrations
var migrationsDir embed.FS

// appStore is everything run() needs from the relational backend.
// Satisfied by *store.PostgresStore and *store.SQLiteStore.
type appStore interface {
	auth.Store
	identity.Store
	badge.Store
	Migrate(ctx context.Context, migrationsFS fs.FS) error
	SeedBadges(ctx context.Context, badges []store.Badge) error
	ListBadges(ctx context.Context) ([]store.Badge, error)
	Close()
}

// stateLedger is auth.StateLedger plus shutdown.
type stateLedger interface {
	auth.StateLedger
	Close() error
}

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (db, ledger) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Run database migrations for the selected driver
	migrationsFS, err := fs.Sub(migrationsDir, "migrations/"+cfg.StoreDriver)
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := db.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Catalog rows are upserted on every start so window changes take effect.
	if err := db.SeedBadges(ctx, badge.Catalog(cfg.LaunchAt, cfg.FoundingWindow)); err != nil {
		return fmt.Errorf("failed to seed badge catalog: %w", err)
	}
	catalog, err := db.ListBadges(ctx)
	if err != nil {
		return fmt.Errorf("failed to load badge catalog: %w", err)
	}

	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}

	h := auth.AuthHandler{
		PS:       db,
		SL:       ledger,
		Provider: provider,
		Sessions: auth.NewSessionCodec([]byte(cfg.SessionSecret), cfg.SessionTTL, cfg.Production()),
		Resolver: identity.NewResolver(db),
		Policy:   badge.NewPolicy(db, catalog),
		Pages: auth.Pages{
			ErrorURL:   cfg.ErrorPageURL,
			LandingURL: cfg.LandingURL,
			HomeURL:    cfg.HomeURL,
		},
		Secure: cfg.Production(),
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(&h)}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("badgegate listening", "addr", ln.Addr().String(),
			"store", cfg.StoreDriver, "founding_window_active", h.Policy.FoundingWindowActive(time.Now()))
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	// Stop accepting, then wait up to 30s for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// openStore connects the relational backend named by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (appStore, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up sqlite store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up postgres store: %w", err)
		}
		return s, nil
	}
}

// openLedger uses Redis when REDIS_URL is set, otherwise a process-local ledger.
func openLedger(ctx context.Context, cfg *config.Config) (stateLedger, error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, consumed oauth states are tracked in-process only")
		return store.NewMemoryStateLedger(), nil
	}
	l, err := store.NewRedisStateLedger(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to set up redis state ledger: %w", err)
	}
	return l, nil
}

// newProvider builds the identity provider client, or returns nil when the
// client is not configured so that login reports config_error.
// OAUTH_ISSUER selects generic OIDC discovery; otherwise X endpoints are used.
func newProvider(ctx context.Context, cfg *config.Config) (oauth.Provider, error) {
	if !cfg.OAuthConfigured() {
		return nil, nil
	}
	cc := oauth.ClientConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		Scopes:       cfg.OAuthScopes,
		Timeout:      cfg.OAuthTimeout,
	}
	if cfg.OAuthIssuer != "" {
		p, err := oauth.NewOIDCProvider(ctx, cfg.OAuthIssuer, cc)
		if err != nil {
			return nil, fmt.Errorf("failed to set up oidc provider: %w", err)
		}
		return p, nil
	}
	return oauth.NewXProvider(cc, oauth.XEndpoints{
		AuthURL:    cfg.OAuthAuthURL,
		TokenURL:   cfg.OAuthTokenURL,
		ProfileURL: cfg.OAuthProfileURL,
	}), nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(h.LoadSession)

	r.Get("/health", h.CheckHealth)
	r.Get("/login", h.Login)
	r.Get("/callback", h.Callback)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)
	r.Get("/status", h.Status)

	// Authentication required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Post("/badge", h.ClaimBadge)
	})

	return r
}
