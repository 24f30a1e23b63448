package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/tillworks/possync/internal/audit"
	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/config"
	"github.com/tillworks/possync/internal/dispatch"
	"github.com/tillworks/possync/internal/localstore"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/obs"
	"github.com/tillworks/possync/internal/outbox"
	"github.com/tillworks/possync/internal/remote"
	"github.com/tillworks/possync/internal/session"
)

const lookupTTL = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	db, err := localstore.InitDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	identity := session.NewHTTPIdentityClient(cfg.IdentityURL, httpClient, logger)
	sessions := session.NewManager(session.NewSQLiteRepository(db), identity, logger)

	if cfg.Login {
		return login(ctx, cfg, sessions)
	}

	registry, err := newRegistry()
	if err != nil {
		return fmt.Errorf("resource registry: %w", err)
	}

	transport := remote.NewTransport(cfg.RestBaseURL, httpClient, sessions, logger)
	dispatcher := dispatch.NewDispatcher(
		outbox.NewSQLiteRepository(db),
		audit.NewSQLiteWriter(db),
		localstore.NewSQLiteStore(db),
		transport,
		registry,
		cache.NewLookup(lookupTTL),
		logger,
		"syncd",
	)

	if cfg.MetricsAddr != "" {
		obs.Init()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", obs.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error(ctx, "metrics server stopped", "err", err.Error())
			}
		}()
	}

	logger.Info(ctx, "sync engine started", "tenant", cfg.TenantID, "interval", cfg.SyncInterval)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		if _, err := dispatcher.RunPass(ctx, cfg.TenantID); err != nil {
			logger.Error(ctx, "sync pass error", "err", err.Error())
		}
		select {
		case <-ctx.Done():
			logger.Info(ctx, "shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// login prompts for a password on the terminal and seeds credentials via the
// password grant.
func login(ctx context.Context, cfg *config.Config, sessions *session.Manager) error {
	if cfg.Email == "" {
		return fmt.Errorf("login requires an email (-e)")
	}
	fmt.Printf("password for %s: ", cfg.Email)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if err := sessions.Login(ctx, cfg.TenantID, cfg.APIKey, cfg.Email, string(password)); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	fmt.Println("authenticated")
	return nil
}
