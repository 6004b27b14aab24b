package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusflow/newsmesh/internal/config"
	"github.com/deusflow/newsmesh/internal/session"
)

// OpenSessionStore selects the session backend from configuration. The
// returned close func is always non-nil.
func OpenSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.SessionBackend {
	case "postgres":
		store, err := session.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.SessionTTL)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres session store: %w", err)
		}
		return store, store.Close, nil

	case "file":
		store := session.NewFileStore(cfg.SessionFile, cfg.SessionTTL)
		if err := store.Load(); err != nil {
			slog.Warn("session file unreadable, starting empty", "path", cfg.SessionFile, "error", err)
		}
		if n := store.Cleanup(); n > 0 {
			slog.Info("expired sessions dropped", "count", n)
		}
		return store, noop, nil

	default:
		return session.NopStore{}, noop, nil
	}
}
