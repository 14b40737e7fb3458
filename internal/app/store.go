package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"fitcore/internal/config"
	"fitcore/internal/persist"
)

// openStore opens the configured update counter store. The returned closer
// is nil when there is nothing to release.
func openStore(ctx context.Context, cfg config.PersistenceConfig, paths *config.Paths, logger *slog.Logger) (persist.Store, io.Closer, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil, nil
	case "memory":
		logger.WarnContext(ctx, "update counters kept in memory; rollback protection ends with the process")
		return persist.NewMemoryStore(), nil, nil
	case "file":
		medium, err := persist.OpenFileMedium(paths.StoreFile, 2*int64(cfg.PageSize))
		if err != nil {
			return nil, nil, err
		}
		store, err := persist.OpenLogStore(medium, logger)
		if err != nil {
			medium.Close()
			return nil, nil, fmt.Errorf("failed to mount store %s: %w", paths.StoreFile, err)
		}
		logger.InfoContext(ctx, "persistent store mounted",
			slog.String("path", paths.StoreFile),
			slog.Uint64("generation", uint64(store.Generation())),
		)
		return store, medium, nil
	case "redis":
		store, err := persist.DialRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		logger.InfoContext(ctx, "redis store connected",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
