package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/database"
)

// Open creates the store selected by cfg.Cache.Backend.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Cache.Backend {
	case "", config.CacheBackendNone:
		return Nop{}, nil
	case config.CacheBackendFile:
		return NewFileStore(cfg.Cache.Dir)
	case config.CacheBackendPostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.MigrationAutoRun {
			if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
				db.Close()
				return nil, err
			}
		}
		return NewPostgresStore(db, db.Close), nil
	case config.CacheBackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.Cache.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	m, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
