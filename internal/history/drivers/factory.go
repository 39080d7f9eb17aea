// Package drivers provides the history.Store implementations: an in-process
// memory store (the default), Redis lists and a PostgreSQL table.
package drivers

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/history"
)

// Open creates the history store selected by cfg.Backend and verifies that
// its backing service is reachable.
func Open(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil

	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("%w: redis addr is empty", history.ErrInvalidConfig)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("history store connected", "backend", "redis", "addr", cfg.Redis.Addr)
		return NewRedisStore(client, cfg.Redis.TTL), nil

	case "postgres":
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("%w: postgres dsn is empty", history.ErrInvalidConfig)
		}
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store := NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("history store connected", "backend", "postgres")
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", history.ErrInvalidBackend, cfg.Backend)
	}
}
