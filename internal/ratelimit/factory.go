package ratelimit

import (
	"fmt"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/fluxbase-eu/pagepack/internal/database"
	"github.com/rs/zerolog/log"
)

// NewStore creates the store selected by cfg.Backend. db is only used by the
// postgres backend.
func NewStore(cfg config.ScalingConfig, db database.Executor) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		log.Info().Msg("Using in-memory rate limit store (single instance mode)")
		return NewMemoryStore(10 * time.Minute), nil

	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("database connection is required for postgres rate limit backend")
		}
		log.Info().Msg("Using PostgreSQL rate limit store (multi-instance mode)")
		return NewPostgresStore(db), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis rate limit backend")
		}
		log.Info().Msg("Using Redis-compatible rate limit store")
		store, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s (valid options: local, postgres, redis)", cfg.Backend)
	}
}
