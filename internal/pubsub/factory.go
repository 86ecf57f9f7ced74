package pubsub

import (
	"fmt"

	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// NewPubSub creates a pub/sub on the scaling backend. The pool is required
// for "postgres" and only the given channels can be subscribed to there.
func NewPubSub(cfg config.ScalingConfig, pool *pgxpool.Pool, channels ...string) (PubSub, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalPubSub(), nil

	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres pub/sub backend")
		}
		log.Info().Msg("Using PostgreSQL pub/sub (multi-instance mode)")
		ps := NewPostgresPubSub(pool, channels...)
		ps.Start()
		return ps, nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis pub/sub backend")
		}
		ps, err := NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for pub/sub: %w", err)
		}
		return ps, nil

	default:
		return nil, fmt.Errorf("unknown pub/sub backend: %s (valid options: local, postgres, redis)", cfg.Backend)
	}
}
