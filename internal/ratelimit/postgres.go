package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// PostgresStore keeps counters in the pagepack_rate_limits table. Counters
// are upserted so concurrent instances converge on one row per key.
type PostgresStore struct {
	db database.Executor
}

// NewPostgresStore creates a store on top of the usage database
func NewPostgresStore(db database.Executor) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the current count for key
func (s *PostgresStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	var count int64
	var expiresAt time.Time

	err := s.db.QueryRow(ctx, `
		SELECT count, expires_at
		FROM pagepack_rate_limits
		WHERE key = $1 AND expires_at > NOW()
	`, key).Scan(&count, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	return count, expiresAt, nil
}

// Increment bumps the counter for key, restarting expired windows
func (s *PostgresStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	expiresAt := time.Now().Add(window)

	var count int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO pagepack_rate_limits (key, count, expires_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN pagepack_rate_limits.expires_at <= NOW() THEN 1
				ELSE pagepack_rate_limits.count + 1
			END,
			expires_at = CASE
				WHEN pagepack_rate_limits.expires_at <= NOW() THEN $2
				ELSE pagepack_rate_limits.expires_at
			END
		RETURNING count
	`, key, expiresAt).Scan(&count)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to increment rate limit counter")
		return 0, err
	}

	return count, nil
}

// Reset drops the counter for key
func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM pagepack_rate_limits WHERE key = $1`, key)
	return err
}

// Close is a no-op; the connection belongs to the caller
func (s *PostgresStore) Close() error {
	return nil
}

// Cleanup deletes expired counters and returns how many were removed
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM pagepack_rate_limits WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
