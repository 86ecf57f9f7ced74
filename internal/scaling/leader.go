// Package scaling coordinates work that must run on a single instance when
// several pagepack servers share one database.
package scaling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// BundleBuildLockID is the advisory lock guarding scheduled bundle builds
const BundleBuildLockID int64 = 0x50676B70_00000001 // "Pgkp" + 1

// LeaderElector holds a PostgreSQL advisory lock on a dedicated connection.
// Advisory locks are session scoped, so the connection stays checked out of
// the pool for as long as this instance leads.
type LeaderElector struct {
	pool          *pgxpool.Pool
	lockID        int64
	lockName      string
	checkInterval time.Duration

	mu       sync.RWMutex
	conn     *pgxpool.Conn
	isLeader bool

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

// NewLeaderElector creates an elector for lockID. lockName is only used in logs.
func NewLeaderElector(pool *pgxpool.Pool, lockID int64, lockName string) *LeaderElector {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderElector{
		pool:          pool,
		lockID:        lockID,
		lockName:      lockName,
		checkInterval: 5 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Start runs the election loop in the background. Later calls do nothing.
func (le *LeaderElector) Start() {
	if !le.started.CompareAndSwap(false, true) {
		return
	}

	log.Info().
		Str("lock", le.lockName).
		Int64("lock_id", le.lockID).
		Msg("Starting leader election")

	go le.electionLoop()
}

// Stop ends the election and releases the lock if held. It is safe to call
// when Start never ran.
func (le *LeaderElector) Stop() {
	log.Info().
		Str("lock", le.lockName).
		Bool("was_leader", le.IsLeader()).
		Msg("Stopping leader election")

	le.cancel()
	if le.started.Load() {
		<-le.done
	}
	le.release()
}

// IsLeader reports whether this instance currently holds the lock
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

func (le *LeaderElector) electionLoop() {
	defer close(le.done)

	ticker := time.NewTicker(le.checkInterval)
	defer ticker.Stop()

	le.tick()
	for {
		select {
		case <-le.ctx.Done():
			return
		case <-ticker.C:
			le.tick()
		}
	}
}

func (le *LeaderElector) tick() {
	ctx, cancel := context.WithTimeout(le.ctx, 5*time.Second)
	defer cancel()

	if le.IsLeader() {
		le.mu.RLock()
		conn := le.conn
		le.mu.RUnlock()
		if err := conn.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("lock", le.lockName).Msg("Lost leader lock - this instance is no longer the leader")
			le.release()
		}
		return
	}

	conn, err := le.pool.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Str("lock", le.lockName).Msg("Failed to acquire connection for leader election")
		return
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", le.lockID).Scan(&acquired); err != nil {
		conn.Release()
		log.Error().Err(err).Str("lock", le.lockName).Msg("Failed to try advisory lock")
		return
	}
	if !acquired {
		conn.Release()
		return
	}

	le.mu.Lock()
	le.conn = conn
	le.isLeader = true
	le.mu.Unlock()

	log.Info().Str("lock", le.lockName).Msg("Acquired leader lock - this instance is now the leader")
}

func (le *LeaderElector) release() {
	le.mu.Lock()
	conn := le.conn
	le.conn = nil
	le.isLeader = false
	le.mu.Unlock()

	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var released bool
	if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", le.lockID).Scan(&released); err != nil {
		// a broken session has already dropped the lock
		_ = conn.Conn().Close(ctx)
		log.Debug().Err(err).Str("lock", le.lockName).Msg("Advisory unlock failed")
	} else if released {
		log.Info().Str("lock", le.lockName).Msg("Released leader lock")
	}
	conn.Release()
}
