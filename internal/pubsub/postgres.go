package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// maxNotifyPayload is the PostgreSQL NOTIFY payload limit
const maxNotifyPayload = 8000

// PostgresPubSub uses LISTEN/NOTIFY on a dedicated pooled connection. The
// channels to listen on are fixed at construction because the listening
// connection is busy waiting for notifications.
type PostgresPubSub struct {
	pool     *pgxpool.Pool
	channels []string
	hub      *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPostgresPubSub creates a PostgreSQL-backed pub/sub listening on channels
func NewPostgresPubSub(pool *pgxpool.Pool, channels ...string) *PostgresPubSub {
	ctx, cancel := context.WithCancel(context.Background())
	return &PostgresPubSub{
		pool:     pool,
		channels: channels,
		hub:      newHub(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening. It is safe to call more than once.
func (p *PostgresPubSub) Start() {
	p.once.Do(func() {
		p.wg.Add(1)
		go p.listenLoop()
		log.Info().Strs("channels", p.channels).Msg("PostgreSQL pub/sub started")
	})
}

func (p *PostgresPubSub) listenLoop() {
	defer p.wg.Done()

	for p.ctx.Err() == nil {
		if err := p.listen(); err != nil && p.ctx.Err() == nil {
			log.Error().Err(err).Msg("PostgreSQL pub/sub connection lost, reconnecting")
			select {
			case <-p.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// listen holds one connection until it fails or the pub/sub is closed
func (p *PostgresPubSub) listen() error {
	conn, err := p.pool.Acquire(p.ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	for _, ch := range p.channels {
		if _, err := conn.Exec(p.ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("failed to LISTEN on %s: %w", ch, err)
		}
	}

	for {
		n, err := conn.Conn().WaitForNotification(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				// the connection may be mid-wait; do not return it to the pool
				_ = conn.Conn().Close(context.Background())
				return nil
			}
			return err
		}
		p.hub.deliver(Message{Channel: n.Channel, Payload: []byte(n.Payload)})
	}
}

// Publish sends a message to all subscribers of a channel
func (p *PostgresPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("payload too large for PostgreSQL NOTIFY: %d bytes (max %d)", len(payload), maxNotifyPayload)
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives messages published to the given channel
func (p *PostgresPubSub) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	if !p.listensOn(channel) {
		return nil, fmt.Errorf("not listening on channel %q", channel)
	}
	if p.ctx.Err() != nil {
		return nil, errors.New("pub/sub is closed")
	}
	p.Start()
	return p.hub.add(ctx, channel).ch, nil
}

func (p *PostgresPubSub) listensOn(channel string) bool {
	for _, ch := range p.channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// Close stops listening and closes every subscription
func (p *PostgresPubSub) Close() error {
	p.cancel()
	p.wg.Wait()
	p.hub.closeAll()
	log.Info().Msg("PostgreSQL pub/sub closed")
	return nil
}
