package pubsub

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisPubSub implements PubSub with Redis PUBLISH/SUBSCRIBE. Any server
// speaking the Redis protocol works (Redis, Valkey, Dragonfly).
type RedisPubSub struct {
	client redis.UniversalClient
	hub    *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisPubSub connects to url, in the format redis://[password@]host:port[/db]
func NewRedisPubSub(url string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for pub/sub")
	return NewRedisPubSubFromClient(client), nil
}

// NewRedisPubSubFromClient wraps an existing client. Close closes the client.
func NewRedisPubSubFromClient(client redis.UniversalClient) *RedisPubSub {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisPubSub{
		client: client,
		hub:    newHub(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends a message to all subscribers of a channel
func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens one Redis subscription per call
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	ps := r.client.Subscribe(r.ctx, channel)

	// wait for the confirmation so no message published after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := r.hub.add(ctx, channel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { _ = ps.Close() }()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if !sub.send(Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}) {
					log.Warn().Str("channel", channel).Msg("Pub/sub subscriber full, dropping message")
				}
			}
		}
	}()

	return sub.ch, nil
}

// Close releases all resources and closes all subscriptions
func (r *RedisPubSub) Close() error {
	r.cancel()
	r.wg.Wait()
	r.hub.closeAll()
	return r.client.Close()
}
