package pubsub

import (
	"context"
	"sync"
)

// subscriber is one Subscribe call. Sends and close are serialised so a
// message is never sent on a closed channel.
type subscriber struct {
	ch     chan Message
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Message, subscriberBuffer), done: make(chan struct{})}
}

// send delivers msg unless the subscriber is closed or full
func (s *subscriber) send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.done)
	}
}

// hub fans messages out to the local subscribers of each channel
type hub struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
}

func newHub() *hub {
	return &hub{subs: make(map[string][]*subscriber)}
}

func (h *hub) add(ctx context.Context, channel string) *subscriber {
	sub := newSubscriber()

	h.mu.Lock()
	h.subs[channel] = append(h.subs[channel], sub)
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.remove(channel, sub)
		case <-sub.done:
		}
	}()

	return sub
}

func (h *hub) remove(channel string, sub *subscriber) {
	h.mu.Lock()
	subs := h.subs[channel]
	for i, s := range subs {
		if s == sub {
			h.subs[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	sub.close()
}

// deliver returns how many subscribers received msg
func (h *hub) deliver(msg Message) int {
	h.mu.RLock()
	subs := append([]*subscriber(nil), h.subs[msg.Channel]...)
	h.mu.RUnlock()

	n := 0
	for _, sub := range subs {
		if sub.send(msg) {
			n++
		}
	}
	return n
}

func (h *hub) channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.subs))
	for ch, subs := range h.subs {
		if len(subs) > 0 {
			out = append(out, ch)
		}
	}
	return out
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*subscriber
	for _, subs := range h.subs {
		all = append(all, subs...)
	}
	h.subs = make(map[string][]*subscriber)
	h.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}

// LocalPubSub delivers messages within the process. It serves single
// instance deployments, where there is nobody else to notify.
type LocalPubSub struct {
	hub *hub
}

// NewLocalPubSub creates a new local pub/sub
func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{hub: newHub()}
}

// Publish sends a message to all local subscribers of a channel
func (l *LocalPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	l.hub.deliver(Message{Channel: channel, Payload: payload})
	return nil
}

// Subscribe returns a channel that receives messages published to the given channel
func (l *LocalPubSub) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	return l.hub.add(ctx, channel).ch, nil
}

// Close closes every subscription
func (l *LocalPubSub) Close() error {
	l.hub.closeAll()
	return nil
}
