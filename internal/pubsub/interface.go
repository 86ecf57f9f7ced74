// Package pubsub carries notifications between server instances so that a
// build finished on one instance is served by all of them.
package pubsub

import (
	"context"
)

// Message represents a pub/sub message
type Message struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// PubSub is the interface for pub/sub backends. Delivery is best effort:
// subscribers that fall behind drop messages.
type PubSub interface {
	// Publish sends a message to all subscribers of a channel, on every instance
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel that receives messages published to the given
	// channel. It is closed when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	// Close releases all resources and closes all subscriptions
	Close() error
}

// BundlesChannel announces published and cleared bundle builds
const BundlesChannel = "pagepack:bundles"

// subscriberBuffer bounds how far a subscriber may fall behind
const subscriberBuffer = 16
