package pubsub

import "context"

// Message represents a pub/sub message
type Message struct {
	Channel string
	Pattern string
	Payload string
}

// Subscriber defines the interface for subscribing to messages
type Subscriber interface {
	// Subscribe subscribes to one or more channels and returns a message channel.
	// The channel is closed once the subscription ends.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	// PSubscribe is Subscribe with glob patterns.
	PSubscribe(ctx context.Context, patterns ...string) (<-chan Message, error)
	Close() error
}
