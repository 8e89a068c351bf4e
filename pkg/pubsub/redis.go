package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var ErrNoChannels = errors.New("no channels to subscribe to")

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type redisSubscriber struct {
	client redis.UniversalClient
	logger *logger.CanonicalLogger

	mu      sync.Mutex
	subs    []*redis.PubSub
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisSubscriber subscribes through an existing client. Close ends the
// subscriptions it opened and leaves the client open.
func NewRedisSubscriber(client redis.UniversalClient, log *logger.CanonicalLogger) Subscriber {
	return &redisSubscriber{client: client, logger: log}
}

// Subscribe subscribes to Redis channels
func (r *redisSubscriber) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	ps := r.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}
	r.logger.Info("subscribed to redis channels", logger.Strings("channels", channels))
	return r.start(ctx, ps), nil
}

// PSubscribe subscribes to Redis channel patterns
func (r *redisSubscriber) PSubscribe(ctx context.Context, patterns ...string) (<-chan Message, error) {
	if len(patterns) == 0 {
		return nil, ErrNoChannels
	}
	ps := r.client.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to psubscribe to %v: %w", patterns, err)
	}
	r.logger.Info("subscribed to redis patterns", logger.Strings("patterns", patterns))
	return r.start(ctx, ps), nil
}

func (r *redisSubscriber) start(ctx context.Context, ps *redis.PubSub) <-chan Message {
	listenCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, 16)

	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.cancels = append(r.cancels, cancel)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.listen(listenCtx, ps, out)
	return out
}

// Close ends every subscription and waits for the listeners to exit.
func (r *redisSubscriber) Close() error {
	r.mu.Lock()
	cancels, subs := r.cancels, r.subs
	r.cancels, r.subs = nil, nil
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, ps := range subs {
		_ = ps.Close()
	}
	r.wg.Wait()
	return nil
}

// listen forwards messages until ctx is done or the subscription is closed
func (r *redisSubscriber) listen(ctx context.Context, ps *redis.PubSub, out chan<- Message) {
	defer r.wg.Done()
	defer close(out)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("stopping redis listener")
			return
		case m, ok := <-ch:
			if !ok {
				r.logger.Debug("redis pubsub channel closed")
				return
			}
			select {
			case out <- Message{Channel: m.Channel, Pattern: m.Pattern, Payload: m.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}
