// Package redis provides a sourcez backend for Redis string keys. Reads and
// writes use GET and SET; observation uses keyspace notifications.
//
// Observation requires Redis to have keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/sourcez"
)

// DefaultSeparator joins address segments into a key.
const DefaultSeparator = ":"

// Backend maps addresses onto Redis keys.
type Backend struct {
	client    *redis.Client
	prefix    string
	separator string
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix prepends prefix to every key.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// WithSeparator sets the string joining address segments.
// Default: ":".
func WithSeparator(sep string) Option {
	return func(b *Backend) {
		b.separator = sep
	}
}

// New creates a Backend using client.
func New(client *redis.Client, opts ...Option) *Backend {
	b := &Backend{
		client:    client,
		separator: DefaultSeparator,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the Redis key for address.
func (b *Backend) Key(address sourcez.Address) string {
	return address.Key(b.prefix, b.separator)
}

// Watcher returns a Watcher for the key of address.
func (b *Backend) Watcher(address sourcez.Address) *Watcher {
	return &Watcher{client: b.client, key: b.Key(address)}
}

// Handler returns the backend Handler. Values are raw bytes; a missing key
// reads as nil.
func (b *Backend) Handler() sourcez.Handler {
	return sourcez.Methods{
		Observe: func(ctx context.Context, req sourcez.Request, o sourcez.Observer) func() {
			return sourcez.FromWatcher(ctx, b.Watcher(req.Address)).Subscribe(o).Unsubscribe
		},
		Calls: map[sourcez.Method]sourcez.CallFunc{
			sourcez.Get: b.get,
			sourcez.Set: b.set,
		},
	}.Handler()
}

func (b *Backend) get(ctx context.Context, req sourcez.Request) (any, error) {
	val, err := b.client.Get(ctx, b.Key(req.Address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", b.Key(req.Address), err)
	}
	return val, nil
}

func (b *Backend) set(ctx context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	if err := b.client.Set(ctx, b.Key(req.Address), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("redis set %s: %w", b.Key(req.Address), err)
	}
	return nil, nil
}

// Watcher watches a Redis key for changes using keyspace notifications.
type Watcher struct {
	client *redis.Client
	key    string
}

// Watch begins watching the Redis key and returns a channel that emits
// the key's value whenever it is written. The current value is emitted
// immediately when the key exists.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	channel := fmt.Sprintf("__keyspace@%d__:%s", w.client.Options().DB, w.key)
	pubsub := w.client.Subscribe(ctx, channel)

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		val, err := w.client.Get(ctx, w.key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return
		}
		if err == nil {
			select {
			case out <- val:
			case <-ctx.Done():
				return
			}
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				switch msg.Payload {
				case "set", "mset", "setex", "psetex", "setnx", "setrange", "append":
					val, err := w.client.Get(ctx, w.key).Bytes()
					if err != nil {
						continue
					}
					select {
					case out <- val:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}
