// Package nats provides a sourcez backend for a NATS JetStream key-value
// bucket. Observation uses the native KV Watch API.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/sourcez"
)

// DefaultSeparator joins address segments into a key.
const DefaultSeparator = "."

// Backend maps addresses onto keys of one KV bucket.
type Backend struct {
	kv        jetstream.KeyValue
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
// Default: ".".
func WithSeparator(sep string) Option {
	return func(b *Backend) {
		b.separator = sep
	}
}

// New creates a Backend for the bucket kv.
func New(kv jetstream.KeyValue, opts ...Option) *Backend {
	b := &Backend{
		kv:        kv,
		separator: DefaultSeparator,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the KV key for address.
func (b *Backend) Key(address sourcez.Address) string {
	return address.Key(b.prefix, b.separator)
}

// Watcher returns a Watcher for the key of address.
func (b *Backend) Watcher(address sourcez.Address) *Watcher {
	return &Watcher{kv: b.kv, key: b.Key(address)}
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
	key := b.Key(req.Address)
	entry, err := b.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nats kv get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (b *Backend) set(ctx context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	key := b.Key(req.Address)
	if _, err := b.kv.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("nats kv put %s: %w", key, err)
	}
	return nil, nil
}

// Watcher watches a NATS KV key for changes using the Watch API.
type Watcher struct {
	kv  jetstream.KeyValue
	key string
}

// Watch begins watching the NATS KV key and returns a channel that emits
// the key's value whenever it is put. The current value is emitted
// immediately when the key exists. Deletes and purges are skipped.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	watcher, err := w.kv.Watch(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values
				if entry == nil {
					continue
				}
				if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
					continue
				}

				select {
				case out <- entry.Value():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
