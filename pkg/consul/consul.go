// Package consul provides a sourcez backend for Consul KV. Observation uses
// blocking queries.
package consul

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/sourcez"
)

// Backend maps addresses onto Consul KV keys. Segments are joined with "/".
type Backend struct {
	client *api.Client
	prefix string
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix prepends prefix to every key, for example "myapp/".
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// New creates a Backend using client.
func New(client *api.Client, opts ...Option) *Backend {
	b := &Backend{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the KV key for address.
func (b *Backend) Key(address sourcez.Address) string {
	return address.Key(b.prefix, "/")
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
	key := b.Key(req.Address)
	pair, _, err := b.client.KV().Get(key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("consul get %s: %w", key, err)
	}
	if pair == nil {
		return nil, nil
	}
	return pair.Value, nil
}

func (b *Backend) set(ctx context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	key := b.Key(req.Address)
	if _, err := b.client.KV().Put(&api.KVPair{Key: key, Value: data}, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("consul put %s: %w", key, err)
	}
	return nil, nil
}

// Watcher watches a Consul KV key for changes using blocking queries.
type Watcher struct {
	client *api.Client
	key    string
}

// Watch begins watching the Consul KV key and returns a channel that emits
// the key's value whenever it changes. The current value is emitted
// immediately when the key exists.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	kv := w.client.KV()

	pair, meta, err := kv.Get(w.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex

		if pair != nil {
			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := &api.QueryOptions{
				WaitIndex: lastIndex,
			}
			opts = opts.WithContext(ctx)

			pair, meta, err := kv.Get(w.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			if meta.LastIndex <= lastIndex {
				continue
			}
			lastIndex = meta.LastIndex
			// A deleted key moves the index without a value.
			if pair == nil {
				continue
			}
			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
