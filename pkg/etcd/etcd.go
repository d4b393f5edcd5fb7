// Package etcd provides a sourcez backend for etcd keys. Observation uses
// the native Watch API.
package etcd

import (
	"context"
	"fmt"

	"github.com/zoobzio/sourcez"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Backend maps addresses onto etcd keys. Keys keep the leading "/" of the
// address unless a prefix is set.
type Backend struct {
	client *clientv3.Client
	prefix string
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix prepends prefix to every key, for example "/myapp/".
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// New creates a Backend using client.
func New(client *clientv3.Client, opts ...Option) *Backend {
	b := &Backend{client: client, prefix: "/"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the etcd key for address.
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
	resp, err := b.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

func (b *Backend) set(ctx context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	key := b.Key(req.Address)
	if _, err := b.client.Put(ctx, key, string(data)); err != nil {
		return nil, fmt.Errorf("etcd put %s: %w", key, err)
	}
	return nil, nil
}

// Watcher watches an etcd key for changes using the Watch API.
type Watcher struct {
	client *clientv3.Client
	key    string
}

// Watch begins watching the etcd key and returns a channel that emits the
// key's value on every put. The current value is emitted immediately when
// the key exists, and the watch resumes from the revision after it.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	resp, err := w.client.Get(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		if len(resp.Kvs) > 0 {
			select {
			case out <- resp.Kvs[0].Value:
			case <-ctx.Done():
				return
			}
		}

		watchChan := w.client.Watch(ctx, w.key, clientv3.WithRev(resp.Header.Revision+1))

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}

				for _, event := range watchResp.Events {
					if event.Type != clientv3.EventTypePut {
						continue
					}
					select {
					case out <- event.Kv.Value:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}
