// Package zookeeper provides a sourcez backend for ZooKeeper nodes.
// Observation uses one-shot data watches, re-armed after every event.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/sourcez"
)

// Backend maps addresses onto znode paths.
type Backend struct {
	conn   *zk.Conn
	prefix string
	acl    []zk.ACL
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix roots every path under prefix, for example "/myapp".
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithACL sets the ACL used for nodes created by SET.
// Default: zk.WorldACL(zk.PermAll).
func WithACL(acl []zk.ACL) Option {
	return func(b *Backend) {
		b.acl = acl
	}
}

// New creates a Backend using conn.
func New(conn *zk.Conn, opts ...Option) *Backend {
	b := &Backend{
		conn: conn,
		acl:  zk.WorldACL(zk.PermAll),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the znode path for address.
func (b *Backend) Path(address sourcez.Address) string {
	return address.Key(b.prefix+"/", "/")
}

// Watcher returns a Watcher for the node of address.
func (b *Backend) Watcher(address sourcez.Address) *Watcher {
	return &Watcher{conn: b.conn, path: b.Path(address)}
}

// Handler returns the backend Handler. Values are raw bytes; a missing
// node reads as nil. SET creates missing nodes and their parents.
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

func (b *Backend) get(_ context.Context, req sourcez.Request) (any, error) {
	path := b.Path(req.Address)
	data, _, err := b.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zookeeper get %s: %w", path, err)
	}
	return data, nil
}

func (b *Backend) set(_ context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	path := b.Path(req.Address)
	_, err = b.conn.Set(path, data, -1)
	if errors.Is(err, zk.ErrNoNode) {
		err = b.create(path, data)
	}
	if err != nil {
		return nil, fmt.Errorf("zookeeper set %s: %w", path, err)
	}
	return nil, nil
}

// create creates path with data, creating empty parents as needed.
func (b *Backend) create(path string, data []byte) error {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	parent := ""
	for _, s := range segments[:len(segments)-1] {
		parent += "/" + s
		if _, err := b.conn.Create(parent, nil, 0, b.acl); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	_, err := b.conn.Create(path, data, 0, b.acl)
	if errors.Is(err, zk.ErrNodeExists) {
		_, err = b.conn.Set(path, data, -1)
	}
	return err
}

// Watcher watches a ZooKeeper node for changes.
type Watcher struct {
	conn *zk.Conn
	path string
}

// Watch begins watching the node and returns a channel that emits its data
// whenever it changes. The current data is emitted immediately when the
// node exists; a missing node is awaited.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		for {
			data, _, eventCh, err := w.conn.GetW(w.path)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Node doesn't exist yet, watch for creation
				exists, _, existCh, err := w.conn.ExistsW(w.path)
				if err != nil {
					return
				}
				if !exists {
					select {
					case <-ctx.Done():
						return
					case <-existCh:
					}
				}
				continue
			}

			select {
			case out <- data:
			case <-ctx.Done():
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-eventCh:
			}
		}
	}()

	return out, nil
}
