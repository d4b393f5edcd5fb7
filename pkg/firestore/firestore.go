// Package firestore provides a sourcez backend for Firestore documents.
// Addresses name a document path, /<collection>/<document> or deeper
// subcollection paths; the value lives in one field of the document.
package firestore

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/sourcez"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultField holds the value inside each document.
const DefaultField = "data"

// Backend maps addresses onto Firestore documents.
type Backend struct {
	client *firestore.Client
	field  string
}

// Option configures a Backend.
type Option func(*Backend)

// WithField sets the document field holding the value.
// Defaults to "data".
func WithField(field string) Option {
	return func(b *Backend) {
		b.field = field
	}
}

// New creates a Backend using client.
func New(client *firestore.Client, opts ...Option) *Backend {
	b := &Backend{
		client: client,
		field:  DefaultField,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Doc returns the document reference named by address.
func (b *Backend) Doc(address sourcez.Address) (*firestore.DocumentRef, error) {
	var doc *firestore.DocumentRef
	if len(address) >= 2 && len(address)%2 == 0 {
		doc = b.client.Doc(strings.Join(address, "/"))
	}
	if doc == nil {
		return nil, &sourcez.RequestError{
			Kind:    sourcez.ErrInvalidAddress,
			Address: address,
			Detail:  "expected /<collection>/<document>",
		}
	}
	return doc, nil
}

// Watcher returns a Watcher for the document named by address.
func (b *Backend) Watcher(address sourcez.Address) (*Watcher, error) {
	doc, err := b.Doc(address)
	if err != nil {
		return nil, err
	}
	return &Watcher{doc: doc, field: b.field}, nil
}

// Handler returns the backend Handler. Values are raw bytes; a missing
// document or field reads as nil.
func (b *Backend) Handler() sourcez.Handler {
	return sourcez.Methods{
		Observe: func(ctx context.Context, req sourcez.Request, o sourcez.Observer) func() {
			w, err := b.Watcher(req.Address)
			if err != nil {
				o.Error(err)
				return nil
			}
			return sourcez.FromWatcher(ctx, w).Subscribe(o).Unsubscribe
		},
		Calls: map[sourcez.Method]sourcez.CallFunc{
			sourcez.Get: b.get,
			sourcez.Set: b.set,
		},
	}.Handler()
}

func (b *Backend) get(ctx context.Context, req sourcez.Request) (any, error) {
	doc, err := b.Doc(req.Address)
	if err != nil {
		return nil, err
	}
	snap, err := doc.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get %s: %w", doc.Path, err)
	}
	if value := fieldBytes(snap, b.field); value != nil {
		return value, nil
	}
	return nil, nil
}

func (b *Backend) set(ctx context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	doc, err := b.Doc(req.Address)
	if err != nil {
		return nil, err
	}
	_, err = doc.Set(ctx, map[string]any{b.field: data}, firestore.MergeAll)
	if err != nil {
		return nil, fmt.Errorf("firestore set %s: %w", doc.Path, err)
	}
	return nil, nil
}

// Watcher watches a Firestore document for changes using realtime listeners.
type Watcher struct {
	doc   *firestore.DocumentRef
	field string
}

// Watch begins listening to the document and returns a channel that emits
// the field's value whenever the document changes. The current value is
// emitted immediately when the document exists. The channel closes when
// the listener fails.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		snapshots := w.doc.Snapshots(ctx)
		defer snapshots.Stop()

		for {
			snap, err := snapshots.Next()
			if err != nil {
				return
			}
			if !snap.Exists() {
				continue
			}

			value := fieldBytes(snap, w.field)
			if value == nil {
				continue
			}

			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// fieldBytes extracts a bytes or string field from snap.
func fieldBytes(snap *firestore.DocumentSnapshot, field string) []byte {
	if !snap.Exists() {
		return nil
	}
	switch v := snap.Data()[field].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}
