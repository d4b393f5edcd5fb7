// Package http provides a sourcez backend for HTTP resources below a base
// URL. Reads are GET requests, writes are PUT requests, and observation
// polls the resource and emits whenever its body changes.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/sourcez"
)

// DefaultInterval is the default polling interval.
const DefaultInterval = 30 * time.Second

// Backend maps addresses onto URLs below a base URL.
type Backend struct {
	base     string
	client   *http.Client
	interval time.Duration
	clock    clockz.Clock
	header   http.Header
}

// Option configures a Backend.
type Option func(*Backend)

// WithClient sets the HTTP client. Default: http.DefaultClient.
func WithClient(client *http.Client) Option {
	return func(b *Backend) {
		b.client = client
	}
}

// WithInterval sets the polling interval for observation.
// Default: 30s.
func WithInterval(d time.Duration) Option {
	return func(b *Backend) {
		b.interval = d
	}
}

// WithClock sets the clock driving the polling timer.
func WithClock(clock clockz.Clock) Option {
	return func(b *Backend) {
		b.clock = clock
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(b *Backend) {
		b.header.Add(key, value)
	}
}

// New creates a Backend for resources below base.
func New(base string, opts ...Option) *Backend {
	b := &Backend{
		base:     strings.TrimSuffix(base, "/"),
		client:   http.DefaultClient,
		interval: DefaultInterval,
		clock:    clockz.RealClock,
		header:   make(http.Header),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// URL returns the resource URL for address.
func (b *Backend) URL(address sourcez.Address) string {
	return b.base + address.String()
}

// Watcher returns a polling Watcher for the resource of address.
func (b *Backend) Watcher(address sourcez.Address) *Watcher {
	return &Watcher{backend: b, url: b.URL(address)}
}

// Handler returns the backend Handler. Values are raw bytes; a 404 reads
// as nil.
func (b *Backend) Handler() sourcez.Handler {
	return sourcez.Methods{
		Observe: func(ctx context.Context, req sourcez.Request, o sourcez.Observer) func() {
			return sourcez.FromWatcher(ctx, b.Watcher(req.Address)).Subscribe(o).Unsubscribe
		},
		Calls: map[sourcez.Method]sourcez.CallFunc{
			sourcez.Get: func(ctx context.Context, req sourcez.Request) (any, error) {
				body, found, err := b.fetch(ctx, b.URL(req.Address))
				if err != nil || !found {
					return nil, err
				}
				return body, nil
			},
			sourcez.Set: b.put,
		},
	}.Handler()
}

// fetch reads url. found is false for a 404.
func (b *Backend) fetch(ctx context.Context, url string) (body []byte, found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, false, err
	}
	resp, err := b.do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}
	return body, true, nil
}

func (b *Backend) put(ctx context.Context, r sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(r)
	if err != nil {
		return nil, err
	}
	url := b.URL(r.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	resp, err := b.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drained for connection reuse

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("put %s: unexpected status %s", url, resp.Status)
	}
	return nil, nil
}

func (b *Backend) do(req *http.Request) (*http.Response, error) {
	for key, values := range b.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	return resp, nil
}

// Watcher polls one resource and emits its body whenever it changes.
type Watcher struct {
	backend *Backend
	url     string
}

// Watch polls the resource and returns a channel that emits its body when
// it differs from the last emitted body. The first successful poll happens
// immediately. Failed polls and 404s are skipped.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		var (
			last []byte
			seen bool
		)
		poll := func() bool {
			body, found, err := w.backend.fetch(ctx, w.url)
			if err != nil || !found || (seen && bytes.Equal(body, last)) {
				return true
			}
			last, seen = body, true
			select {
			case out <- body:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !poll() {
			return
		}
		timer := w.backend.clock.NewTimer(w.backend.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C():
			}
			if !poll() {
				return
			}
			timer.Reset(w.backend.interval)
		}
	}()

	return out, nil
}
