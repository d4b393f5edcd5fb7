// Package testing provides test utilities and helpers for sourcez sources,
// streams and bindings.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/sourcez"
)

// TestConfig is a standard configuration document for binding tests.
type TestConfig struct {
	Port    int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	Host    string `yaml:"host" json:"host" validate:"required"`
	Timeout int    `yaml:"timeout" json:"timeout" validate:"min=0"`
}

// DecodeTestConfig converts a decoded document, as produced by a JSON or
// YAML Transcode route, into a validated TestConfig.
func DecodeTestConfig(v any) (TestConfig, error) {
	return sourcez.Decode[TestConfig](sourcez.JSONCodec{}, v)
}

// ValidatingCallback returns a binding callback that decodes each value
// into a TestConfig, validates it and hands it to apply.
func ValidatingCallback(apply func(TestConfig)) func(context.Context, any, any) error {
	return sourcez.Validated(sourcez.JSONCodec{}, func(_ context.Context, _, curr TestConfig) error {
		if apply != nil {
			apply(curr)
		}
		return nil
	})
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForState waits until the binding reaches the expected state or timeout occurs.
func WaitForState(t *testing.T, b *sourcez.Binding, expected sourcez.State, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return b.State() == expected
	})
}

// RequireState fails the test immediately if the binding is not in the expected state.
func RequireState(t *testing.T, b *sourcez.Binding, expected sourcez.State) {
	t.Helper()
	if got := b.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// RequireValue fails the test if the binding has no current value or the
// value fails check.
func RequireValue(t *testing.T, b *sourcez.Binding, check func(any) bool) {
	t.Helper()
	v, ok := b.Current()
	if !ok {
		t.Fatal("expected a current value, got none")
	}
	if !check(v) {
		t.Fatalf("value check failed: %+v", v)
	}
}

// NewTestBinding creates an unstarted binding over a Behavior holding
// initial. Values pushed with Next are delivered synchronously. The binding
// is stopped when the test ends.
func NewTestBinding(t *testing.T, initial any, callback func(context.Context, any, any) error) (*sourcez.Binding, *sourcez.Behavior) {
	t.Helper()
	subject := sourcez.NewBehavior(initial)
	b := sourcez.Bind(subject, callback)
	t.Cleanup(b.Stop)
	return b, subject
}

// Recorder collects everything a stream delivers.
type Recorder struct {
	mu        sync.Mutex
	values    []any
	err       error
	completed bool
}

// Record subscribes a Recorder to s. The subscription ends with the test.
func Record(t *testing.T, s sourcez.Subscribable) *Recorder {
	t.Helper()
	r := &Recorder{}
	sub := s.Subscribe(sourcez.Observer{
		Next: func(v any) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
		},
		Error: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		},
		Complete: func() {
			r.mu.Lock()
			r.completed = true
			r.mu.Unlock()
		},
	})
	t.Cleanup(sub.Unsubscribe)
	return r
}

// Values returns a copy of the values received so far.
func (r *Recorder) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

// Last returns the most recent value.
func (r *Recorder) Last() (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return nil, false
	}
	return r.values[len(r.values)-1], true
}

// Err returns the terminal error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Completed reports whether the stream completed.
func (r *Recorder) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// WaitForValues waits until at least n values have arrived.
func (r *Recorder) WaitForValues(t *testing.T, n int, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return len(r.Values()) >= n
	})
}
