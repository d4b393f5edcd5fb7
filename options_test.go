package sourcez

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/pipz"
)

// flakyBackend fails GET and SET until failures calls have been made.
type flakyBackend struct {
	failures int32
	calls    atomic.Int32
}

func (b *flakyBackend) handler() Handler {
	call := func(_ context.Context, req Request) (any, error) {
		n := b.calls.Add(1)
		if n <= b.failures {
			return nil, errors.New("transient failure")
		}
		return "value at " + req.Address.String(), nil
	}
	return Methods{
		Observe: func(_ context.Context, _ Request, o Observer) func() {
			o.Error(errors.New("observe failure"))
			return nil
		},
		Calls: map[Method]CallFunc{Get: call, Set: call},
	}.Handler()
}

func TestWithRetry_RetriesOnFailure(t *testing.T) {
	backend := &flakyBackend{failures: 2}
	src := New(backend.handler(), WithRetry(3))

	v, err := src.Get(context.Background(), "/a")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if v != "value at /a" {
		t.Errorf("unexpected value %v", v)
	}
	if backend.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", backend.calls.Load())
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	backend := &flakyBackend{failures: 5}
	src := New(backend.handler(), WithRetry(2))

	if _, err := src.Get(context.Background(), "/a"); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if backend.calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", backend.calls.Load())
	}
}

func TestWithBackoff_RetriesWithDelay(t *testing.T) {
	backend := &flakyBackend{failures: 1}
	src := New(backend.handler(), WithBackoff(3, time.Millisecond))

	if _, err := src.Get(context.Background(), "/a"); err != nil {
		t.Fatalf("expected success after backoff, got %v", err)
	}
	if backend.calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", backend.calls.Load())
	}
}

func TestWithTimeout_FailsSlowCalls(t *testing.T) {
	backend := Methods{Calls: map[Method]CallFunc{
		Get: func(ctx context.Context, _ Request) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}.Handler()
	src := New(backend, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := src.Get(context.Background(), "/slow")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestWithFallback_ResolvedValue(t *testing.T) {
	backend := &flakyBackend{failures: 100}
	src := New(backend.handler(), WithFallback(Resolved("default", "fallback value")))

	v, err := src.Get(context.Background(), "/a")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if v != "fallback value" {
		t.Errorf("expected fallback value, got %v", v)
	}
}

func TestWithFallback_DoesNotApplyToObserve(t *testing.T) {
	backend := &flakyBackend{}
	src := New(backend.handler(), WithFallback(Resolved("default", "fallback value")))

	stream, err := src.Observe(context.Background(), "/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := newCollector()
	stream.Subscribe(c.observer())
	c.waitFor(t, func(_ []any, err error, _ bool) bool { return err != nil })

	if values, _, _ := c.snapshot(); len(values) != 0 {
		t.Errorf("expected no fallback values on OBSERVE, got %v", values)
	}
}

func TestWithCircuitBreaker_OpensAfterFailures(t *testing.T) {
	backend := &flakyBackend{failures: 100}
	src := New(backend.handler(), WithCircuitBreaker(2, time.Minute))

	for i := 0; i < 4; i++ {
		if _, err := src.Get(context.Background(), "/a"); err == nil {
			t.Fatalf("call %d: expected an error", i)
		}
	}
	if backend.calls.Load() != 2 {
		t.Errorf("expected the open circuit to stop backend calls at 2, got %d", backend.calls.Load())
	}
}

func TestWithRateLimit_AllowsBurst(t *testing.T) {
	backend := &flakyBackend{}
	src := New(backend.handler(), WithRateLimit(1000, 5))

	for i := 0; i < 5; i++ {
		if _, err := src.Get(context.Background(), "/a"); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	if backend.calls.Load() != 5 {
		t.Errorf("expected 5 calls, got %d", backend.calls.Load())
	}
}

func TestWithErrorHandler_ObservesFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []string
	)
	handler := pipz.Effect("observer", func(_ context.Context, e *pipz.Error[*Call]) error {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, e.InputData.Request.Address.String()+": "+e.Err.Error())
		return nil
	})

	backend := &flakyBackend{failures: 1}
	src := New(backend.handler(), WithErrorHandler(handler))

	if _, err := src.Get(context.Background(), "/a"); err == nil {
		t.Fatal("expected the error to propagate")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || observed[0] != "/a: transient failure" {
		t.Errorf("unexpected observed errors %v", observed)
	}
}

func TestWithMiddleware_RewritesAndObserves(t *testing.T) {
	var seen atomic.Int32
	rewrite := UseApply("rewrite", func(_ context.Context, c *Call) (*Call, error) {
		out := *c
		out.Request = c.Request.WithAddress(Address{"b"})
		return &out, nil
	})
	count := UseEffect("count", func(_ context.Context, _ *Call) error {
		seen.Add(1)
		return nil
	})

	src := New(Memory(map[string]any{"a": 1, "b": 2}), WithMiddleware(count, rewrite))

	v, err := src.Get(context.Background(), "/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 {
		t.Errorf("expected rewritten address to yield 2, got %v", v)
	}
	if seen.Load() != 1 {
		t.Errorf("expected effect to run once, got %d", seen.Load())
	}
}

func TestWithMiddleware_FailureStopsCall(t *testing.T) {
	backend := &flakyBackend{}
	deny := UseApply("deny", func(_ context.Context, c *Call) (*Call, error) {
		if c.Request.Method == Set {
			return c, errors.New("read only")
		}
		return c, nil
	})
	src := New(backend.handler(), WithMiddleware(deny))

	if err := src.Set(context.Background(), "/a", "x"); err == nil {
		t.Fatal("expected the middleware to reject SET")
	}
	if backend.calls.Load() != 0 {
		t.Errorf("expected no backend calls, got %d", backend.calls.Load())
	}
	if _, err := src.Get(context.Background(), "/a"); err != nil {
		t.Errorf("expected GET to pass, got %v", err)
	}
}

func TestOptions_ComposeOutermostLast(t *testing.T) {
	backend := &flakyBackend{failures: 100}
	src := New(backend.handler(),
		WithRetry(3),
		WithFallback(Resolved("default", "fallback value")),
	)

	v, err := src.Get(context.Background(), "/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "fallback value" {
		t.Errorf("expected fallback value, got %v", v)
	}
	if backend.calls.Load() != 3 {
		t.Errorf("expected retries inside the fallback, got %d calls", backend.calls.Load())
	}
}

func TestUseFilter_AppliesToMatchingCalls(t *testing.T) {
	backend := &flakyBackend{}
	readOnly := UseFilter("read-only",
		func(_ context.Context, c *Call) bool { return c.Request.Method == Set },
		UseApply("deny", func(_ context.Context, c *Call) (*Call, error) {
			return c, errors.New("read only")
		}),
	)
	src := New(backend.handler(), WithMiddleware(readOnly))

	if err := src.Set(context.Background(), "/a", "x"); err == nil {
		t.Fatal("expected SET to be denied")
	}
	if _, err := src.Get(context.Background(), "/a"); err != nil {
		t.Errorf("expected GET to skip the filter, got %v", err)
	}
	if backend.calls.Load() != 1 {
		t.Errorf("expected only the GET to reach the backend, got %d", backend.calls.Load())
	}
}
