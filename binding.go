package sourcez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// ErrStreamCompleted is reported by Start and Retry when the stream
// completes before emitting a value.
var ErrStreamCompleted = errors.New("stream completed without a value")

// Binding subscribes to a stream and delivers every value to application
// code together with the previous one. A failing callback keeps the
// previous value current and degrades the Binding; a later value that the
// callback accepts resolves it again.
type Binding struct {
	source         Subscribable
	fn             func(ctx context.Context, prev, curr any) error
	startupTimeout time.Duration
	clock          clockz.Clock
	metrics        MetricsProvider
	onStop         func(State)

	state        atomic.Int32
	lastError    atomic.Pointer[error]
	errorHistory *errorRing

	mu         sync.Mutex
	started    bool
	generation uint64
	sub        Subscription
	done       chan struct{}
	current    any
	hasCurrent bool
}

// Bind creates a Binding that applies the values of source with fn. A nil
// fn only tracks the latest value. Call Start to subscribe.
//
// Example:
//
//	stream, _ := src.Observe(ctx, "/settings/app.json")
//	b := sourcez.Bind(stream, func(ctx context.Context, prev, curr any) error {
//	    return app.Reconfigure(curr)
//	}).StartupTimeout(5 * time.Second)
//
//	if err := b.Start(ctx); err != nil {
//	    log.Printf("initial value failed: %v", err)
//	}
func Bind(source Subscribable, fn func(ctx context.Context, prev, curr any) error) *Binding {
	b := &Binding{
		source: source,
		fn:     fn,
		clock:  clockz.RealClock,
	}
	b.state.Store(int32(StatePending))
	return b
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// StartupTimeout sets the maximum duration Start and Retry wait for the
// first value or error. When it expires the subscription is dropped and
// the Binding is marked errored.
// Default: no timeout (wait indefinitely). Must be called before Start().
func (b *Binding) StartupTimeout(d time.Duration) *Binding {
	b.startupTimeout = d
	return b
}

// Clock sets a custom clock for the startup timeout.
// Use this with clockz.FakeClock for deterministic tests.
// Must be called before Start().
func (b *Binding) Clock(clock clockz.Clock) *Binding {
	b.clock = clock
	return b
}

// Metrics sets a metrics provider that receives state transitions.
// Must be called before Start().
func (b *Binding) Metrics(provider MetricsProvider) *Binding {
	b.metrics = provider
	return b
}

// OnStop sets a callback invoked when the subscription ends, because of
// Stop, a canceled context, or the stream terminating. It receives the
// final state. Must be called before Start().
func (b *Binding) OnStop(fn func(State)) *Binding {
	b.onStop = fn
	return b
}

// ErrorHistorySize sets the number of recent errors to retain.
// When set, ErrorHistory() returns up to this many recent errors.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (b *Binding) ErrorHistorySize(n int) *Binding {
	b.errorHistory = newErrorRing(n)
	return b
}

// State returns the current state of the Binding.
func (b *Binding) State() State {
	return State(b.state.Load())
}

// Current returns the last applied value and true, or nil and false if no
// value has been applied.
func (b *Binding) Current() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.hasCurrent
}

// LastError returns the last error encountered, or nil once a value has
// been applied since.
func (b *Binding) LastError() error {
	ptr := b.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (b *Binding) ErrorHistory() []error {
	return b.errorHistory.all()
}

// Start subscribes to the stream. It blocks until the first value has been
// applied or the first error occurred, and returns that error. Values keep
// flowing in the background until Stop is called, ctx is canceled, or the
// stream terminates.
//
// Start can only be called once. Use Retry to resubscribe.
func (b *Binding) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("binding already started")
	}
	b.started = true
	b.mu.Unlock()

	return b.run(ctx)
}

// Retry drops the current subscription, if any, and subscribes again,
// blocking like Start. The last applied value stays current until a new
// one arrives.
func (b *Binding) Retry(ctx context.Context) error {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	b.detach()
	return b.run(ctx)
}

// Stop ends the subscription. The last applied value stays current.
func (b *Binding) Stop() {
	if b.detach() {
		b.stopped(context.Background())
	}
}

// run subscribes and waits for the first outcome of the new subscription.
func (b *Binding) run(ctx context.Context) error {
	b.mu.Lock()
	b.generation++
	gen := b.generation
	done := make(chan struct{})
	b.done = done
	b.mu.Unlock()

	capitan.Emit(ctx, BindingStarted, KeyState.Field(b.State().String()))

	var (
		once  sync.Once
		first = make(chan error, 1)
	)
	signal := func(err error) {
		once.Do(func() { first <- err })
	}

	sub := b.source.Subscribe(Observer{
		Next: func(v any) {
			if !b.live(gen) {
				return
			}
			signal(b.apply(ctx, v))
		},
		Error: func(err error) {
			if !b.live(gen) {
				return
			}
			b.fail(ctx, err)
			signal(err)
			b.ended(ctx, gen)
		},
		Complete: func() {
			if !b.live(gen) {
				return
			}
			signal(ErrStreamCompleted)
			b.ended(ctx, gen)
		},
	})

	b.mu.Lock()
	if b.generation == gen {
		b.sub = sub
	} else {
		b.mu.Unlock()
		sub.Unsubscribe()
		select {
		case err := <-first:
			return err
		default:
			return nil
		}
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			if b.detachGeneration(gen) {
				b.stopped(ctx)
			}
		case <-done:
		}
	}()

	startupCtx := ctx
	if b.startupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = b.clock.WithTimeout(ctx, b.startupTimeout)
		defer cancel()
	}

	select {
	case err := <-first:
		return err
	case <-startupCtx.Done():
		// The first outcome may have raced the deadline.
		select {
		case err := <-first:
			return err
		default:
		}
		err := startupCtx.Err()
		if b.startupTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("startup timeout: stream did not emit within %v", b.startupTimeout)
		}
		if b.detachGeneration(gen) {
			b.fail(ctx, err)
			b.stopped(ctx)
		}
		return err
	}
}

// apply runs the callback for v and records the outcome.
func (b *Binding) apply(ctx context.Context, v any) error {
	b.mu.Lock()
	prev := b.current
	b.mu.Unlock()

	if b.fn != nil {
		if err := b.fn(ctx, prev, v); err != nil {
			capitan.Emit(ctx, BindingApplyFailed, KeyError.Field(err.Error()))
			b.fail(ctx, err)
			return fmt.Errorf("apply failed: %w", err)
		}
	}

	b.mu.Lock()
	b.current, b.hasCurrent = v, true
	b.mu.Unlock()

	b.lastError.Store(nil)
	b.errorHistory.clear()
	b.transitionState(ctx, StateResolved)
	return nil
}

// fail records err and moves to the failure state.
func (b *Binding) fail(ctx context.Context, err error) {
	e := err
	b.lastError.Store(&e)
	b.errorHistory.push(err)

	next := StateErrored
	if _, ok := b.Current(); ok {
		next = StateDegraded
	}
	b.transitionState(ctx, next)
}

// transitionState updates the state and emits a state change event if changed.
func (b *Binding) transitionState(ctx context.Context, newState State) {
	oldState := State(b.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	capitan.Emit(ctx, BindingStateChanged,
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if b.metrics != nil {
		b.metrics.OnStateChange(oldState, newState)
	}
}

func (b *Binding) live(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation == gen
}

// ended handles termination of the stream of generation gen.
func (b *Binding) ended(ctx context.Context, gen uint64) {
	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return
	}
	b.retire()
	b.mu.Unlock()
	b.stopped(ctx)
}

// retire ends the live generation. Callers hold b.mu.
func (b *Binding) retire() Subscription {
	sub := b.sub
	b.sub = nil
	b.generation++
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
	return sub
}

// detach drops the live subscription and reports whether there was one.
func (b *Binding) detach() bool {
	b.mu.Lock()
	sub := b.retire()
	b.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.Unsubscribe()
	return true
}

// detachGeneration drops the subscription only while gen is live.
func (b *Binding) detachGeneration(gen uint64) bool {
	b.mu.Lock()
	if b.generation != gen {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()
	return b.detach()
}

func (b *Binding) stopped(ctx context.Context) {
	final := b.State()
	capitan.Emit(ctx, BindingStopped, KeyState.Field(final.String()))
	if b.onStop != nil {
		b.onStop(final)
	}
}
