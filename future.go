package sourcez

import (
	"context"
	"sync"
)

// Awaitable is satisfied by single-shot results.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Future holds the eventual result of a single-shot computation: exactly
// one value or one error.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// NewFuture runs fn synchronously with settle functions for the returned
// Future. Only the first call to resolve or reject takes effect.
func NewFuture(fn func(resolve func(any), reject func(error))) *Future {
	f := newFuture()
	fn(f.resolve, f.reject)
	return f
}

// Go runs fn on a new goroutine and settles the Future with its result.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f := newFuture()
	go func() {
		v, err := fn(ctx)
		f.settle(v, err)
	}()
	return f
}

// Resolve returns a Future already resolved with v.
func Resolve(v any) *Future {
	f := newFuture()
	f.resolve(v)
	return f
}

// Reject returns a Future already rejected with err.
func Reject(err error) *Future {
	f := newFuture()
	f.reject(err)
	return f
}

func (f *Future) resolve(v any) { f.settle(v, nil) }

func (f *Future) reject(err error) { f.settle(nil, err) }

func (f *Future) settle(v any, err error) {
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
	})
}

// Done is closed once the Future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future settles or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then returns a Future settled with fn applied to the value of f. A
// rejection of f is passed through without calling fn.
func (f *Future) Then(fn func(any) (any, error)) *Future {
	next := newFuture()
	chain := func() {
		if f.err != nil {
			next.reject(f.err)
			return
		}
		next.settle(fn(f.value))
	}
	select {
	case <-f.done:
		chain()
	default:
		go func() {
			<-f.done
			chain()
		}()
	}
	return next
}

// AsFuture converts an Awaitable into a *Future. Foreign awaitables are
// awaited on a new goroutine without a deadline.
func AsFuture(a Awaitable) *Future {
	if f, ok := a.(*Future); ok {
		return f
	}
	return Go(context.Background(), a.Await)
}

// All resolves to the values of every future, in order, once all have
// resolved. It rejects with the first rejection without waiting for the
// rest. With no futures it resolves to an empty slice at once.
func All(futures ...Awaitable) *Future {
	if len(futures) == 0 {
		return Resolve([]any{})
	}
	all := newFuture()
	var (
		mu      sync.Mutex
		values  = make([]any, len(futures))
		pending = len(futures)
	)
	for i, a := range futures {
		f := AsFuture(a)
		i := i
		go func() {
			<-f.done
			if f.err != nil {
				all.reject(f.err)
				return
			}
			mu.Lock()
			values[i] = f.value
			pending--
			last := pending == 0
			mu.Unlock()
			if last {
				all.resolve(values)
			}
		}()
	}
	return all
}

// onSettle calls fn with the outcome of f, inline when f has already
// settled and on a new goroutine otherwise.
func (f *Future) onSettle(fn func(v any, err error)) {
	select {
	case <-f.done:
		fn(f.value, f.err)
	default:
		go func() {
			<-f.done
			fn(f.value, f.err)
		}()
	}
}
