package sourcez

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// Observer receives the values of a Stream. Any callback may be nil.
// After Error or Complete no further callbacks are made.
type Observer struct {
	Next     func(any)
	Error    func(error)
	Complete func()
}

// Subscription cancels delivery to one observer.
type Subscription interface {
	// Unsubscribe stops delivery immediately and releases the producer.
	// It is safe to call more than once.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

// Subscribable is satisfied by stream-like OBSERVE results.
type Subscribable interface {
	Subscribe(o Observer) Subscription
}

// Stream is a cold sequence of values terminated by at most one error or
// completion. Nothing happens until Subscribe is called; each subscription
// runs the producer once.
type Stream struct {
	producer func(o Observer) func()
}

// NewStream creates a Stream from a producer. The producer is called once
// per subscription and returns a teardown function (which may be nil) that
// runs when the subscription ends for any reason. Producers must not emit
// concurrently to the same observer.
func NewStream(producer func(o Observer) (teardown func())) *Stream {
	return &Stream{producer: producer}
}

// Subscribe attaches o and starts the producer.
func (s *Stream) Subscribe(o Observer) Subscription {
	sub := &subscriber{obs: o}
	sub.attach(s.producer(sub.observer()))
	return sub
}

// subscriber guards a single observer against delivery after termination
// or unsubscription, and runs the producer teardown exactly once.
type subscriber struct {
	obs  Observer
	done atomic.Bool

	mu       sync.Mutex
	teardown func()
	disposed bool
}

func (s *subscriber) observer() Observer {
	return Observer{Next: s.next, Error: s.fail, Complete: s.complete}
}

func (s *subscriber) next(v any) {
	if s.done.Load() {
		return
	}
	if s.obs.Next != nil {
		s.obs.Next(v)
	}
}

func (s *subscriber) fail(err error) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	if s.obs.Error != nil {
		s.obs.Error(err)
	} else {
		capitan.Emit(context.Background(), StreamErrorUnhandled, KeyError.Field(err.Error()))
	}
	s.dispose()
}

func (s *subscriber) complete() {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	if s.obs.Complete != nil {
		s.obs.Complete()
	}
	s.dispose()
}

// Unsubscribe implements Subscription.
func (s *subscriber) Unsubscribe() {
	s.done.Store(true)
	s.dispose()
}

// attach records the producer teardown. A subscription that already ended
// while the producer was running is torn down immediately.
func (s *subscriber) attach(teardown func()) {
	if teardown == nil {
		return
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		teardown()
		return
	}
	s.teardown = teardown
	s.mu.Unlock()
}

func (s *subscriber) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	teardown := s.teardown
	s.teardown = nil
	s.mu.Unlock()
	if teardown != nil {
		teardown()
	}
}

// trampoline runs tasks one at a time in submission order. A task submitted
// while another is running, from any goroutine or from inside a task, is
// queued and run by the goroutine already draining the queue. A held
// trampoline only queues until resume.
type trampoline struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
	held     bool
}

func (t *trampoline) run(task func()) {
	t.mu.Lock()
	t.queue = append(t.queue, task)
	if t.draining || t.held {
		t.mu.Unlock()
		return
	}
	t.draining = true
	t.drain()
}

func (t *trampoline) hold() {
	t.mu.Lock()
	t.held = true
	t.mu.Unlock()
}

// resume releases a held trampoline and runs whatever queued meanwhile.
func (t *trampoline) resume() {
	t.mu.Lock()
	t.held = false
	if t.draining || len(t.queue) == 0 {
		t.mu.Unlock()
		return
	}
	t.draining = true
	t.drain()
}

// drain is entered with mu held and draining set.
func (t *trampoline) drain() {
	for len(t.queue) > 0 {
		next := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.mu.Unlock()
		next()
		t.mu.Lock()
	}
	t.draining = false
	t.mu.Unlock()
}

// Of returns a Stream that emits values in order and completes.
func Of(values ...any) *Stream {
	return NewStream(func(o Observer) func() {
		for _, v := range values {
			o.Next(v)
		}
		o.Complete()
		return nil
	})
}

// Throw returns a Stream that fails with err on subscription.
func Throw(err error) *Stream {
	return NewStream(func(o Observer) func() {
		o.Error(err)
		return nil
	})
}

// Map returns a Stream applying fn to every value of src. An error from fn
// terminates the stream with that error.
func Map(src Subscribable, fn func(any) (any, error)) *Stream {
	return NewStream(func(o Observer) func() {
		var failed atomic.Bool
		sub := src.Subscribe(Observer{
			Next: func(v any) {
				if failed.Load() {
					return
				}
				out, err := fn(v)
				if err != nil {
					failed.Store(true)
					o.Error(err)
					return
				}
				o.Next(out)
			},
			Error:    o.Error,
			Complete: o.Complete,
		})
		return sub.Unsubscribe
	})
}

// CombineLatest subscribes to every source and, once each has emitted at
// least once, emits a []any holding the latest value of each source in
// order, then again whenever any source emits. The first error from any
// source fails the combined stream. The combined stream completes when all
// sources complete, or as soon as one completes without ever emitting.
// With no sources it emits an empty slice and completes.
func CombineLatest(sources ...Subscribable) *Stream {
	if len(sources) == 0 {
		return Of([]any{})
	}
	return NewStream(func(o Observer) func() {
		var (
			loop      trampoline
			latest    = make([]any, len(sources))
			has       = make([]bool, len(sources))
			waiting   = len(sources)
			active    = len(sources)
			finished  bool
			subs      = make([]Subscription, len(sources))
			subsMu    sync.Mutex
			cancelled bool
		)

		stopAll := func() {
			subsMu.Lock()
			cancelled = true
			current := append([]Subscription(nil), subs...)
			subsMu.Unlock()
			for _, s := range current {
				if s != nil {
					s.Unsubscribe()
				}
			}
		}

		for i, src := range sources {
			subsMu.Lock()
			stopped := cancelled
			subsMu.Unlock()
			if stopped {
				break
			}
			i := i
			sub := src.Subscribe(Observer{
				Next: func(v any) {
					loop.run(func() {
						if finished {
							return
						}
						if !has[i] {
							has[i] = true
							waiting--
						}
						latest[i] = v
						if waiting == 0 {
							o.Next(append([]any(nil), latest...))
						}
					})
				},
				Error: func(err error) {
					loop.run(func() {
						if finished {
							return
						}
						finished = true
						o.Error(err)
						stopAll()
					})
				},
				Complete: func() {
					loop.run(func() {
						if finished {
							return
						}
						active--
						if active == 0 || !has[i] {
							finished = true
							o.Complete()
							stopAll()
						}
					})
				},
			})
			subsMu.Lock()
			if cancelled {
				subsMu.Unlock()
				sub.Unsubscribe()
				continue
			}
			subs[i] = sub
			subsMu.Unlock()
		}
		return stopAll
	})
}

// AsStream converts a Subscribable into a *Stream.
func AsStream(s Subscribable) *Stream {
	if st, ok := s.(*Stream); ok {
		return st
	}
	return NewStream(func(o Observer) func() {
		return s.Subscribe(o).Unsubscribe
	})
}
