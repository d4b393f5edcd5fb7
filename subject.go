package sourcez

import "sync"

// Behavior holds a current value and pushes every new value to its
// subscribers. A new subscriber receives the current value first.
type Behavior struct {
	mu      sync.Mutex
	value   any
	version uint64

	loop      trampoline
	delivered any
	seen      uint64
	observers []*member
}

// NewBehavior creates a Behavior holding initial.
func NewBehavior(initial any) *Behavior {
	return &Behavior{value: initial, delivered: initial}
}

// Value returns the latest value passed to Next.
func (b *Behavior) Value() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Next stores v and delivers it to every subscriber. Concurrent writers
// may coalesce: subscribers always end on the latest value.
func (b *Behavior) Next(v any) {
	b.mu.Lock()
	b.value = v
	b.version++
	b.mu.Unlock()

	b.loop.run(b.flush)
}

// Update applies fn to the latest value under lock and delivers the result.
func (b *Behavior) Update(fn func(current any) (any, error)) error {
	b.mu.Lock()
	v, err := fn(b.value)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.value = v
	b.version++
	b.mu.Unlock()

	b.loop.run(b.flush)
	return nil
}

// flush delivers the latest value if it has not been delivered yet.
func (b *Behavior) flush() {
	b.mu.Lock()
	v, version := b.value, b.version
	b.mu.Unlock()
	if version == b.seen {
		return
	}
	b.delivered, b.seen = v, version
	for _, m := range b.observers {
		m.obs.Next(v)
	}
}

// Subscribe implements Subscribable.
func (b *Behavior) Subscribe(o Observer) Subscription {
	return b.Stream().Subscribe(o)
}

// Stream returns the Behavior as a Stream.
func (b *Behavior) Stream() *Stream {
	return NewStream(func(o Observer) func() {
		m := &member{obs: o}
		b.loop.run(func() {
			b.observers = append(b.observers, m)
			o.Next(b.delivered)
		})
		return func() {
			b.loop.run(func() {
				for i, candidate := range b.observers {
					if candidate == m {
						b.observers = append(b.observers[:i], b.observers[i+1:]...)
						return
					}
				}
			})
		}
	})
}
