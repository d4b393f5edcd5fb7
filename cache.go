package sourcez

import (
	"context"
	"sync"

	"github.com/zoobzio/capitan"
)

// Cache deduplicates OBSERVE subscriptions per address.
//
// The first subscriber of an address creates an entry and invokes the
// wrapped handler; every later subscriber shares that single upstream
// subscription and immediately receives the last delivered value, if any.
// When the last subscriber leaves, or the upstream fails or completes, the
// entry is removed and a later subscription starts from scratch. A
// subscription arriving while the previous entry is still tearing down waits
// for that teardown before the wrapped handler is invoked again.
//
// Each Cache is independent; a pipeline owns exactly one.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	metrics MetricsProvider
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Metrics sets a metrics provider for entry lifecycle callbacks.
// Must be called before the cache is used.
func (c *Cache) Metrics(provider MetricsProvider) *Cache {
	c.metrics = provider
	return c
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribers returns the live subscriber count for address, or zero when
// no entry exists.
func (c *Cache) Subscribers(address Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[address.String()]; ok {
		return e.refs
	}
	return 0
}

// Middleware returns the cache stage. Requests other than OBSERVE are
// delegated untouched. OBSERVE requests return a Stream at once; the wrapped
// handler is only invoked when the first subscriber of the address arrives.
func (c *Cache) Middleware(next Handler) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		if req.Method != Observe {
			return next(ctx, req)
		}
		// The entry outlives the caller that created it.
		ctx = context.WithoutCancel(ctx)
		key := req.Address.String()
		return NewStream(func(o Observer) func() {
			e := c.acquire(key)
			m := &member{obs: o}
			e.loop.run(func() { e.join(ctx, m, next, req) })
			return func() { c.release(ctx, e, m) }
		}), nil
	}
}

// acquire returns the live entry for key, creating it when absent, and
// counts one more subscriber. An entry replacing one that is still closing
// holds its loop until the predecessor has torn its upstream down.
func (c *Cache) acquire(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.closing {
		fresh := &entry{key: key, cache: c}
		if ok {
			fresh.loop.hold()
			e.successor = fresh
		}
		c.entries[key] = fresh
		e = fresh
	}
	e.refs++
	return e
}

// release drops one subscriber. An entry whose count reaches zero stays in
// the map as closing until its upstream teardown has run on the entry loop.
func (c *Cache) release(ctx context.Context, e *entry, m *member) {
	c.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last {
		e.closing = true
	}
	c.mu.Unlock()

	e.loop.run(func() {
		e.leave(m)
		if last {
			e.close(ctx)
		}
	})
}

// forget removes e from the map if it is still the live entry for its key
// and starts the entry waiting behind it, if any.
func (c *Cache) forget(e *entry) {
	c.mu.Lock()
	if c.entries[e.key] == e {
		delete(c.entries, e.key)
	}
	successor := e.successor
	e.successor = nil
	c.mu.Unlock()
	if successor != nil {
		successor.loop.resume()
	}
}

type member struct {
	obs Observer
}

// entry is one shared upstream subscription. refs, closing and successor
// are guarded by the cache mutex; every other field is only touched from
// tasks on loop.
type entry struct {
	key       string
	cache     *Cache
	refs      int
	closing   bool
	successor *entry
	loop      trampoline

	members  []*member
	last     any
	hasLast  bool
	started  bool
	closed   bool
	err      error
	upstream Subscription
}

func (e *entry) join(ctx context.Context, m *member, next Handler, req Request) {
	if e.closed {
		// The upstream terminated after this subscriber was counted.
		if e.err != nil {
			m.obs.Error(e.err)
		} else {
			m.obs.Complete()
		}
		return
	}
	e.members = append(e.members, m)

	if !e.started {
		e.started = true
		e.connect(ctx, next, req)
		return
	}

	capitan.Emit(ctx, EntryJoined,
		KeyAddress.Field(e.key),
		KeySubscribers.Field(len(e.members)),
	)
	if e.hasLast {
		if e.cache.metrics != nil {
			e.cache.metrics.OnReplay(e.key)
		}
		m.obs.Next(e.last)
	}
}

// connect invokes the wrapped handler and subscribes to its stream. Values
// emitted synchronously during Subscribe are queued behind this task.
func (e *entry) connect(ctx context.Context, next Handler, req Request) {
	capitan.Emit(ctx, EntryCreated, KeyAddress.Field(e.key))
	if e.cache.metrics != nil {
		e.cache.metrics.OnEntryCreated(e.key)
	}

	result, err := next(ctx, req)
	if err != nil {
		e.terminate(ctx, err)
		return
	}
	upstream, ok := result.(Subscribable)
	if !ok {
		e.terminate(ctx, contractViolation(req, result))
		return
	}
	e.upstream = upstream.Subscribe(Observer{
		Next: func(v any) {
			e.loop.run(func() { e.emit(v) })
		},
		Error: func(err error) {
			e.loop.run(func() { e.terminate(ctx, err) })
		},
		Complete: func() {
			e.loop.run(func() { e.terminate(ctx, nil) })
		},
	})
}

func (e *entry) emit(v any) {
	if e.closed {
		return
	}
	e.last, e.hasLast = v, true
	for _, m := range e.members {
		m.obs.Next(v)
	}
}

// terminate delivers the end of the upstream to every member and evicts the
// entry. A nil err means completion.
func (e *entry) terminate(ctx context.Context, err error) {
	if e.closed {
		return
	}
	e.closed = true
	e.err = err
	e.upstream = nil
	e.cache.forget(e)

	if err != nil {
		capitan.Emit(ctx, EntryFailed,
			KeyAddress.Field(e.key),
			KeyError.Field(err.Error()),
		)
		if e.cache.metrics != nil {
			e.cache.metrics.OnBackendError(e.key)
		}
	}
	e.evicted(ctx)

	members := e.members
	e.members = nil
	for _, m := range members {
		if err != nil {
			m.obs.Error(err)
		} else {
			m.obs.Complete()
		}
	}
}

func (e *entry) leave(m *member) {
	for i, candidate := range e.members {
		if candidate == m {
			e.members = append(e.members[:i], e.members[i+1:]...)
			return
		}
	}
}

// close tears the upstream down after the last subscriber left, then lets
// a waiting successor connect.
func (e *entry) close(ctx context.Context) {
	if e.closed {
		return
	}
	e.closed = true
	upstream := e.upstream
	e.upstream = nil
	if upstream != nil {
		upstream.Unsubscribe()
	}
	e.evicted(ctx)
	e.cache.forget(e)
}

func (e *entry) evicted(ctx context.Context) {
	capitan.Emit(ctx, EntryEvicted, KeyAddress.Field(e.key))
	if e.cache.metrics != nil {
		e.cache.metrics.OnEntryEvicted(e.key)
	}
}
