package sourcez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
	"golang.org/x/sync/singleflight"
)

// Source is a ready-made request pipeline in front of a backend Handler:
//
//	AllowMultiple → AllowNesting → Cache → calls → AllowRecursion → EnsureStandard → backend
//
// Call options (With*) configure the call stage. Instance configuration
// uses chainable methods before the first request.
//
// Example:
//
//	src := sourcez.New(
//	    sourcez.MustRoutes(map[string]sourcez.Handler{
//	        "user":     sourcez.Memory(map[string]any{"name": "ada"}),
//	        "settings": file.New("/etc/myapp").Handler(),
//	    }),
//	    sourcez.WithTimeout(2*time.Second),
//	).DedupeGets()
//
//	name, err := src.Get(ctx, "/user/name")
type Source struct {
	backend Handler
	opts    []Option
	cache   *Cache
	clock   clockz.Clock
	metrics MetricsProvider
	dedupe  bool

	once     sync.Once
	handler  Handler
	pipeline pipz.Chainable[*Call]
	flight   singleflight.Group
}

// New creates a Source serving backend.
func New(backend Handler, opts ...Option) *Source {
	return &Source{
		backend: backend,
		opts:    opts,
		cache:   NewCache(),
		clock:   clockz.RealClock,
	}
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Metrics sets a metrics provider for cache and call callbacks.
// Must be called before the first request.
func (s *Source) Metrics(provider MetricsProvider) *Source {
	s.metrics = provider
	s.cache.Metrics(provider)
	return s
}

// Clock sets a custom clock for call timing.
// Must be called before the first request.
func (s *Source) Clock(clock clockz.Clock) *Source {
	s.clock = clock
	return s
}

// DedupeGets collapses concurrent GET requests for the same address into
// one backend call whose result every caller shares.
// Must be called before the first request.
func (s *Source) DedupeGets() *Source {
	s.dedupe = true
	return s
}

// Cache returns the subscription cache of the pipeline.
func (s *Source) Cache() *Cache {
	return s.cache
}

func (s *Source) init() {
	s.once.Do(func() {
		inner := Chain(s.backend, AllowRecursion, EnsureStandard)
		if len(s.opts) > 0 {
			terminal := pipz.Apply("backend", func(ctx context.Context, c *Call) (*Call, error) {
				v, err := await(ctx, inner, c.Request)
				if err != nil {
					return c, err
				}
				out := *c
				out.Result = v
				return &out, nil
			})
			s.pipeline = buildPipeline(terminal, s.opts)
		}
		s.handler = Chain(inner, AllowMultiple, AllowNesting, s.cache.Middleware, s.calls)
	})
}

// Do issues req through the pipeline and returns the raw result: a
// Subscribable for OBSERVE, an Awaitable for every other method.
func (s *Source) Do(ctx context.Context, req Request) (any, error) {
	s.init()
	if req.Target == nil && req.Address == nil {
		return nil, &RequestError{Kind: ErrInvalidAddress, Method: req.Method, Detail: "target is nil"}
	}
	return s.handler(ctx, req)
}

// Observe subscribes to target. The returned Stream is cold: the backend is
// reached on the first subscription and shared with every later one.
func (s *Source) Observe(ctx context.Context, target any) (*Stream, error) {
	result, err := s.Do(ctx, Request{Target: target, Method: Observe})
	if err != nil {
		return nil, err
	}
	return toStream(result), nil
}

// Get reads target once.
func (s *Source) Get(ctx context.Context, target any) (any, error) {
	result, err := s.Do(ctx, Request{Target: target, Method: Get})
	if err != nil {
		return nil, err
	}
	return toAwaitable(result).Await(ctx)
}

// Set writes value to target.
func (s *Source) Set(ctx context.Context, target any, value any) error {
	result, err := s.Do(ctx, Request{Target: target, Method: Set}.WithValue(value))
	if err != nil {
		return err
	}
	_, err = toAwaitable(result).Await(ctx)
	return err
}

// At returns a Ref bound to target.
func (s *Source) At(target any) *Ref {
	return &Ref{source: s, target: target}
}

// calls is the call stage. Without call options, deduplication or metrics
// it is transparent.
func (s *Source) calls(next Handler) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		if req.Method == Observe {
			return next(ctx, req)
		}
		if s.pipeline == nil && !s.dedupe {
			if s.metrics == nil {
				return next(ctx, req)
			}
			start := s.clock.Now()
			result, err := next(ctx, req)
			if err != nil {
				s.finish(ctx, req, start, err)
				return nil, err
			}
			f := AsFuture(toAwaitable(result))
			f.onSettle(func(_ any, err error) { s.finish(ctx, req, start, err) })
			return f, nil
		}

		start := s.clock.Now()
		f := Go(ctx, func(ctx context.Context) (any, error) {
			if s.dedupe && req.Method == Get {
				return s.shared(ctx, req, next)
			}
			return s.process(ctx, req, next)
		})
		f.onSettle(func(_ any, err error) { s.finish(ctx, req, start, err) })
		return f, nil
	}
}

// shared joins the in-flight GET for the address or starts one. The shared
// call runs detached from any single caller; each caller stops waiting when
// its own ctx ends.
func (s *Source) shared(ctx context.Context, req Request, next Handler) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(req.Address.String(), func() (any, error) {
		return s.process(detached, req, next)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// process runs one call through the pipz pipeline, or straight through
// next when no call options are configured.
func (s *Source) process(ctx context.Context, req Request, next Handler) (any, error) {
	if s.pipeline == nil {
		return await(ctx, next, req)
	}
	out, err := s.pipeline.Process(ctx, &Call{Request: req})
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (s *Source) finish(ctx context.Context, req Request, start time.Time, err error) {
	elapsed := s.clock.Since(start)
	if err != nil {
		capitan.Emit(ctx, CallFailed,
			KeyMethod.Field(string(req.Method)),
			KeyAddress.Field(req.Address.String()),
			KeyDuration.Field(elapsed),
			KeyError.Field(err.Error()),
		)
		if s.metrics != nil {
			s.metrics.OnCallFailure(req.Method, elapsed)
		}
		return
	}
	capitan.Emit(ctx, CallSucceeded,
		KeyMethod.Field(string(req.Method)),
		KeyAddress.Field(req.Address.String()),
		KeyDuration.Field(elapsed),
	)
	if s.metrics != nil {
		s.metrics.OnCallSuccess(req.Method, elapsed)
	}
}

// await issues req to h and waits for the single-shot result.
func await(ctx context.Context, h Handler, req Request) (any, error) {
	result, err := h(ctx, req)
	if err != nil {
		return nil, err
	}
	a, ok := result.(Awaitable)
	if !ok {
		return nil, contractViolation(req, result)
	}
	return a.Await(ctx)
}

func toStream(result any) *Stream {
	switch r := result.(type) {
	case Subscribable:
		return AsStream(r)
	case Awaitable:
		return FromAwaitable(r)
	default:
		return Of(r)
	}
}

// Ref is a Source bound to one target.
type Ref struct {
	source *Source
	target any
}

// Observe subscribes to the target of the Ref.
func (r *Ref) Observe(ctx context.Context) (*Stream, error) {
	return r.source.Observe(ctx, r.target)
}

// Get reads the target of the Ref once.
func (r *Ref) Get(ctx context.Context) (any, error) {
	return r.source.Get(ctx, r.target)
}

// Set writes value to the target of the Ref.
func (r *Ref) Set(ctx context.Context, value any) error {
	return r.source.Set(ctx, r.target, value)
}

// Bind observes the target of the Ref and returns a Binding delivering
// its values to fn. The Binding is not started.
func (r *Ref) Bind(ctx context.Context, fn func(ctx context.Context, prev, curr any) error) (*Binding, error) {
	stream, err := r.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("bind %v: %w", r.target, err)
	}
	return Bind(stream, fn), nil
}
