package sourcez

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Call carries one single-shot request through the call stage. The
// terminal processor fills Result with the settled value of the inner
// pipeline.
type Call struct {
	Request Request
	Result  any
}

// Option configures the call stage of a Source. Call options wrap every
// single-shot request (GET, SET and custom methods) with middleware for
// retry, timeout, circuit breaking, and other reliability patterns.
// OBSERVE requests never pass through the call stage.
//
// Instance configuration (metrics, clock, GET deduplication) is handled via
// chainable methods on the Source.
type Option func(pipz.Chainable[*Call]) pipz.Chainable[*Call]

// buildPipeline wraps a terminal with call options.
func buildPipeline(terminal pipz.Chainable[*Call], opts []Option) pipz.Chainable[*Call] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// -----------------------------------------------------------------------------
// Call Options - Wrapping (With*)
// -----------------------------------------------------------------------------
// These options wrap the entire call, providing protection at the boundary.
// Each attempt re-issues the request to the inner pipeline.

// WithRetry wraps calls with retry logic.
// Failed calls are retried immediately up to maxAttempts times.
// For exponential backoff between retries, use WithBackoff instead.
func WithRetry(maxAttempts int) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		return pipz.NewRetry("retry", p, maxAttempts)
	}
}

// WithBackoff wraps calls with exponential backoff retry logic.
// Failed calls are retried with increasing delays: baseDelay, 2*baseDelay, 4*baseDelay, etc.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		return pipz.NewBackoff("backoff", p, maxAttempts, baseDelay)
	}
}

// WithTimeout wraps calls with a timeout.
// If a call takes longer than the specified duration, it fails with a
// timeout error.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		return pipz.NewTimeout("timeout", p, d)
	}
}

// WithFallback wraps calls with fallback processors.
// If the primary call fails, each fallback is tried in order until one succeeds.
func WithFallback(fallbacks ...pipz.Chainable[*Call]) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		all := append([]pipz.Chainable[*Call]{p}, fallbacks...)
		return pipz.NewFallback("fallback", all...)
	}
}

// WithCircuitBreaker wraps calls with circuit breaker protection.
// After 'failures' consecutive failures, the circuit opens and rejects
// further calls until 'recovery' time has passed.
//
// The breaker is shared by every method and address of the Source.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		return pipz.NewCircuitBreaker("circuit-breaker", p, failures, recovery)
	}
}

// WithRateLimit limits how often calls reach the backend.
// Uses a token bucket with the specified rate (tokens per second) and burst
// size. When tokens are exhausted, calls wait for availability.
func WithRateLimit(rate float64, burst int) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		limiter := pipz.NewRateLimiter[*Call]("rate-limiter", rate, burst)
		return pipz.NewSequence("rate-limited", limiter, p)
	}
}

// WithErrorHandler adds error observation to calls.
// Errors are passed to the handler for logging, metrics, or alerting,
// but the error still propagates. Use this for observability, not recovery.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Call]]) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		return pipz.NewHandle("error-handler", p, handler)
	}
}

// WithMiddleware runs processors before every call.
// Processors execute in order, with the call itself last. A processor may
// rewrite the request or fail the call before it reaches the backend.
func WithMiddleware(processors ...pipz.Chainable[*Call]) Option {
	return func(p pipz.Chainable[*Call]) pipz.Chainable[*Call] {
		all := make([]pipz.Chainable[*Call], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence("middleware", all...)
	}
}

// -----------------------------------------------------------------------------
// Middleware Processors (Use*)
// -----------------------------------------------------------------------------

// UseApply creates a processor that can rewrite the call and fail.
func UseApply(name string, fn func(context.Context, *Call) (*Call, error)) pipz.Chainable[*Call] {
	return pipz.Apply(pipz.Name(name), fn)
}

// UseEffect creates a processor that performs a side effect.
// The call passes through unchanged.
func UseEffect(name string, fn func(context.Context, *Call) error) pipz.Chainable[*Call] {
	return pipz.Effect(pipz.Name(name), fn)
}

// UseFilter runs processor only for calls matching predicate. Other calls
// pass through unchanged.
//
//	readOnly := sourcez.UseFilter("read-only",
//	    func(_ context.Context, c *sourcez.Call) bool { return c.Request.Method == sourcez.Set },
//	    sourcez.UseApply("deny", func(_ context.Context, c *sourcez.Call) (*sourcez.Call, error) {
//	        return c, errors.New("read only")
//	    }),
//	)
func UseFilter(name string, predicate func(context.Context, *Call) bool, processor pipz.Chainable[*Call]) pipz.Chainable[*Call] {
	return pipz.NewFilter(pipz.Name(name), predicate, processor)
}

// Resolved creates a processor that answers a call with value without
// reaching the backend. Use it as the last fallback.
func Resolved(name string, value any) pipz.Chainable[*Call] {
	return pipz.Apply(pipz.Name(name), func(_ context.Context, c *Call) (*Call, error) {
		out := *c
		out.Result = value
		return &out, nil
	})
}
