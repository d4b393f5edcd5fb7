package sourcez

import "context"

// Method identifies the kind of request.
type Method string

// Standard methods. Any other non-empty method is forwarded to the backend
// and follows the single-shot contract.
const (
	Observe Method = "OBSERVE"
	Get     Method = "GET"
	Set     Method = "SET"
)

// Request carries one call through the pipeline. Stages copy requests,
// they never mutate a request they did not create.
type Request struct {
	// Target is the address as supplied by the caller before
	// normalization: a string, an Address, a list or mapping of addresses,
	// or an already pending Stream or Future.
	Target any

	// Address is the normalized address. It is set once the request has
	// passed the nesting stage, or directly by backends that recurse.
	Address Address

	// Method selects the operation.
	Method Method

	// Value is the payload for writes.
	Value any

	// HasValue distinguishes an explicit nil Value from no value.
	HasValue bool

	recurse Handler
}

// Handler is the uniform request function. OBSERVE requests yield a
// Subscribable; every other method yields an Awaitable.
type Handler func(ctx context.Context, req Request) (any, error)

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// Chain wraps h with mw. The first middleware is the outermost: it sees a
// request first and the result last.
func Chain(h Handler, mw ...Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// CanRecurse reports whether the request carries a recurse capability.
func (r Request) CanRecurse() bool {
	return r.recurse != nil
}

// Recurse issues next through the recursion stage that handled r, so
// backends can rewrite addresses without knowing the full pipeline.
func (r Request) Recurse(ctx context.Context, next Request) (any, error) {
	if r.recurse == nil {
		return nil, &RequestError{Kind: ErrRecursionDisabled, Method: r.Method, Address: r.Address}
	}
	if next.recurse == nil {
		next.recurse = r.recurse
	}
	return r.recurse(ctx, next)
}

// WithAddress returns a copy of r addressed to a.
func (r Request) WithAddress(a Address) Request {
	r.Target = nil
	r.Address = a
	return r
}

// WithTarget returns a copy of r with a fresh, not yet normalized target.
func (r Request) WithTarget(target any) Request {
	r.Target = target
	r.Address = nil
	return r
}

// WithValue returns a copy of r carrying v.
func (r Request) WithValue(v any) Request {
	r.Value = v
	r.HasValue = true
	return r
}
