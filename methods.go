package sourcez

import "context"

// ObserveFunc produces values for an OBSERVE request. It returns a
// teardown that runs when the subscription ends.
type ObserveFunc func(ctx context.Context, req Request, o Observer) (teardown func())

// CallFunc answers a single-shot request.
type CallFunc func(ctx context.Context, req Request) (any, error)

// Methods is a per-method handler table.
type Methods struct {
	// Observe serves OBSERVE requests.
	Observe ObserveFunc

	// Calls serves single-shot requests by method.
	Calls map[Method]CallFunc

	// Default serves single-shot methods missing from Calls.
	Default CallFunc
}

// Handler returns a backend Handler dispatching on the request method.
// OBSERVE requests yield a Stream that runs Observe on subscription; other
// methods yield a Future that runs the call on its own goroutine.
// Methods without a handler fail with ErrMethodNotSupported.
func (m Methods) Handler() Handler {
	return func(ctx context.Context, req Request) (any, error) {
		if req.Method == Observe {
			if m.Observe == nil {
				return nil, notSupported(req)
			}
			return NewStream(func(o Observer) func() {
				return m.Observe(ctx, req, o)
			}), nil
		}

		call, ok := m.Calls[req.Method]
		if !ok {
			call = m.Default
		}
		if call == nil {
			return nil, notSupported(req)
		}
		return Go(ctx, func(ctx context.Context) (any, error) {
			return call(ctx, req)
		}), nil
	}
}

func notSupported(req Request) error {
	return &RequestError{
		Kind:    ErrMethodNotSupported,
		Method:  req.Method,
		Address: req.Address,
	}
}
