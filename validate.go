package sourcez

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
)

// EnsureStandard enforces the standard request shape before a request
// reaches the backend, and the result contract after it returns: OBSERVE
// must yield a Subscribable, every other method an Awaitable.
//
// The root address is the empty sequence and is accepted; only a missing
// (nil) address is malformed.
func EnsureStandard(next Handler) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		if req.Address == nil {
			return nil, reject(ctx, &RequestError{
				Kind:   ErrMalformedRequest,
				Method: req.Method,
				Field:  "address",
				Detail: "address must be a segment sequence",
			})
		}
		if req.Method == "" {
			return nil, reject(ctx, &RequestError{
				Kind:    ErrMalformedRequest,
				Address: req.Address,
				Field:   "method",
				Detail:  "method must be a non-empty string",
			})
		}

		result, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		if !satisfiesContract(req.Method, result) {
			return nil, reject(ctx, contractViolation(req, result))
		}
		return result, nil
	}
}

func satisfiesContract(m Method, result any) bool {
	if m == Observe {
		_, ok := result.(Subscribable)
		return ok
	}
	_, ok := result.(Awaitable)
	return ok
}

func contractViolation(req Request, result any) *RequestError {
	want := "an awaitable for non-OBSERVE methods"
	if req.Method == Observe {
		want = "a stream for OBSERVE"
	}
	return &RequestError{
		Kind:    ErrContractViolation,
		Method:  req.Method,
		Address: req.Address,
		Detail:  fmt.Sprintf("backend must return %s, got %T", want, result),
	}
}

func reject(ctx context.Context, err *RequestError) error {
	capitan.Emit(ctx, RequestRejected,
		KeyMethod.Field(string(err.Method)),
		KeyError.Field(err.Error()),
	)
	return err
}
