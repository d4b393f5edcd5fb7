package sourcez

import "context"

// AllowNesting returns pending results passed as a target unchanged: an
// Awaitable for any method, a Subscribable for OBSERVE. Every other target
// is normalized into the request Address before delegating.
func AllowNesting(next Handler) Handler {
	return func(ctx context.Context, req Request) (any, error) {
		switch t := req.Target.(type) {
		case Awaitable:
			return t, nil
		case Subscribable:
			if req.Method == Observe {
				return t, nil
			}
		}

		if req.Target != nil {
			addr, err := ParseAddress(req.Target)
			if err != nil {
				if re, ok := err.(*RequestError); ok {
					re.Method = req.Method
				}
				return nil, err
			}
			req = req.WithAddress(addr)
		}
		return next(ctx, req)
	}
}
