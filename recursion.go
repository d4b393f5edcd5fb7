package sourcez

import "context"

// AllowRecursion binds a recurse capability to every request that lacks
// one. The capability re-enters the pipeline at this stage, so backends can
// rewrite an address with Request.Recurse and nested requests keep the
// capability. Requests that already carry one pass through unchanged.
func AllowRecursion(next Handler) Handler {
	var self Handler
	self = func(ctx context.Context, req Request) (any, error) {
		if req.recurse == nil {
			req.recurse = self
		}
		return next(ctx, req)
	}
	return self
}
