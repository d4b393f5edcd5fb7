package sourcez

import "context"

// Alias returns a Handler that forwards every request to upstream followed
// by the request address, re-entering the pipeline through Request.Recurse.
func Alias(upstream any) (Handler, error) {
	prefix, err := ParseAddress(upstream)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, req Request) (any, error) {
		return req.Recurse(ctx, req.WithAddress(prefix.Join(req.Address)))
	}, nil
}

// MustAlias is like Alias but panics on an invalid upstream address.
func MustAlias(upstream any) Handler {
	h, err := Alias(upstream)
	if err != nil {
		panic(err)
	}
	return h
}
