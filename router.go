package sourcez

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"
)

// Routes returns a Handler that delegates on the first address segment,
// forwarding the remaining address to the matching route.
//
// The table is validated immediately: keys may not contain Separator and
// every handler must be non-nil. The index route is keyed by "" and is only
// reached by the root address.
func Routes(table map[string]Handler) (Handler, error) {
	routes := make(map[string]Handler, len(table))
	for key, h := range table {
		if strings.Contains(key, Separator) {
			return nil, &RequestError{
				Kind:   ErrInvalidRouteTable,
				Detail: fmt.Sprintf("route %q cannot contain %q", key, Separator),
			}
		}
		if h == nil {
			return nil, &RequestError{
				Kind:   ErrInvalidRouteTable,
				Detail: fmt.Sprintf("route %q has no handler", key),
			}
		}
		routes[key] = h
	}

	return func(ctx context.Context, req Request) (any, error) {
		segment, rest := req.Address.Head()
		h, ok := routes[segment]
		if !ok {
			capitan.Emit(ctx, RouteMissed,
				KeySegment.Field(segment),
				KeyAddress.Field(req.Address.String()),
			)
			return nil, &RequestError{
				Kind:    ErrRouteNotFound,
				Method:  req.Method,
				Address: req.Address,
				Segment: segment,
			}
		}
		return h(ctx, req.WithAddress(rest))
	}, nil
}

// MustRoutes is like Routes but panics on an invalid table.
func MustRoutes(table map[string]Handler) Handler {
	h, err := Routes(table)
	if err != nil {
		panic(err)
	}
	return h
}
