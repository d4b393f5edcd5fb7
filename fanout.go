package sourcez

import (
	"context"
	"sort"
)

// AllowMultiple expands requests whose target names several addresses.
//
//	"/user"                                  -> value
//	[]string{"/user", "/user/login"}         -> []any{value, value}
//	map[string]string{"u": "/user", ...}     -> map[string]any{"u": value, ...}
//
// []any and map[string]any targets fan out the same way and may nest
// further lists or mappings. OBSERVE results are recombined with
// CombineLatest; other methods with All, which fails on the first
// rejection. An empty list or mapping resolves to an empty result without
// calling the wrapped handler. Any other target is delegated unchanged.
func AllowMultiple(next Handler) Handler {
	var self Handler
	self = func(ctx context.Context, req Request) (any, error) {
		switch t := req.Target.(type) {
		case []string:
			targets := make([]any, len(t))
			for i, s := range t {
				targets[i] = s
			}
			return fanList(ctx, self, req, targets)
		case []any:
			return fanList(ctx, self, req, t)
		case map[string]string:
			targets := make(map[string]any, len(t))
			for k, s := range t {
				targets[k] = s
			}
			return fanMap(ctx, self, req, targets)
		case map[string]any:
			return fanMap(ctx, self, req, t)
		default:
			return next(ctx, req)
		}
	}
	return self
}

// fanList issues one request per target and recombines positionally.
func fanList(ctx context.Context, h Handler, req Request, targets []any) (any, error) {
	results := make([]any, len(targets))
	for i, target := range targets {
		r, err := h(ctx, req.WithTarget(target))
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	if req.Method == Observe {
		return combineStreams(results), nil
	}
	return allFutures(results), nil
}

// fanMap issues one request per key, in key order, and recombines into a
// mapping with the original keys.
func fanMap(ctx context.Context, h Handler, req Request, targets map[string]any) (any, error) {
	keys := make([]string, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]any, len(keys))
	for i, k := range keys {
		list[i] = targets[k]
	}
	combined, err := fanList(ctx, h, req, list)
	if err != nil {
		return nil, err
	}

	zip := func(v any) (any, error) {
		values, _ := v.([]any)
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			out[k] = values[i]
		}
		return out, nil
	}
	if req.Method == Observe {
		return Map(combined.(*Stream), zip), nil
	}
	return combined.(*Future).Then(zip), nil
}

func combineStreams(results []any) *Stream {
	sources := make([]Subscribable, len(results))
	for i, r := range results {
		sources[i] = toSubscribable(r)
	}
	return CombineLatest(sources...)
}

func allFutures(results []any) *Future {
	futures := make([]Awaitable, len(results))
	for i, r := range results {
		futures[i] = toAwaitable(r)
	}
	return All(futures...)
}

// toSubscribable accepts nested awaitables so a resolved dependency can sit
// next to live addresses in one OBSERVE fan-out.
func toSubscribable(r any) Subscribable {
	switch v := r.(type) {
	case Subscribable:
		return v
	case Awaitable:
		return FromAwaitable(v)
	default:
		return Of(v)
	}
}

func toAwaitable(r any) Awaitable {
	if a, ok := r.(Awaitable); ok {
		return a
	}
	return Resolve(r)
}

// FromAwaitable returns a Stream that emits the result of a once and
// completes, or fails with its error.
func FromAwaitable(a Awaitable) *Stream {
	return NewStream(func(o Observer) func() {
		if f, ok := a.(*Future); ok {
			select {
			case <-f.Done():
				if f.err != nil {
					o.Error(f.err)
					return nil
				}
				o.Next(f.value)
				o.Complete()
				return nil
			default:
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			v, err := a.Await(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				o.Error(err)
				return
			}
			o.Next(v)
			o.Complete()
		}()
		return cancel
	})
}
