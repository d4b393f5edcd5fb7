package sourcez

import (
	"context"
	"fmt"
	"strconv"
)

// Store is an in-memory backend holding one value tree. Addresses reach
// into nested map[string]any and []any values; slice segments are decimal
// indices.
type Store struct {
	subject *Behavior
}

// NewStore creates a Store holding initial.
func NewStore(initial any) *Store {
	return &Store{subject: NewBehavior(initial)}
}

// Memory returns the Handler of a new Store holding initial.
func Memory(initial any) Handler {
	return NewStore(initial).Handler()
}

// Value returns the whole tree.
func (s *Store) Value() any {
	return s.subject.Value()
}

// Handler serves OBSERVE, GET and SET against the tree. Writes copy every
// container along the path, so values handed to observers are never
// mutated afterwards.
func (s *Store) Handler() Handler {
	return Methods{
		Observe: func(_ context.Context, req Request, o Observer) func() {
			var src Subscribable = s.subject
			if len(req.Address) > 0 {
				path := req.Address
				src = Map(s.subject, func(v any) (any, error) {
					return lookup(path, v), nil
				})
			}
			return src.Subscribe(o).Unsubscribe
		},
		Calls: map[Method]CallFunc{
			Get: func(_ context.Context, req Request) (any, error) {
				return lookup(req.Address, s.subject.Value()), nil
			},
			Set: func(_ context.Context, req Request) (any, error) {
				err := s.subject.Update(func(current any) (any, error) {
					return assign(req.Address, current, req.Value)
				})
				if err != nil {
					return nil, err
				}
				return nil, nil
			},
		},
	}.Handler()
}

// lookup returns the value at path, or nil when any step is missing.
func lookup(path Address, v any) any {
	for _, key := range path {
		switch node := v.(type) {
		case map[string]any:
			v = node[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			v = node[i]
		default:
			return nil
		}
	}
	return v
}

// assign returns a copy of v with value stored at path. Missing
// intermediate nodes become maps.
func assign(path Address, v any, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	key, rest := path[0], path[1:]

	switch node := v.(type) {
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			return nil, &RequestError{
				Kind:    ErrInvalidAddress,
				Method:  Set,
				Address: path,
				Detail:  fmt.Sprintf("segment %q is not a list index", key),
			}
		}
		size := len(node)
		if i >= size {
			size = i + 1
		}
		out := make([]any, size)
		copy(out, node)
		child, err := assign(rest, out[i], value)
		if err != nil {
			return nil, err
		}
		out[i] = child
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(node)+1)
		for k, val := range node {
			out[k] = val
		}
		child, err := assign(rest, node[key], value)
		if err != nil {
			return nil, err
		}
		out[key] = child
		return out, nil
	default:
		child, err := assign(rest, nil, value)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: child}, nil
	}
}
