package sourcez

import (
	"fmt"
	"strings"
)

// Separator delimits address segments in string form.
const Separator = "/"

// Address is a normalized, ordered sequence of path segments.
// The root address "/" is the empty sequence.
type Address []string

// ParseAddress normalizes v into an Address.
//
// Accepted forms are a string beginning with Separator, an Address, or a
// []string of segments. Empty segments are dropped, so parsing an Address
// that is already normalized returns an equal Address.
func ParseAddress(v any) (Address, error) {
	switch a := v.(type) {
	case string:
		if !strings.HasPrefix(a, Separator) {
			return nil, &RequestError{
				Kind:   ErrInvalidAddress,
				Detail: fmt.Sprintf("%q must start with %q", a, Separator),
			}
		}
		return compact(strings.Split(a, Separator)), nil
	case Address:
		return compact(a), nil
	case []string:
		return compact(a), nil
	default:
		return nil, &RequestError{
			Kind:   ErrInvalidAddress,
			Detail: fmt.Sprintf("unsupported address type %T", v),
		}
	}
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(v any) Address {
	a, err := ParseAddress(v)
	if err != nil {
		panic(err)
	}
	return a
}

// compact copies the non-empty segments into a fresh, non-nil Address.
func compact(segments []string) Address {
	out := make(Address, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// String returns the address in "/a/b" form. It is also the cache key.
func (a Address) String() string {
	return Separator + strings.Join(a, Separator)
}

// Join returns a new Address made of a followed by other.
func (a Address) Join(other Address) Address {
	out := make(Address, 0, len(a)+len(other))
	out = append(out, a...)
	return append(out, other...)
}

// Head returns the first segment and the remaining address. The root
// address yields an empty head.
func (a Address) Head() (string, Address) {
	if len(a) == 0 {
		return "", Address{}
	}
	rest := make(Address, len(a)-1)
	copy(rest, a[1:])
	return a[0], rest
}

// Equal reports whether both addresses hold the same segments.
func (a Address) Equal(other Address) bool {
	if len(a) != len(other) {
		return false
	}
	for i := range a {
		if a[i] != other[i] {
			return false
		}
	}
	return true
}

// Key renders the address as a storage key: prefix followed by the
// segments joined with sep. Backends with their own key syntax use it to
// map addresses onto keys.
func (a Address) Key(prefix, sep string) string {
	return prefix + strings.Join(a, sep)
}
