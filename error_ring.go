package sourcez

import "sync"

// errorRing keeps the most recent errors of a Binding, bounded by limit.
// A nil ring records nothing.
type errorRing struct {
	mu     sync.Mutex
	limit  int
	recent []error
}

// newErrorRing returns a ring holding up to limit errors, or nil when
// limit is not positive.
func newErrorRing(limit int) *errorRing {
	if limit <= 0 {
		return nil
	}
	return &errorRing{limit: limit, recent: make([]error, 0, limit)}
}

func (r *errorRing) push(err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.recent) == r.limit {
		copy(r.recent, r.recent[1:])
		r.recent = r.recent[:r.limit-1]
	}
	r.recent = append(r.recent, err)
}

func (r *errorRing) clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.recent)
	r.recent = r.recent[:0]
}

// all returns a copy of the retained errors, oldest first, or nil when
// there are none.
func (r *errorRing) all() []error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.recent) == 0 {
		return nil
	}
	return append([]error(nil), r.recent...)
}
