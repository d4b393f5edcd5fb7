package sourcez

import (
	"errors"
	"testing"
)

func TestErrorRing_NilSafe(t *testing.T) {
	var r *errorRing

	// All operations should be safe on nil
	r.push(errors.New("test"))
	r.clear()

	if r.all() != nil {
		t.Error("expected nil from nil ring")
	}
}

func TestErrorRing_DisabledForNonPositiveSize(t *testing.T) {
	if newErrorRing(0) != nil {
		t.Error("expected nil ring for size 0")
	}
	if newErrorRing(-1) != nil {
		t.Error("expected nil ring for negative size")
	}
}

func TestErrorRing_KeepsMostRecent(t *testing.T) {
	r := newErrorRing(2)
	e1, e2, e3 := errors.New("e1"), errors.New("e2"), errors.New("e3")
	r.push(e1)
	r.push(e2)
	r.push(e3)

	errs := r.all()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs[0] != e2 || errs[1] != e3 {
		t.Errorf("expected [e2 e3] oldest first, got %v", errs)
	}
}

func TestErrorRing_Clear(t *testing.T) {
	r := newErrorRing(3)
	r.push(errors.New("e1"))
	r.clear()

	if r.all() != nil {
		t.Error("expected nil after clear")
	}

	r.push(errors.New("e2"))
	if len(r.all()) != 1 {
		t.Errorf("expected ring to accept errors after clear, got %v", r.all())
	}
}

func TestErrorRing_AllReturnsCopy(t *testing.T) {
	r := newErrorRing(2)
	r.push(errors.New("e1"))

	errs := r.all()
	errs[0] = nil

	if r.all()[0] == nil {
		t.Error("expected all() to return a copy")
	}
}
