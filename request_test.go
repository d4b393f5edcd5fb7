package sourcez

import (
	"context"
	"errors"
	"testing"
)

func TestChain_FirstMiddlewareIsOutermost(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req Request) (any, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, Request) (any, error) {
		order = append(order, "backend")
		return Resolve(nil), nil
	}, mark("a"), mark("b"), mark("c"))

	if _, err := h(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c", "backend"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestRequest_RecurseWithoutCapability(t *testing.T) {
	req := Request{Method: Get, Address: Address{"a"}}
	if req.CanRecurse() {
		t.Fatal("expected no recurse capability")
	}
	_, err := req.Recurse(context.Background(), req)
	if !errors.Is(err, ErrRecursionDisabled) {
		t.Errorf("expected ErrRecursionDisabled, got %v", err)
	}
}

func TestRequest_WithHelpersCopy(t *testing.T) {
	req := Request{Target: "/a", Method: Set}
	addressed := req.WithAddress(Address{"b"})
	if addressed.Target != nil || !addressed.Address.Equal(Address{"b"}) {
		t.Errorf("WithAddress() = %+v", addressed)
	}
	if req.Target != "/a" {
		t.Error("expected original request to be unchanged")
	}

	retargeted := addressed.WithTarget("/c")
	if retargeted.Address != nil || retargeted.Target != "/c" {
		t.Errorf("WithTarget() = %+v", retargeted)
	}

	valued := req.WithValue(nil)
	if !valued.HasValue || valued.Value != nil {
		t.Errorf("WithValue(nil) = %+v", valued)
	}
	if req.HasValue {
		t.Error("expected original request to carry no value")
	}
}
