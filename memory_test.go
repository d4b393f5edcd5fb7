package sourcez

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func storeGet(t *testing.T, h Handler, address Address) any {
	t.Helper()
	result, err := h(context.Background(), Request{Address: address, Method: Get})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := result.(Awaitable).Await(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v
}

func storeSet(h Handler, address Address, value any) error {
	result, err := h(context.Background(), Request{Address: address, Method: Set}.WithValue(value))
	if err != nil {
		return err
	}
	_, err = result.(Awaitable).Await(context.Background())
	return err
}

func TestStore_GetNested(t *testing.T) {
	h := Memory(map[string]any{
		"user":  map[string]any{"name": "ada", "tags": []any{"admin", "ops"}},
		"count": 3,
	})

	tests := []struct {
		address Address
		want    any
	}{
		{Address{"user", "name"}, "ada"},
		{Address{"user", "tags", "1"}, "ops"},
		{Address{"count"}, 3},
		{Address{"user", "missing"}, nil},
		{Address{"user", "tags", "9"}, nil},
		{Address{"user", "tags", "x"}, nil},
		{Address{"count", "deeper"}, nil},
	}
	for _, tt := range tests {
		if got := storeGet(t, h, tt.address); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%v: expected %v, got %v", tt.address, tt.want, got)
		}
	}
}

func TestStore_SetCreatesPath(t *testing.T) {
	store := NewStore(nil)
	h := store.Handler()

	if err := storeSet(h, Address{"a", "b"}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{"a": map[string]any{"b": 1}}
	if !reflect.DeepEqual(store.Value(), want) {
		t.Errorf("expected %v, got %v", want, store.Value())
	}

	if err := storeSet(h, Address{}, "replaced"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Value() != "replaced" {
		t.Errorf("expected root replacement, got %v", store.Value())
	}
}

func TestStore_SetCopiesOnWrite(t *testing.T) {
	inner := map[string]any{"b": 1}
	initial := map[string]any{"a": inner, "list": []any{"x"}}
	store := NewStore(initial)
	h := store.Handler()

	if err := storeSet(h, Address{"a", "b"}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := storeSet(h, Address{"list", "2"}, "z"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner["b"] != 1 {
		t.Errorf("expected original map untouched, got %v", inner)
	}
	if len(initial["list"].([]any)) != 1 {
		t.Errorf("expected original list untouched, got %v", initial["list"])
	}
	got := storeGet(t, h, Address{"list"})
	if !reflect.DeepEqual(got, []any{"x", nil, "z"}) {
		t.Errorf("expected grown list, got %v", got)
	}
}

func TestStore_SetInvalidListIndex(t *testing.T) {
	h := Memory(map[string]any{"list": []any{1}})
	err := storeSet(h, Address{"list", "first"}, 2)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestStore_ObserveFollowsWrites(t *testing.T) {
	h := Memory(map[string]any{"user": map[string]any{"name": "ada"}})

	result, err := h(context.Background(), Request{Address: Address{"user", "name"}, Method: Observe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := newCollector()
	sub := result.(Subscribable).Subscribe(c.observer())
	defer sub.Unsubscribe()

	if err := storeSet(h, Address{"user", "name"}, "grace"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.waitFor(t, func(values []any, _ error, _ bool) bool { return len(values) == 2 })

	values, _, _ := c.snapshot()
	if values[0] != "ada" || values[1] != "grace" {
		t.Errorf("expected [ada grace], got %v", values)
	}
}

func TestStore_ObserveRoot(t *testing.T) {
	store := NewStore(1)
	h := store.Handler()

	result, _ := h(context.Background(), Request{Address: Address{}, Method: Observe})
	c := newCollector()
	result.(Subscribable).Subscribe(c.observer())

	if err := storeSet(h, Address{}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.waitFor(t, func(values []any, _ error, _ bool) bool { return len(values) == 2 })
}
