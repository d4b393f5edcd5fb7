package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/sourcez"
)

func TestDecodeTestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  any
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  TestConfig{Port: 8080, Host: "localhost", Timeout: 30},
			wantErr: false,
		},
		{
			name:    "valid document",
			config:  map[string]any{"port": 8080, "host": "localhost"},
			wantErr: false,
		},
		{
			name:    "port too low",
			config:  TestConfig{Port: 0, Host: "localhost"},
			wantErr: true,
		},
		{
			name:    "port too high",
			config:  map[string]any{"port": 70000, "host": "localhost"},
			wantErr: true,
		},
		{
			name:    "empty host",
			config:  TestConfig{Port: 8080, Host: ""},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			config:  TestConfig{Port: 8080, Host: "localhost", Timeout: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTestConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeTestConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			var verrs validator.ValidationErrors
			if tt.wantErr && !errors.As(err, &verrs) {
				t.Errorf("expected validator.ValidationErrors, got %T", err)
			}
		})
	}
}

func TestDecodeTestConfig(t *testing.T) {
	cfg, err := DecodeTestConfig(map[string]any{"port": float64(8080), "host": "localhost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 || cfg.Host != "localhost" {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := DecodeTestConfig(map[string]any{"port": "not a number"}); err == nil {
		t.Error("expected a decode error")
	}
}

func TestWaitFor(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		result := WaitFor(t, 100*time.Millisecond, func() bool {
			return true
		})
		if !result {
			t.Error("expected WaitFor to return true")
		}
	})

	t.Run("condition never met", func(t *testing.T) {
		result := WaitFor(t, 50*time.Millisecond, func() bool {
			return false
		})
		if result {
			t.Error("expected WaitFor to return false on timeout")
		}
	})
}

func TestWaitForState(t *testing.T) {
	b, _ := NewTestBinding(t, map[string]any{"port": 8080, "host": "localhost"}, ValidatingCallback(nil))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !WaitForState(t, b, sourcez.StateResolved, 100*time.Millisecond) {
		t.Error("expected binding to reach resolved state")
	}
}

func TestRequireState_Degraded(t *testing.T) {
	b, subject := NewTestBinding(t, map[string]any{"port": 8080, "host": "localhost"}, ValidatingCallback(nil))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	subject.Next(map[string]any{"port": 0, "host": "localhost"})
	RequireState(t, b, sourcez.StateDegraded)
}

func TestRequireValue(t *testing.T) {
	var received TestConfig
	b, subject := NewTestBinding(t, map[string]any{"port": 8080, "host": "localhost"}, ValidatingCallback(func(cfg TestConfig) {
		received = cfg
	}))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	subject.Next(map[string]any{"port": 9090, "host": "example.com"})

	RequireValue(t, b, func(v any) bool {
		cfg, err := DecodeTestConfig(v)
		return err == nil && cfg.Port == 9090
	})
	if received.Host != "example.com" {
		t.Errorf("expected host example.com, got %s", received.Host)
	}
}

func TestRecorder(t *testing.T) {
	r := Record(t, sourcez.Of(1, 2, 3))
	if !r.WaitForValues(t, 3, 100*time.Millisecond) {
		t.Fatalf("expected 3 values, got %v", r.Values())
	}
	if last, _ := r.Last(); last != 3 {
		t.Errorf("expected last value 3, got %v", last)
	}
	if !r.Completed() {
		t.Error("expected completion")
	}

	boom := errors.New("boom")
	failed := Record(t, sourcez.Throw(boom))
	if !errors.Is(failed.Err(), boom) {
		t.Errorf("expected boom, got %v", failed.Err())
	}
	if _, ok := failed.Last(); ok {
		t.Error("expected no values")
	}
}
