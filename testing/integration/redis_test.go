package integration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/zoobzio/sourcez"
	szredis "github.com/zoobzio/sourcez/pkg/redis"
	sztesting "github.com/zoobzio/sourcez/testing"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	// Enable keyspace notifications
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		t.Fatalf("failed to enable keyspace notifications: %v", err)
	}

	return client
}

func newRedisSource(client *redis.Client) *sourcez.Source {
	return sourcez.New(sourcez.MustRoutes(map[string]sourcez.Handler{
		"json":  sourcez.Transcode(sourcez.JSONCodec{}),
		"redis": szredis.New(client).Handler(),
	}))
}

func TestRedis_BindingInitialLoad(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Set(ctx, "config:test", `{"port": 6379, "host": "cache"}`, 0).Err(); err != nil {
		t.Fatalf("failed to set initial value: %v", err)
	}

	var applied atomic.Value
	b, err := newRedisSource(client).At("/json/redis/config/test").Bind(ctx, sztesting.ValidatingCallback(func(cfg sztesting.TestConfig) {
		applied.Store(cfg)
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	sztesting.RequireState(t, b, sourcez.StateResolved)
	if cfg := applied.Load().(sztesting.TestConfig); cfg.Port != 6379 || cfg.Host != "cache" {
		t.Errorf("unexpected applied config: %+v", cfg)
	}
}

func TestRedis_LiveUpdateThroughSet(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	src := newRedisSource(client)

	if err := src.Set(ctx, "/json/redis/config/live", map[string]any{"port": 1000, "host": "v1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var applyCount atomic.Int32
	var lastHost atomic.Value
	b, err := src.At("/json/redis/config/live").Bind(ctx, sztesting.ValidatingCallback(func(cfg sztesting.TestConfig) {
		applyCount.Add(1)
		lastHost.Store(cfg.Host)
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	if err := src.Set(ctx, "/json/redis/config/live", map[string]any{"port": 2000, "host": "v2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return applyCount.Load() == 2 }) {
		t.Fatalf("expected 2 applies, got %d", applyCount.Load())
	}
	if lastHost.Load() != "v2" {
		t.Errorf("expected host v2, got %v", lastHost.Load())
	}
}

func TestRedis_InvalidUpdateRetainsPrevious(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "config:retain"
	if err := client.Set(ctx, key, `{"port": 50, "host": "valid"}`, 0).Err(); err != nil {
		t.Fatalf("failed to set initial value: %v", err)
	}

	b, err := newRedisSource(client).At("/json/redis/config/retain").Bind(ctx, sztesting.ValidatingCallback(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	if err := client.Set(ctx, key, `{"port": -1, "host": "invalid"}`, 0).Err(); err != nil {
		t.Fatalf("failed to set invalid value: %v", err)
	}
	if !sztesting.WaitForState(t, b, sourcez.StateDegraded, 5*time.Second) {
		t.Fatalf("expected degraded, got %s", b.State())
	}

	sztesting.RequireValue(t, b, func(v any) bool {
		cfg, err := sztesting.DecodeTestConfig(v)
		return err == nil && cfg.Host == "valid"
	})
	if b.LastError() == nil {
		t.Error("expected LastError to be set")
	}

	if err := client.Set(ctx, key, `{"port": 99, "host": "recovered"}`, 0).Err(); err != nil {
		t.Fatalf("failed to set valid value: %v", err)
	}
	if !sztesting.WaitForState(t, b, sourcez.StateResolved, 5*time.Second) {
		t.Fatalf("expected resolved after recovery, got %s", b.State())
	}
}
