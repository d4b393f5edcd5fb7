package zookeeper

import (
	"context"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zoobzio/sourcez"
)

func setupZookeeper(t *testing.T) *zk.Conn {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "zookeeper:3.9",
			ExposedPorts: []string{"2181/tcp"},
			WaitingFor:   wait.ForListeningPort("2181/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start zookeeper container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}

	port, err := container.MappedPort(ctx, "2181/tcp")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}

	conn, _, err := zk.Connect([]string{host + ":" + port.Port()}, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

func TestBackend_Path(t *testing.T) {
	if got := New(nil).Path(sourcez.MustParseAddress("/config/db")); got != "/config/db" {
		t.Errorf("expected '/config/db', got %q", got)
	}
	if got := New(nil, WithPrefix("/myapp/")).Path(sourcez.MustParseAddress("/config")); got != "/myapp/config" {
		t.Errorf("expected '/myapp/config', got %q", got)
	}
	if got := New(nil).Path(sourcez.Address{}); got != "/" {
		t.Errorf("expected root path, got %q", got)
	}
}

func TestBackend_SetCreatesMissingNodes(t *testing.T) {
	conn := setupZookeeper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src := sourcez.New(New(conn, WithPrefix("/myapp")).Handler())

	if err := src.Set(ctx, "/config/test", []byte("v1")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	data, _, err := conn.Get("/myapp/config/test")
	if err != nil {
		t.Fatalf("expected node to exist: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("expected 'v1', got %q", data)
	}

	if err := src.Set(ctx, "/config/test", []byte("v2")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, err := src.Get(ctx, "/config/test")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(v.([]byte)) != "v2" {
		t.Errorf("expected 'v2', got %q", v)
	}

	missing, err := src.Get(ctx, "/config/missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing node, got %v", missing)
	}
}

func TestWatcher_WaitsForNodeCreation(t *testing.T) {
	conn := setupZookeeper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := New(conn)
	ch, err := b.Watcher(sourcez.MustParseAddress("/later")).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case <-ch:
		t.Error("did not expect value for nonexistent node")
	case <-time.After(500 * time.Millisecond):
	}

	if _, err := conn.Create("/later", []byte("created"), 0, zk.WorldACL(zk.PermAll)); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != "created" {
			t.Errorf("expected 'created', got %q", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for created node")
	}
}

func TestWatcher_EmitsOnChange(t *testing.T) {
	conn := setupZookeeper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := conn.Create("/settings", []byte(`{"v": 1}`), 0, zk.WorldACL(zk.PermAll)); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	stream, err := sourcez.New(New(conn).Handler()).Observe(ctx, "/settings")
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	values := make(chan string, 4)
	sub := stream.Subscribe(sourcez.Observer{Next: func(v any) { values <- string(v.([]byte)) }})
	defer sub.Unsubscribe()

	select {
	case v := <-values:
		if v != `{"v": 1}` {
			t.Errorf("expected initial value, got %q", v)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for initial value")
	}

	if _, err := conn.Set("/settings", []byte(`{"v": 2}`), -1); err != nil {
		t.Fatalf("failed to update node: %v", err)
	}

	select {
	case v := <-values:
		if v != `{"v": 2}` {
			t.Errorf("expected updated value, got %q", v)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}
