// Package postgres provides a sourcez backend storing values as rows of a
// key/value table. Observation uses LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/sourcez"
)

const (
	// DefaultTable holds the key/value rows.
	DefaultTable = "config"
	// DefaultChannel receives the key of every written row.
	DefaultChannel = "config_changed"
	// DefaultSeparator joins address segments into a key.
	DefaultSeparator = "/"
)

// Backend maps addresses onto rows of a key/value table. The table needs a
// trigger publishing the key of every written row on the notification
// channel; Install creates one.
//
// Equivalent trigger setup:
//
//	CREATE OR REPLACE FUNCTION notify_config_change() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('config_changed', NEW.key);
//	    RETURN NEW;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER config_change_trigger
//	    AFTER INSERT OR UPDATE ON config
//	    FOR EACH ROW EXECUTE FUNCTION notify_config_change();
type Backend struct {
	pool      *pgxpool.Pool
	table     string
	channel   string
	prefix    string
	separator string
}

// Option configures a Backend.
type Option func(*Backend)

// WithTable sets the table name to query for values.
// Defaults to "config".
func WithTable(table string) Option {
	return func(b *Backend) {
		b.table = table
	}
}

// WithChannel sets the notification channel.
// Defaults to "config_changed".
func WithChannel(channel string) Option {
	return func(b *Backend) {
		b.channel = channel
	}
}

// WithPrefix prepends prefix to every key.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// New creates a Backend using pool.
func New(pool *pgxpool.Pool, opts ...Option) *Backend {
	b := &Backend{
		pool:      pool,
		table:     DefaultTable,
		channel:   DefaultChannel,
		separator: DefaultSeparator,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the row key for address.
func (b *Backend) Key(address sourcez.Address) string {
	return address.Key(b.prefix, b.separator)
}

// Install creates the table and the notification trigger when missing.
func (b *Backend) Install(ctx context.Context) error {
	table := pgx.Identifier{b.table}.Sanitize()
	function := pgx.Identifier{"notify_" + b.table + "_change"}.Sanitize()
	trigger := pgx.Identifier{b.table + "_change_trigger"}.Sanitize()
	channel := "'" + b.channel + "'"

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BYTEA NOT NULL)`, table),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(%s, NEW.key);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`, function, channel),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, table),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION %s()`, trigger, table, function),
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres install: %w", err)
		}
	}
	return nil
}

// Watcher returns a Watcher for the row of address.
func (b *Backend) Watcher(address sourcez.Address) *Watcher {
	return &Watcher{backend: b, key: b.Key(address)}
}

// Handler returns the backend Handler. Values are raw bytes; a missing row
// reads as nil.
func (b *Backend) Handler() sourcez.Handler {
	return sourcez.Methods{
		Observe: func(ctx context.Context, req sourcez.Request, o sourcez.Observer) func() {
			return sourcez.FromWatcher(ctx, b.Watcher(req.Address)).Subscribe(o).Unsubscribe
		},
		Calls: map[sourcez.Method]sourcez.CallFunc{
			sourcez.Get: b.get,
			sourcez.Set: b.set,
		},
	}.Handler()
}

func (b *Backend) get(ctx context.Context, req sourcez.Request) (any, error) {
	value, err := b.fetch(ctx, b.Key(req.Address))
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", b.Key(req.Address), err)
	}
	if value == nil {
		return nil, nil
	}
	return value, nil
}

func (b *Backend) set(ctx context.Context, req sourcez.Request) (any, error) {
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		pgx.Identifier{b.table}.Sanitize(),
	)
	if _, err := b.pool.Exec(ctx, query, b.Key(req.Address), data); err != nil {
		return nil, fmt.Errorf("postgres set %s: %w", b.Key(req.Address), err)
	}
	return nil, nil
}

// fetch returns the row's value, or nil when there is no row.
func (b *Backend) fetch(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{b.table}.Sanitize())
	err := b.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Watcher watches a table row for changes using LISTEN/NOTIFY.
type Watcher struct {
	backend *Backend
	key     string
}

// Watch begins listening for notifications and returns a channel that emits
// the row's value whenever it is written. The current value is emitted
// immediately when the row exists.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	conn, err := w.backend.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{w.backend.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", w.backend.channel, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer conn.Release()

		value, err := w.backend.fetch(ctx, w.key)
		if err == nil && value != nil {
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				// The listening connection is gone.
				return
			}
			if notification.Payload != w.key {
				continue
			}

			value, err := w.backend.fetch(ctx, w.key)
			if err != nil || value == nil {
				continue
			}

			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
