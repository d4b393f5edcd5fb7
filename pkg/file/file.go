// Package file provides a sourcez backend for files under a root directory.
// Observation uses fsnotify on the parent directory, so replacing a file by
// rename is seen as a change.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/sourcez"
)

// DefaultDebounce is the default quiet period before a change is read.
const DefaultDebounce = 100 * time.Millisecond

// Backend maps addresses onto files below a root directory.
type Backend struct {
	root     string
	debounce time.Duration
	clock    clockz.Clock
	perm     os.FileMode
}

// Option configures a Backend.
type Option func(*Backend)

// WithDebounce sets how long writes must settle before the file is read.
// Editors and atomic writers often produce several events per save.
// Default: 100ms.
func WithDebounce(d time.Duration) Option {
	return func(b *Backend) {
		b.debounce = d
	}
}

// WithClock sets the clock driving the debounce timer.
func WithClock(clock clockz.Clock) Option {
	return func(b *Backend) {
		b.clock = clock
	}
}

// WithPerm sets the permissions of files written by SET.
// Default: 0o644.
func WithPerm(perm os.FileMode) Option {
	return func(b *Backend) {
		b.perm = perm
	}
}

// New creates a Backend rooted at dir.
func New(dir string, opts ...Option) *Backend {
	b := &Backend{
		root:     dir,
		debounce: DefaultDebounce,
		clock:    clockz.RealClock,
		perm:     0o644,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the file path for address. Segments that would leave the
// root directory are rejected.
func (b *Backend) Path(address sourcez.Address) (string, error) {
	for _, s := range address {
		if s == "." || s == ".." || filepath.Base(s) != s {
			return "", &sourcez.RequestError{
				Kind:    sourcez.ErrInvalidAddress,
				Address: address,
				Detail:  fmt.Sprintf("segment %q is not a file name", s),
			}
		}
	}
	return filepath.Join(append([]string{b.root}, address...)...), nil
}

// Watcher returns a Watcher for the file at path.
func (b *Backend) Watcher(path string) *Watcher {
	return &Watcher{path: path, debounce: b.debounce, clock: b.clock}
}

// Handler returns the backend Handler. Values are raw bytes; a missing
// file reads as nil. SET writes through a temporary file and a rename.
func (b *Backend) Handler() sourcez.Handler {
	return sourcez.Methods{
		Observe: func(ctx context.Context, req sourcez.Request, o sourcez.Observer) func() {
			path, err := b.Path(req.Address)
			if err != nil {
				o.Error(err)
				return nil
			}
			return sourcez.FromWatcher(ctx, b.Watcher(path)).Subscribe(o).Unsubscribe
		},
		Calls: map[sourcez.Method]sourcez.CallFunc{
			sourcez.Get: b.get,
			sourcez.Set: b.set,
		},
	}.Handler()
}

func (b *Backend) get(_ context.Context, req sourcez.Request) (any, error) {
	path, err := b.Path(req.Address)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (b *Backend) set(_ context.Context, req sourcez.Request) (any, error) {
	path, err := b.Path(req.Address)
	if err != nil {
		return nil, err
	}
	data, err := sourcez.ValueBytes(req)
	if err != nil {
		return nil, err
	}
	if err := writeFile(path, data, b.perm); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return nil, nil
}

// writeFile replaces path atomically, creating parent directories.
func writeFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Watcher watches a file for changes and emits its contents.
type Watcher struct {
	path     string
	debounce time.Duration
	clock    clockz.Clock
}

// NewWatcher creates a Watcher for path with the default debounce.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path, debounce: DefaultDebounce, clock: clockz.RealClock}
}

// Watch begins watching the file and returns a channel that emits the file
// contents whenever the file is written, created or replaced. The current
// contents are emitted immediately when the file exists. The parent
// directory must exist.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Close()

		emit := func() bool {
			data, err := os.ReadFile(w.path)
			if err != nil {
				return true
			}
			select {
			case out <- data:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}

		var timer clockz.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			var timerC <-chan time.Time
			if timer != nil {
				timerC = timer.C()
			}

			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if w.debounce <= 0 {
					if !emit() {
						return
					}
					continue
				}
				if timer == nil {
					timer = w.clock.NewTimer(w.debounce)
					continue
				}
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(w.debounce)

			case <-timerC:
				timer = nil
				if !emit() {
					return
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}
