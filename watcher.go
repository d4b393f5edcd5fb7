package sourcez

import "context"

// Watcher observes a source for changes and emits raw bytes on a channel.
// Implementations must emit the current value immediately upon Watch() being
// called so a new subscriber is not left waiting for the first change.
type Watcher interface {
	// Watch begins observing the source and returns a channel that emits
	// raw bytes when changes occur. The channel is closed when the context
	// is canceled or an unrecoverable error occurs.
	//
	// Implementations should emit the current value immediately.
	Watch(ctx context.Context) (<-chan []byte, error)
}

// FromWatcher returns a Stream backed by w. Each subscription starts its
// own watch, derived from ctx without its cancellation, and cancels it on
// unsubscribe. A failing Watch call fails the stream; a closed channel
// completes it.
func FromWatcher(ctx context.Context, w Watcher) *Stream {
	return NewStream(func(o Observer) func() {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		changes, err := w.Watch(watchCtx)
		if err != nil {
			cancel()
			o.Error(err)
			return nil
		}
		go func() {
			for data := range changes {
				o.Next(data)
			}
			if watchCtx.Err() == nil {
				o.Complete()
			}
		}()
		return cancel
	})
}
