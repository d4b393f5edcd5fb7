package sourcez

import "context"

// ChannelWatcher adapts a byte channel to the Watcher interface, for tests
// and for custom sources that already produce bytes. Every Watch call reads
// from the same channel, so concurrent watches split its values.
type ChannelWatcher struct {
	ch     <-chan []byte
	direct bool
}

// NewChannelWatcher creates a ChannelWatcher that forwards values through
// an internal goroutine and stops when the watch context is canceled.
func NewChannelWatcher(ch <-chan []byte) *ChannelWatcher {
	return &ChannelWatcher{ch: ch}
}

// NewDirectChannelWatcher creates a ChannelWatcher that hands out the
// source channel itself. Values are delivered on the goroutine that sends
// them, which keeps tests deterministic; cancellation is left to the
// channel owner.
func NewDirectChannelWatcher(ch <-chan []byte) *ChannelWatcher {
	return &ChannelWatcher{ch: ch, direct: true}
}

// Watch returns a channel that emits values from the wrapped channel.
func (w *ChannelWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	if w.direct {
		return w.ch, nil
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-w.ch:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
