package sourcez

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on cache, call and binding events.
type MetricsProvider interface {
	// OnEntryCreated is called when a cache entry is created for address.
	OnEntryCreated(address string)

	// OnEntryEvicted is called when a cache entry is removed.
	OnEntryEvicted(address string)

	// OnReplay is called when a joining subscriber receives the last value.
	OnReplay(address string)

	// OnBackendError is called when the backend stream of an entry fails.
	OnBackendError(address string)

	// OnCallSuccess is called when a single-shot call resolves.
	OnCallSuccess(method Method, duration time.Duration)

	// OnCallFailure is called when a single-shot call fails.
	OnCallFailure(method Method, duration time.Duration)

	// OnStateChange is called when a Binding transitions between states.
	OnStateChange(from, to State)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnEntryCreated(_ string)                 {}
func (NoOpMetricsProvider) OnEntryEvicted(_ string)                 {}
func (NoOpMetricsProvider) OnReplay(_ string)                       {}
func (NoOpMetricsProvider) OnBackendError(_ string)                 {}
func (NoOpMetricsProvider) OnCallSuccess(_ Method, _ time.Duration) {}
func (NoOpMetricsProvider) OnCallFailure(_ Method, _ time.Duration) {}
func (NoOpMetricsProvider) OnStateChange(_, _ State)                {}
