package sourcez

import "github.com/zoobzio/capitan"

// Subscription cache signals.
var (
	// EntryCreated is emitted when the first subscriber of an address
	// creates a cache entry and the backend is invoked.
	EntryCreated = capitan.NewSignal(
		"sourcez.entry.created",
		"Cache entry created",
	)

	// EntryJoined is emitted when a subscriber joins a live cache entry.
	EntryJoined = capitan.NewSignal(
		"sourcez.entry.joined",
		"Subscriber joined cache entry",
	)

	// EntryEvicted is emitted when a cache entry is removed.
	EntryEvicted = capitan.NewSignal(
		"sourcez.entry.evicted",
		"Cache entry evicted",
	)

	// EntryFailed is emitted when the backend stream of an entry errors.
	EntryFailed = capitan.NewSignal(
		"sourcez.entry.failed",
		"Backend stream failed",
	)
)

// Request signals.
var (
	// RequestRejected is emitted when the validator refuses a request or
	// a backend breaks the result contract.
	RequestRejected = capitan.NewSignal(
		"sourcez.request.rejected",
		"Request rejected",
	)

	// RouteMissed is emitted when no route matches a segment.
	RouteMissed = capitan.NewSignal(
		"sourcez.route.missed",
		"No route for segment",
	)

	// StreamErrorUnhandled is emitted when a stream fails and the observer
	// has no Error callback.
	StreamErrorUnhandled = capitan.NewSignal(
		"sourcez.stream.unhandled",
		"Stream error without handler",
	)
)

// Call signals.
var (
	// CallSucceeded is emitted when a single-shot call resolves.
	CallSucceeded = capitan.NewSignal(
		"sourcez.call.succeeded",
		"Call resolved",
	)

	// CallFailed is emitted when a single-shot call fails.
	CallFailed = capitan.NewSignal(
		"sourcez.call.failed",
		"Call failed",
	)
)

// Binding lifecycle signals.
var (
	// BindingStarted is emitted when a Binding subscribes.
	BindingStarted = capitan.NewSignal(
		"sourcez.binding.started",
		"Binding started",
	)

	// BindingStopped is emitted when a Binding unsubscribes.
	BindingStopped = capitan.NewSignal(
		"sourcez.binding.stopped",
		"Binding stopped",
	)

	// BindingStateChanged is emitted when a Binding transitions between states.
	BindingStateChanged = capitan.NewSignal(
		"sourcez.binding.state.changed",
		"Binding state transition",
	)

	// BindingApplyFailed is emitted when the binding callback fails.
	BindingApplyFailed = capitan.NewSignal(
		"sourcez.binding.apply.failed",
		"Binding callback failed",
	)

	// ValueRejected is emitted when a delivered value fails to decode or
	// validate into the type a Validated callback expects.
	ValueRejected = capitan.NewSignal(
		"sourcez.value.rejected",
		"Value failed decode or validation",
	)
)
