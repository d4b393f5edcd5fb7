package sourcez

import "github.com/zoobzio/capitan"

// Field keys for sourcez events.
var (
	// KeyAddress is the string form of the request address.
	KeyAddress = capitan.NewStringKey("address")

	// KeyMethod is the request method.
	KeyMethod = capitan.NewStringKey("method")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeySubscribers is the live subscriber count of a cache entry.
	KeySubscribers = capitan.NewIntKey("subscribers")

	// KeySegment is the route segment that failed to match.
	KeySegment = capitan.NewStringKey("segment")

	// KeyState is the current state of a Binding.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyDuration is the elapsed time of a call.
	KeyDuration = capitan.NewDurationKey("duration")
)
