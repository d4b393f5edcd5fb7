package sourcez

import "testing"

func TestEntryCreated(t *testing.T) {
	if EntryCreated.Name() != "sourcez.entry.created" {
		t.Errorf("expected name 'sourcez.entry.created', got %q", EntryCreated.Name())
	}
}

func TestEntryJoined(t *testing.T) {
	if EntryJoined.Name() != "sourcez.entry.joined" {
		t.Errorf("expected name 'sourcez.entry.joined', got %q", EntryJoined.Name())
	}
}

func TestEntryEvicted(t *testing.T) {
	if EntryEvicted.Name() != "sourcez.entry.evicted" {
		t.Errorf("expected name 'sourcez.entry.evicted', got %q", EntryEvicted.Name())
	}
}

func TestEntryFailed(t *testing.T) {
	if EntryFailed.Name() != "sourcez.entry.failed" {
		t.Errorf("expected name 'sourcez.entry.failed', got %q", EntryFailed.Name())
	}
}

func TestRequestRejected(t *testing.T) {
	if RequestRejected.Name() != "sourcez.request.rejected" {
		t.Errorf("expected name 'sourcez.request.rejected', got %q", RequestRejected.Name())
	}
}

func TestRouteMissed(t *testing.T) {
	if RouteMissed.Name() != "sourcez.route.missed" {
		t.Errorf("expected name 'sourcez.route.missed', got %q", RouteMissed.Name())
	}
}

func TestStreamErrorUnhandled(t *testing.T) {
	if StreamErrorUnhandled.Name() != "sourcez.stream.unhandled" {
		t.Errorf("expected name 'sourcez.stream.unhandled', got %q", StreamErrorUnhandled.Name())
	}
}

func TestCallSucceeded(t *testing.T) {
	if CallSucceeded.Name() != "sourcez.call.succeeded" {
		t.Errorf("expected name 'sourcez.call.succeeded', got %q", CallSucceeded.Name())
	}
}

func TestCallFailed(t *testing.T) {
	if CallFailed.Name() != "sourcez.call.failed" {
		t.Errorf("expected name 'sourcez.call.failed', got %q", CallFailed.Name())
	}
}

func TestBindingStarted(t *testing.T) {
	if BindingStarted.Name() != "sourcez.binding.started" {
		t.Errorf("expected name 'sourcez.binding.started', got %q", BindingStarted.Name())
	}
}

func TestBindingStopped(t *testing.T) {
	if BindingStopped.Name() != "sourcez.binding.stopped" {
		t.Errorf("expected name 'sourcez.binding.stopped', got %q", BindingStopped.Name())
	}
}

func TestBindingStateChanged(t *testing.T) {
	if BindingStateChanged.Name() != "sourcez.binding.state.changed" {
		t.Errorf("expected name 'sourcez.binding.state.changed', got %q", BindingStateChanged.Name())
	}
}

func TestBindingApplyFailed(t *testing.T) {
	if BindingApplyFailed.Name() != "sourcez.binding.apply.failed" {
		t.Errorf("expected name 'sourcez.binding.apply.failed', got %q", BindingApplyFailed.Name())
	}
}
