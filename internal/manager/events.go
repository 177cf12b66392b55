package manager

// Event represents a supervisor lifecycle event.
// Minimal and stable: a name plus optional fields via key/values.
type Event struct {
	Name   string
	Fields map[string]any
}

// Event names published by the supervisor.
const (
	EventConnectStart   = "connect_start"
	EventConnected      = "connected"
	EventConnectFailed  = "connect_failed"
	EventConnectionLost = "connection_lost"
	EventReconnectStart = "reconnect_start"
	EventFileChanged    = "file_changed"
	EventMetadataLoaded = "metadata_loaded"
	EventStopped        = "stopped"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
