package manager

import (
	"printsync/internal/moonraker"
	"printsync/internal/status"
)

// State represents the lifecycle state of the supervisor.
type State string

const (
	StateStarting     State = "starting"
	StateConnecting   State = "connecting"
	StateOnline       State = "online"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Snapshot is a read-only projection of the supervisor state.
type Snapshot struct {
	State      State
	Connection moonraker.State
	Status     status.Snapshot
	Document   status.Document
	Err        string
}
