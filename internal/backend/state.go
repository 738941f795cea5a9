package backend

import "time"

// State is one node of the BackendService connection state machine
// (spec §4.B): Disconnected -> Connecting -> Connected ->
// (Disconnecting | Reconnecting | Failed) -> Disconnected.
type State string

const (
	StateDisconnected  State = "Disconnected"
	StateConnecting    State = "Connecting"
	StateConnected     State = "Connected"
	StateDisconnecting State = "Disconnecting"
	StateReconnecting  State = "Reconnecting"
	StateFailed        State = "Failed"
)

// Status is a point-in-time snapshot of a BackendService, safe to read
// without holding the service's internal lock.
type Status struct {
	Name              string
	State             State
	LastError         error
	ConnectedAt       time.Time
	ReconnectAttempts int
	ToolCount         int
}
