// Package bench runs one benchmark connection per worker and bounds the
// lifetime of a whole run.
package bench

// State is a worker's lifecycle state.
//
//	CONNECTING -> ACTIVE -> DRAINING -> CLOSED
//	     |           |
//	     +-----------+-> FAILED -> CLOSED
type State int32

const (
	// StateConnecting covers accept hand-off or dialing.
	StateConnecting State = iota
	// StateActive is the transfer loop.
	StateActive
	// StateDraining is an orderly end: deadline, cancellation or peer close.
	StateDraining
	// StateFailed is an end caused by a connect, allocation or I/O error.
	StateFailed
	// StateClosed means every resource is released and metrics are final.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role selects which side of the stream a worker drives.
type Role string

const (
	// RoleServer accepts connections and transmits units.
	RoleServer Role = "server"
	// RoleClient dials and receives units.
	RoleClient Role = "client"
)
