package process

import "time"

// State is the lifecycle of a single child instance. There is no restarting
// state: restarts belong to the loop that owns handles, not to a handle.
type State int32

const (
	StateSpawned State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Status is a point-in-time copy of a handle's observable fields.
type Status struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`
}
