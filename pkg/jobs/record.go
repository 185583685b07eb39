package jobs

import "time"

// State is the externally visible lifecycle state of a job.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
	StateCompleted State = "completed"
)

// Record is the persisted description of a job, written to the job store so
// a control plane can list and inspect jobs across restarts.
type Record struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	State       State     `json:"state"`
	Target      string    `json:"target"`
	Offset      int64     `json:"offset"`
	Length      int64     `json:"length"`
	BytesCopied int64     `json:"bytes_copied"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
