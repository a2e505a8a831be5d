// Package block implements the command block state machine.
//
// A Block is one submitted command with its accumulated output and
// lifecycle. The Manager owns every block of a session behind a single
// mutex, batches output arriving from the pipeline, queues commands
// submitted while the shell is busy and pushes snapshots to observers.
package block

import (
	"time"

	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

// Status is the lifecycle state of a block
type Status int

const (
	StatusPending Status = iota
	StatusExecuting
	StatusSuccess
	StatusFailure
	StatusCanceled
	// StatusUnknown means no completion signal arrived in time
	StatusUnknown
)

// ExitCodeInterrupted is recorded for canceled blocks
const ExitCodeInterrupted = 130

// CanceledMarker is appended to a canceled block's output
const CanceledMarker = "^C\n[canceled by user]\n"

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuting:
		return "executing"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusCanceled:
		return "canceled"
	case StatusUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s >= StatusSuccess
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Block is an immutable snapshot of one command block
type Block struct {
	ID               id.BlockID `json:"id"`
	Command          string     `json:"command"`
	Output           string     `json:"output"`
	Status           Status     `json:"status"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ExitCode         *int       `json:"exit_code,omitempty"`
	WorkingDirectory string     `json:"working_directory,omitempty"`
	Expanded         bool       `json:"expanded"`
	// Diagnostic explains a finalization that did not come from the
	// command itself (dispatch error, timeout, shell exit)
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Duration is the wall time the block took, or ran so far
func (b Block) Duration() time.Duration {
	start := b.SubmittedAt
	if b.StartedAt != nil {
		start = *b.StartedAt
	}
	if b.CompletedAt != nil {
		return b.CompletedAt.Sub(start)
	}
	if b.Status == StatusPending {
		return 0
	}
	return time.Since(start)
}

// SubmitOptions carries optional submission parameters
type SubmitOptions struct {
	// WorkingDirectory recorded on the block; empty means unknown
	WorkingDirectory string
}
