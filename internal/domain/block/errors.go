package block

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

var (
	// ErrNotFound is returned for an unknown block id
	ErrNotFound = errors.New("block not found")
	// ErrEmptyCommand is returned when submitting blank text
	ErrEmptyCommand = errors.New("empty command")
	// ErrQueueFull is returned when too many commands wait for the shell
	ErrQueueFull = errors.New("submission queue full")
	// ErrClosed is returned after the manager has been closed
	ErrClosed = errors.New("block manager closed")
	// ErrTerminal is returned when acting on a finished block
	ErrTerminal = errors.New("block already finished")
	// ErrNotExecuting is returned when completing a block still queued
	ErrNotExecuting = errors.New("block not executing")
	// ErrSealed is returned by Submit once the shell is gone
	ErrSealed = errors.New("block manager sealed")
)

// Condition names a degraded situation the pipeline recovered from
type Condition int

const (
	// ConditionPipelineDropped is output lost to a full channel
	ConditionPipelineDropped Condition = iota
	// ConditionCompletionTimeout is a block finalized as unknown
	ConditionCompletionTimeout
	// ConditionDispatchFailure is a command that could not be written
	ConditionDispatchFailure
	// ConditionClassificationAmbiguous is stderr seen on a successful command
	ConditionClassificationAmbiguous
	// ConditionSessionTerminated is the shell exiting
	ConditionSessionTerminated
)

// String returns the string representation of the condition
func (c Condition) String() string {
	switch c {
	case ConditionPipelineDropped:
		return "pipeline_dropped"
	case ConditionCompletionTimeout:
		return "completion_timeout"
	case ConditionDispatchFailure:
		return "dispatch_failure"
	case ConditionClassificationAmbiguous:
		return "classification_ambiguous"
	case ConditionSessionTerminated:
		return "session_terminated"
	default:
		return "unknown"
	}
}

// DispatchError wraps a failed write of a block's command
type DispatchError struct {
	BlockID id.BlockID
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.BlockID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
