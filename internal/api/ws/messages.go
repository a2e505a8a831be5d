package ws

import (
	"time"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
	"github.com/GriffinCanCode/termblocks/internal/domain/monitor"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

// Server frame types
const (
	TypeSystem    = "system"
	TypeBlocks    = "blocks"
	TypeFailure   = "failure"
	TypeSubmitted = "submitted"
	TypeCanceled  = "canceled"
	TypePong      = "pong"
	TypeError     = "error"
)

// Client frame types
const (
	TypeSubmit = "submit"
	TypeCancel = "cancel"
	TypePing   = "ping"
)

// Frame is one server message. Only the fields of its type are set.
type Frame struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	SessionID id.SessionID     `json:"session_id,omitempty"`
	Blocks    []block.Block    `json:"blocks,omitempty"`
	Block     *block.Block     `json:"block,omitempty"`
	Failure   *monitor.Failure `json:"failure,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

func newFrame(typ string) Frame {
	return Frame{Type: typ, Timestamp: time.Now().UnixMilli()}
}

func blocksFrame(blocks []block.Block) Frame {
	f := newFrame(TypeBlocks)
	f.Blocks = blocks
	return f
}

func failureFrame(failure monitor.Failure) Frame {
	f := newFrame(TypeFailure)
	f.Failure = &failure
	return f
}

func blockFrame(typ, requestID string, b block.Block) Frame {
	f := newFrame(typ)
	f.RequestID = requestID
	f.Block = &b
	return f
}

func errorFrame(requestID string, err error) Frame {
	f := newFrame(TypeError)
	f.RequestID = requestID
	f.Error = err.Error()
	return f
}
