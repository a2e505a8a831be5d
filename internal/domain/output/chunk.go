// Package output carries tagged terminal fragments between pipeline
// stages.
//
// Chunks are ephemeral: they exist only in transit from the producer
// (the terminal's notification goroutine) to the consumer that applies
// them to command blocks.
package output

import (
	"time"

	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

// Stream labels a fragment as regular or error output
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

// String returns the string representation of the stream
func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Chunk is one fragment of terminal output addressed to a block
type Chunk struct {
	BlockID   id.BlockID
	Text      string
	Stream    Stream
	Timestamp time.Time
}
