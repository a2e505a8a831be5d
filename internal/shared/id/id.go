// Package id provides typed, prefixed ULID identifiers.
//
// ULIDs are k-sortable, so block ids generated by one process sort in
// submission order. Prefixes keep ids readable in logs (blk_*, sess_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// BlockID identifies a command block
type BlockID string

// SessionID identifies a logical terminal
type SessionID string

const (
	BlockPrefix   = "blk"
	SessionPrefix = "sess"
)

// Generator generates monotonic ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with
// monotonic entropy, so ids created within the same millisecond
// still sort in creation order.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewBlockID generates a new block ID
func NewBlockID() BlockID {
	return BlockID(Default().GenerateWithPrefix(BlockPrefix))
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

func (id BlockID) String() string   { return string(id) }
func (id SessionID) String() string { return string(id) }

// IsZero reports whether the block id is unset
func (id BlockID) IsZero() bool { return id == "" }

// Valid reports whether s is a prefixed ULID with the given prefix
func Valid(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed or bare ULID
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
