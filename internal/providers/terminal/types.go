package terminal

import (
	"strings"
	"sync"
	"time"
)

// Options configures a PTY session
type Options struct {
	Shell      string
	Args       []string
	WorkingDir string
	Cols       int
	Rows       int
	Term       string
	Env        map[string]string
}

// Info is the public representation of a session
type Info struct {
	Shell      string    `json:"shell"`
	WorkingDir string    `json:"working_dir"`
	Cols       int       `json:"cols"`
	Rows       int       `json:"rows"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Active     bool      `json:"active"`
}

// Transcript is the sanitized text a session has produced. Readers take
// whole snapshots; the epoch changes whenever a prefix is discarded so
// that offsets taken before the change can be recognized as stale.
type Transcript struct {
	mu    sync.RWMutex
	text  strings.Builder
	epoch uint64
}

// Append adds sanitized text
func (t *Transcript) Append(s string) {
	if s == "" {
		return
	}
	t.mu.Lock()
	t.text.WriteString(s)
	t.mu.Unlock()
}

// Snapshot returns the full transcript and its epoch
func (t *Transcript) Snapshot() (string, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text.String(), t.epoch
}

// Len returns the transcript length in bytes
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text.Len()
}

// Discard drops the first n bytes if epoch is still current, then starts
// a new epoch. Text appended after the caller's snapshot is kept.
func (t *Transcript) Discard(n int, epoch uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if epoch != t.epoch || n <= 0 || n > t.text.Len() {
		return false
	}

	rest := t.text.String()[n:]
	t.text = strings.Builder{}
	t.text.WriteString(rest)
	t.epoch++
	return true
}
