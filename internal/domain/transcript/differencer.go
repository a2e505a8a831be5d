// Package transcript turns repeated full-transcript snapshots into
// incremental fragments.
//
// A terminal's "changed" notification carries no payload, so every
// notification re-reads the whole transcript. The Differencer remembers
// how much of it has already been emitted and hands out only the suffix
// appended since. Reading the snapshot, slicing it and advancing the
// cursor happen under one lock: recording the length twice duplicates
// output, never recording it loses output.
package transcript

import "sync"

// Source is anything that can produce a full transcript snapshot. The
// epoch changes whenever the underlying buffer is reset.
type Source interface {
	Snapshot() (text string, epoch uint64)
}

// Differencer tracks the emitted prefix length of a growing transcript.
// It is safe to call from any goroutine.
type Differencer struct {
	mu     sync.Mutex
	offset int
	epoch  uint64
}

// NewDifferencer creates a differencer with the cursor at zero
func NewDifferencer() *Differencer {
	return &Differencer{}
}

// Diff returns the suffix of transcript appended since the previous
// call and advances the cursor to len(transcript). A transcript shorter
// than the recorded length is treated as a session reset: the cursor
// restarts at zero and the whole transcript is new.
func (d *Differencer) Diff(transcript string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.diffLocked(transcript, d.epoch)
}

// Next reads a snapshot from src and returns the new suffix. The read
// happens inside the lock so two concurrent notifications cannot
// observe snapshots in one order and advance the cursor in the other.
func (d *Differencer) Next(src Source) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	text, epoch := src.Snapshot()
	return d.diffLocked(text, epoch)
}

func (d *Differencer) diffLocked(text string, epoch uint64) string {
	if epoch != d.epoch || len(text) < d.offset {
		d.epoch = epoch
		d.offset = 0
	}

	if len(text) == d.offset {
		return ""
	}

	fragment := text[d.offset:]
	d.offset = len(text)
	return fragment
}

// Cursor returns the cursor position with the epoch it belongs to
func (d *Differencer) Cursor() (offset int, epoch uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset, d.epoch
}
