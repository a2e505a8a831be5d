package transcript

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	text  strings.Builder
	epoch uint64
}

func (f *fakeSource) Append(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text.WriteString(s)
}

func (f *fakeSource) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text.Reset()
	f.epoch++
}

func (f *fakeSource) Snapshot() (string, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text.String(), f.epoch
}

func TestDiffReturnsAppendedSuffix(t *testing.T) {
	d := NewDifferencer()

	assert.Equal(t, "hello", d.Diff("hello"))
	assert.Equal(t, " world", d.Diff("hello world"))
	assert.Equal(t, "", d.Diff("hello world"))
	offset, epoch := d.Cursor()
	assert.Equal(t, 11, offset)
	assert.Zero(t, epoch)
}

func TestDiffShorterTranscriptResetsCursor(t *testing.T) {
	d := NewDifferencer()

	d.Diff("a long transcript")
	assert.Equal(t, "new", d.Diff("new"))
	offset, _ := d.Cursor()
	assert.Equal(t, 3, offset)
}

func TestNextResetsOnEpochChange(t *testing.T) {
	src := &fakeSource{}
	d := NewDifferencer()

	src.Append("first session output")
	require.Equal(t, "first session output", d.Next(src))

	// Longer than the old offset but from a fresh buffer: must not skip bytes.
	src.Clear()
	src.Append("second session output, which is longer")
	assert.Equal(t, "second session output, which is longer", d.Next(src))

	offset, epoch := d.Cursor()
	assert.Equal(t, len("second session output, which is longer"), offset)
	assert.Equal(t, uint64(1), epoch, "the cursor belongs to the new buffer")
}

func TestConcurrentNextNeverDuplicatesOrDrops(t *testing.T) {
	src := &fakeSource{}
	d := NewDifferencer()

	var (
		mu        sync.Mutex
		collected strings.Builder
		wg        sync.WaitGroup
	)

	const writers = 4
	const perWriter = 250

	notify := func() {
		frag := d.Next(src)
		mu.Lock()
		collected.WriteString(frag)
		mu.Unlock()
	}

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				src.Append("x")
				notify()
			}
		}()
	}
	wg.Wait()
	notify()

	full, _ := src.Snapshot()
	assert.Equal(t, full, collected.String())
	assert.Len(t, collected.String(), writers*perWriter)
}
