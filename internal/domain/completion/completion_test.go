package completion

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

func TestDetectorBuiltinPrompts(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"dollar prompt", "Test Output\n$ ", true},
		{"user at host", "done\nuser@host:~/src$ ", true},
		{"root prompt", "done\nroot@box:/# ", true},
		{"angle prompt", "PS C:\\> ", true},
		{"no prompt yet", "Test Output\n", false},
		{"prompt char then newline", "cost: 5$\n", false},
		{"empty", "", false},
		{"plain text", "compiling...", false},
		{"crlf output", "Test Output\r\n$ ", true},
		// Documented false positive: output that ends like a prompt.
		{"false positive", "price in $", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.IsComplete(tt.text))
		})
	}
}

func TestDetectorCustomPrompt(t *testing.T) {
	d := NewDetector()
	assert.False(t, d.IsComplete("~/src ❯ "), "unrecognized prompts never complete")

	starship, err := NewPromptMatcher("starship", `❯\s*$`)
	require.NoError(t, err)

	d = NewDetector(starship)
	m, ok := d.Match("~/src ❯ ")
	require.True(t, ok)
	assert.Equal(t, "starship", m.Name())
}

func TestNewPromptMatcherRejectsBadPattern(t *testing.T) {
	_, err := NewPromptMatcher("bad", `(`)
	assert.Error(t, err)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "$ ", LastLine("a\nb\n$ "))
	assert.Equal(t, "", LastLine("a\n"))
	assert.Equal(t, "progress 100%", LastLine("progress 10%\rprogress 100%"))
	assert.Equal(t, "abc", LastLine("abc"))
}

func TestWatchdogFiresAfterInactivity(t *testing.T) {
	fired := make(chan id.BlockID, 1)
	w := NewWatchdog(func(blockID id.BlockID) { fired <- blockID })

	blockID := id.NewBlockID()
	w.Arm(blockID, 30*time.Millisecond)

	select {
	case got := <-fired:
		assert.Equal(t, blockID, got)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	_, armed := w.Armed()
	assert.False(t, armed)
}

func TestWatchdogTouchPostponesFiring(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(func(id.BlockID) { fired.Add(1) })

	blockID := id.NewBlockID()
	w.Arm(blockID, 60*time.Millisecond)

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		assert.True(t, w.Touch(blockID))
	}
	assert.Equal(t, int32(0), fired.Load())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWatchdogDisarm(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(func(id.BlockID) { fired.Add(1) })

	blockID := id.NewBlockID()
	w.Arm(blockID, 20*time.Millisecond)

	other := id.NewBlockID()
	w.Disarm(other)
	assert.False(t, w.Touch(other))

	w.Disarm(blockID)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestWatchdogRearmReplacesBlock(t *testing.T) {
	fired := make(chan id.BlockID, 2)
	w := NewWatchdog(func(blockID id.BlockID) { fired <- blockID })

	first := id.NewBlockID()
	second := id.NewBlockID()
	w.Arm(first, time.Hour)
	w.Arm(second, 20*time.Millisecond)

	select {
	case got := <-fired:
		assert.Equal(t, second, got)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	w.Stop()
}
