package completion

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

// Watchdog fires when an armed block sees no activity within its
// window. It guards one block at a time, matching the single command
// in flight per terminal.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	blockID id.BlockID
	window  time.Duration
	gen     uint64
	onFire  func(blockID id.BlockID)
}

// NewWatchdog creates a disarmed watchdog. onFire runs on a timer
// goroutine.
func NewWatchdog(onFire func(blockID id.BlockID)) *Watchdog {
	return &Watchdog{onFire: onFire}
}

// Arm starts (or restarts) the countdown for blockID
func (w *Watchdog) Arm(blockID id.BlockID, window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
	w.blockID = blockID
	w.window = window
	w.startLocked()
}

// Touch restarts the countdown if blockID is the armed block. It
// returns false when the watchdog guards a different block or none.
func (w *Watchdog) Touch(blockID id.BlockID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer == nil || w.blockID != blockID {
		return false
	}
	w.stopLocked()
	w.startLocked()
	return true
}

// Disarm stops the countdown if blockID is the armed block
func (w *Watchdog) Disarm(blockID id.BlockID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.blockID == blockID {
		w.stopLocked()
		w.blockID = ""
	}
}

// Stop disarms regardless of block
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.blockID = ""
}

// Armed returns the guarded block, if any
func (w *Watchdog) Armed() (id.BlockID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockID, w.timer != nil
}

func (w *Watchdog) startLocked() {
	w.gen++
	gen := w.gen
	blockID := w.blockID
	w.timer = time.AfterFunc(w.window, func() {
		w.mu.Lock()
		// A timer that was stopped too late still runs; the generation
		// tells it apart from the current one.
		if w.gen != gen {
			w.mu.Unlock()
			return
		}
		w.timer = nil
		w.blockID = ""
		w.mu.Unlock()

		w.onFire(blockID)
	})
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}
