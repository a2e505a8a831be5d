package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned while the breaker refuses calls
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned in half-open state while a trial call
	// is still running
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker
	Threshold int
	// Cooldown is how long the breaker stays open before one trial call
	Cooldown time.Duration
	// OnStateChange is called whenever the state changes, under no lock
	OnStateChange func(name string, from, to State)
	// now is replaced in tests
	now func() time.Time
}

// Breaker stops calling an operation that keeps failing. After Threshold
// consecutive failures it rejects calls for Cooldown, then lets a single
// trial through: success closes it, failure reopens it.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker. Zero settings mean five failures and a thirty
// second cooldown.
func New(name string, settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.now == nil {
		settings.now = time.Now
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

// Failures returns the current run of consecutive failures
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do runs fn unless the breaker is open. fn's error is returned as is
// and counted against the breaker.
func (b *Breaker) Do(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	panicked := true
	defer func() {
		if panicked {
			b.record(false)
		}
	}()

	err := fn()
	panicked = false
	b.record(err == nil)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentLocked() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			return ErrProbeInFlight
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	from := b.currentLocked()
	b.probing = false

	if success {
		b.failures = 0
		b.state = StateClosed
	} else {
		b.failures++
		if from == StateHalfOpen || b.failures >= b.settings.Threshold {
			b.state = StateOpen
			b.openedAt = b.settings.now()
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

// currentLocked moves an expired open breaker to half-open
func (b *Breaker) currentLocked() State {
	if b.state == StateOpen && b.settings.now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.state = StateHalfOpen
	}
	return b.state
}
