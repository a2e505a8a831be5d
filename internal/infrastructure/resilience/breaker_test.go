package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSpawn = errors.New("fork/exec /bin/nope: no such file or directory")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, onChange func(string, State, State)) (*Breaker, *clock) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	return New("spawn", Settings{
		Threshold:     threshold,
		Cooldown:      time.Second,
		OnStateChange: onChange,
		now:           c.Now,
	}), c
}

func fail() error    { return errSpawn }
func succeed() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, nil)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Do(fail), errSpawn)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Do(fail), errSpawn)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2, nil)

	assert.Error(t, b.Do(fail))
	assert.Equal(t, 1, b.Failures())
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, 0, b.Failures())
	assert.Error(t, b.Do(fail))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	var transitions []string
	b, c := newTestBreaker(1, func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	assert.Error(t, b.Do(fail))
	assert.Equal(t, StateOpen, b.State())

	c.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// failed trial reopens
	assert.ErrorIs(t, b.Do(fail), errSpawn)
	assert.Equal(t, StateOpen, b.State())

	c.Advance(time.Second)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "half-open->open", "half-open->closed"}, transitions)
}

func TestBreakerSingleProbe(t *testing.T) {
	b, c := newTestBreaker(1, nil)
	assert.Error(t, b.Do(fail))
	c.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	assert.ErrorIs(t, b.Do(succeed), ErrProbeInFlight)
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCountsPanics(t *testing.T) {
	b, _ := newTestBreaker(1, nil)

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerDefaults(t *testing.T) {
	b := New("defaults", Settings{})
	assert.Equal(t, "defaults", b.Name())
	assert.Equal(t, 5, b.settings.Threshold)
	assert.Equal(t, 30*time.Second, b.settings.Cooldown)
	assert.Equal(t, "unknown", State(42).String())
}
