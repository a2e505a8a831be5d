package shell

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

// Info is the public representation of a session
type Info struct {
	ID               id.SessionID `json:"id"`
	CreatedAt        time.Time    `json:"created_at"`
	Active           bool         `json:"active"`
	ExitError        string       `json:"exit_error,omitempty"`
	WorkingDirectory string       `json:"working_directory"`
	Blocks           int          `json:"blocks"`
	Queued           int          `json:"queued"`
	ActiveBlock      id.BlockID   `json:"active_block,omitempty"`
}

// CreateRequest carries per-session overrides
type CreateRequest struct {
	Shell      string
	Args       []string
	WorkingDir string
	Cols       int
	Rows       int
	Env        map[string]string
}

// TerminalFactory builds an unstarted terminal for a request
type TerminalFactory func(req CreateRequest) Terminal

// Registry tracks the live shells of a server
type Registry struct {
	sessions sync.Map // map[id.SessionID]*Shell
	factory  TerminalFactory
	defaults Options
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	spawn    *resilience.Breaker

	mu     sync.Mutex
	closed bool
}

// NewRegistry creates a registry. defaults apply to every shell; ID and
// WorkingDir are set per session.
func NewRegistry(factory TerminalFactory, defaults Options) *Registry {
	logger := defaults.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory:  factory,
		defaults: defaults,
		logger:   logger,
		metrics:  defaults.Metrics,
	}
}

// WithSpawnBreaker guards shell startup. Once it opens, Create fails
// with ErrSpawnSuspended without trying to start a process.
func (r *Registry) WithSpawnBreaker(b *resilience.Breaker) *Registry {
	r.spawn = b
	return r
}

// Create starts a new shell
func (r *Registry) Create(req CreateRequest) (*Shell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSessionClosed
	}

	opts := r.defaults
	opts.ID = id.NewSessionID()
	if req.WorkingDir != "" {
		opts.WorkingDir = req.WorkingDir
	}

	s := New(r.factory(req), opts)
	if err := r.start(s); err != nil {
		s.Close()
		return nil, err
	}

	r.sessions.Store(s.ID(), s)
	r.metrics.IncSessionsTotal()
	r.metrics.SetSessionsActive(r.count())

	go r.reap(s)

	return s, nil
}

// Get returns a live shell
func (r *Registry) Get(sessionID id.SessionID) (*Shell, error) {
	value, ok := r.sessions.Load(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return value.(*Shell), nil
}

// List describes every shell, oldest first
func (r *Registry) List() []Info {
	var infos []Info
	r.sessions.Range(func(_, value interface{}) bool {
		infos = append(infos, value.(*Shell).Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Remove closes a shell and forgets it
func (r *Registry) Remove(sessionID id.SessionID) error {
	value, ok := r.sessions.LoadAndDelete(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	err := value.(*Shell).Close()
	r.metrics.SetSessionsActive(r.count())
	return err
}

// Close closes every shell
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	var err error
	r.sessions.Range(func(key, value interface{}) bool {
		r.sessions.Delete(key)
		err = multierr.Append(err, value.(*Shell).Close())
		return true
	})
	r.metrics.SetSessionsActive(0)
	return err
}

func (r *Registry) start(s *Shell) error {
	if r.spawn == nil {
		return s.Start()
	}
	err := r.spawn.Do(s.Start)
	if errors.Is(err, resilience.ErrOpen) || errors.Is(err, resilience.ErrProbeInFlight) {
		return ErrSpawnSuspended
	}
	return err
}

// reap keeps exited shells listed (their blocks stay readable) but
// updates the active gauge
func (r *Registry) reap(s *Shell) {
	<-s.Done()
	r.logger.Info("Shell session ended", zap.String("session_id", s.ID().String()))
	r.metrics.SetSessionsActive(r.count())
}

func (r *Registry) count() int {
	n := 0
	r.sessions.Range(func(_, value interface{}) bool {
		if value.(*Shell).Info().Active {
			n++
		}
		return true
	})
	return n
}
