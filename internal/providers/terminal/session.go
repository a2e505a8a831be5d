package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// interruptByte is ^C; the line discipline turns it into SIGINT for the
// foreground process group
const interruptByte = 0x03

// drainTimeout bounds how long exit handling waits for the last reads
const drainTimeout = 500 * time.Millisecond

// ErrClosed is returned when writing to a session whose shell is gone
var ErrClosed = errors.New("terminal session closed")

// Session is one shell running on a pseudo-terminal. Output is sanitized
// into a Transcript and every append fires the change callback from the
// reader goroutine.
type Session struct {
	opts       Options
	logger     *zap.Logger
	transcript Transcript
	sanitizer  Sanitizer

	// Process management
	cmd       *exec.Cmd
	ptmx      *os.File
	startedAt time.Time
	readDone  chan struct{}

	onChange func()
	onExit   func(error)

	// Lifecycle
	mu        sync.RWMutex
	writeMu   sync.Mutex
	started   bool
	closed    bool
	closeOnce sync.Once
}

// NewSession prepares a session; the shell starts with Start
func NewSession(opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		opts:     withDefaults(opts),
		logger:   logger,
		readDone: make(chan struct{}),
	}
}

func withDefaults(opts Options) Options {
	// Default shell
	if opts.Shell == "" {
		opts.Shell = os.Getenv("SHELL")
		if opts.Shell == "" {
			opts.Shell = "/bin/bash"
		}
	}

	// Default working directory
	if opts.WorkingDir == "" {
		opts.WorkingDir = os.Getenv("HOME")
		if opts.WorkingDir == "" {
			opts.WorkingDir = "/tmp"
		}
	}

	// Default dimensions
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	return opts
}

// Start spawns the shell. onChange runs on the reader goroutine after
// each transcript append; onExit runs once when the shell exits.
func (s *Session) Start(onChange func(), onExit func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("terminal session already started")
	}

	cmd := exec.Command(s.opts.Shell, s.opts.Args...)
	cmd.Dir = s.opts.WorkingDir

	// Set environment variables
	cmd.Env = append(os.Environ(), "TERM="+s.opts.Term)
	for key, value := range s.opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(s.opts.Rows),
		Cols: uint16(s.opts.Cols),
	})
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.startedAt = time.Now()
	s.onChange = onChange
	s.onExit = onExit
	s.started = true

	s.logger.Info("Shell started",
		zap.String("shell", s.opts.Shell),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("working_dir", s.opts.WorkingDir),
	)

	go s.readOutput()
	go s.monitorProcess()

	return nil
}

// Snapshot returns the sanitized transcript and its epoch
func (s *Session) Snapshot() (string, uint64) {
	return s.transcript.Snapshot()
}

// Discard drops an already consumed transcript prefix
func (s *Session) Discard(n int, epoch uint64) bool {
	return s.transcript.Discard(n, epoch)
}

// Write sends input to the shell
func (s *Session) Write(p []byte) (int, error) {
	s.mu.RLock()
	closed, ptmx := s.closed, s.ptmx
	s.mu.RUnlock()

	if ptmx == nil || closed {
		return 0, ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return ptmx.Write(p)
}

// Interrupt sends ^C to the foreground job
func (s *Session) Interrupt() error {
	_, err := s.Write([]byte{interruptByte})
	return err
}

// Resize changes terminal dimensions
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ptmx == nil || s.closed {
		return ErrClosed
	}

	s.opts.Cols = cols
	s.opts.Rows = rows

	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Info returns the public session description
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		Shell:      s.opts.Shell,
		WorkingDir: s.opts.WorkingDir,
		Cols:       s.opts.Cols,
		Rows:       s.opts.Rows,
		StartedAt:  s.startedAt,
		Active:     s.started && !s.closed,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		info.PID = s.cmd.Process.Pid
	}
	return info
}

// Close kills the shell and releases the PTY
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd, ptmx := s.cmd, s.ptmx
	s.mu.Unlock()

	var err error
	if cmd.Process != nil {
		if kerr := cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
	}
	s.closePTY(ptmx)
	return err
}

func (s *Session) closePTY(ptmx *os.File) {
	s.closeOnce.Do(func() {
		if err := ptmx.Close(); err != nil {
			s.logger.Debug("PTY close", zap.Error(err))
		}
	})
}

// readOutput continuously reads from the PTY into the transcript
func (s *Session) readOutput() {
	defer close(s.readDone)

	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.append(s.sanitizer.Write(buf[:n]))
		}
		if err != nil {
			// Linux reports EIO once the shell side is gone
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				s.logger.Debug("PTY read ended", zap.Error(err))
			}
			break
		}
	}
	s.append(s.sanitizer.Flush())
}

func (s *Session) append(text string) {
	if text == "" {
		return
	}
	s.transcript.Append(text)
	if s.onChange != nil {
		s.onChange()
	}
}

// monitorProcess waits for the shell to exit, lets the reader drain and
// reports the exit
func (s *Session) monitorProcess() {
	err := s.cmd.Wait()

	select {
	case <-s.readDone:
	case <-time.After(drainTimeout):
		// a background job may still hold the PTY open
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closePTY(s.ptmx)

	s.logger.Info("Shell exited",
		zap.String("shell", s.opts.Shell),
		zap.Error(err),
	)
	if s.onExit != nil {
		s.onExit(err)
	}
}
