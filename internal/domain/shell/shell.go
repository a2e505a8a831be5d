// Package shell wires one terminal to a block manager.
//
// Data flows one way: the terminal's change callback diffs the transcript,
// tags the new text with the active block, then hands it to a bounded
// broadcast channel. A single consumer goroutine feeds each chunk through
// the monitor (echo and probe removal, exit code, classification), the
// inactivity watchdog and the completion detector before it reaches the
// block manager. Nothing on the terminal's goroutine touches blocks.
package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
	"github.com/GriffinCanCode/termblocks/internal/domain/classify"
	"github.com/GriffinCanCode/termblocks/internal/domain/completion"
	"github.com/GriffinCanCode/termblocks/internal/domain/monitor"
	"github.com/GriffinCanCode/termblocks/internal/domain/output"
	"github.com/GriffinCanCode/termblocks/internal/domain/transcript"
	"github.com/GriffinCanCode/termblocks/internal/domain/workdir"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

const (
	DefaultInactivityTimeout = 30 * time.Second
	DefaultPromptGrace       = 150 * time.Millisecond
	DefaultCompactThreshold  = 256 << 10

	// interruptSettle gives the shell time to handle ^C before the next
	// command is written, so the tty does not flush it with the input queue
	interruptSettle = 100 * time.Millisecond
	// drainTimeout bounds the wait for queued chunks when the shell exits
	drainTimeout = time.Second
)

var (
	// ErrSessionClosed is returned once the shell has exited or been closed
	ErrSessionClosed = errors.New("shell session closed")
	// ErrSessionNotFound is returned for an unknown session id
	ErrSessionNotFound = errors.New("shell session not found")
	// ErrSpawnSuspended is returned by Create while repeated startup
	// failures hold the spawn breaker open
	ErrSpawnSuspended = errors.New("shell spawning suspended after repeated failures")
)

// Terminal is the PTY contract the shell consumes. Callbacks passed to
// Start may run on any goroutine.
type Terminal interface {
	Start(onChange func(), onExit func(error)) error
	Snapshot() (text string, epoch uint64)
	// Discard drops an already consumed prefix and starts a new epoch
	Discard(n int, epoch uint64) bool
	Write(p []byte) (int, error)
	Interrupt() error
	Resize(cols, rows int) error
	Close() error
}

// Options configures a Shell
type Options struct {
	ID         id.SessionID
	WorkingDir string
	Home       string

	ChannelCapacity   int
	FlushInterval     time.Duration
	InactivityTimeout time.Duration
	PromptGrace       time.Duration
	QueueLimit        int
	CompactThreshold  int
	ProbeTemplate     string

	Prompts       []completion.PromptMatcher
	ErrorMatchers []classify.Matcher
	// InitCommands are written before the first block, their output is
	// not attributed to any block
	InitCommands []string

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type pendingExit struct {
	blockID id.BlockID
	code    int
}

// Shell is one terminal with its command blocks
type Shell struct {
	id        id.SessionID
	createdAt time.Time
	term      Terminal
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	differ     *transcript.Differencer
	classifier *classify.Classifier
	detector   *completion.Detector
	monitor    *monitor.Monitor
	watchdog   *completion.Watchdog
	grace      *completion.Watchdog
	workdir    *workdir.Tracker
	blocks     *block.Manager
	chunks     *output.Channel[output.Chunk]
	sub        *output.Subscription[output.Chunk]

	// pipeMu serializes diff, tag and send so chunks enter the channel in
	// transcript order
	pipeMu sync.Mutex
	// active is the block new output belongs to. Written by Dispatch and
	// finalization, read by the terminal goroutine.
	active atomic.Value

	probeTemplate    string
	inactivity       time.Duration
	promptGrace      time.Duration
	compactThreshold int
	initCommands     []string
	lastInterrupt    atomic.Int64

	mu       sync.Mutex
	exit     pendingExit // Protected by mu
	started  bool        // Protected by mu
	exited   bool        // Protected by mu
	exitErr  error       // Protected by mu
	closed   bool        // Protected by mu
	consumed chan struct{}
	done     chan struct{}
}

// New builds a shell around term. Nothing runs until Start.
func New(term Terminal, opts Options) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ID == "" {
		opts.ID = id.NewSessionID()
	}
	logger = logger.With(zap.String("session_id", opts.ID.String()))

	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.PromptGrace <= 0 {
		opts.PromptGrace = DefaultPromptGrace
	}
	if opts.CompactThreshold <= 0 {
		opts.CompactThreshold = DefaultCompactThreshold
	}

	s := &Shell{
		id:               opts.ID,
		createdAt:        time.Now(),
		term:             term,
		logger:           logger,
		metrics:          opts.Metrics,
		differ:           transcript.NewDifferencer(),
		classifier:       classify.New(opts.ErrorMatchers...),
		detector:         completion.NewDetector(opts.Prompts...),
		workdir:          workdir.NewTracker(opts.WorkingDir, opts.Home),
		probeTemplate:    opts.ProbeTemplate,
		inactivity:       opts.InactivityTimeout,
		promptGrace:      opts.PromptGrace,
		compactThreshold: opts.CompactThreshold,
		initCommands:     opts.InitCommands,
		consumed:         make(chan struct{}),
		done:             make(chan struct{}),
	}
	s.active.Store(id.BlockID(""))

	s.chunks = output.NewChannel(output.Options[output.Chunk]{
		Name:     "output",
		Capacity: opts.ChannelCapacity,
		Logger:   logger,
		OnSend:   s.recordSend("output"),
		Describe: func(c output.Chunk) []zap.Field {
			return []zap.Field{zap.String("block_id", c.BlockID.String()), zap.Int("bytes", len(c.Text))}
		},
	})
	// A client that connects later must not see failures of commands it
	// never watched
	failures := output.NewChannel(output.Options[monitor.Failure]{
		Name:      "failures",
		Capacity:  opts.ChannelCapacity,
		Logger:    logger,
		OnSend:    s.recordSend("failures"),
		NoBacklog: true,
	})
	s.monitor = monitor.New(monitor.Options{
		Classifier:  s.classifier,
		Failures:    failures,
		Logger:      logger,
		OnFailure:   func(f monitor.Failure) { s.metrics.RecordFailure(f.KindName) },
		HoldPartial: s.detector.IsComplete,
	})
	s.watchdog = completion.NewWatchdog(s.onInactive)
	s.grace = completion.NewWatchdog(s.onPromptGrace)
	s.blocks = block.NewManager(s, block.Options{
		FlushInterval: opts.FlushInterval,
		QueueLimit:    opts.QueueLimit,
		Logger:        logger,
		OnFinalize:    s.onFinalize,
		OnCondition:   s.onCondition,
	}).WithMetrics(opts.Metrics)

	// Subscribed before the terminal starts so nothing lands in the backlog
	s.sub, _ = s.chunks.Subscribe()

	return s
}

// Start launches the consumer and the terminal, then writes the init
// commands
func (s *Shell) Start() error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return errors.New("shell already started")
	}
	s.started = true
	s.mu.Unlock()

	go s.consume()

	if err := s.term.Start(s.onChange, s.onExit); err != nil {
		s.chunks.Close()
		s.finish("terminal failed to start")
		return fmt.Errorf("start terminal: %w", err)
	}

	for _, cmd := range s.initCommands {
		if _, err := s.term.Write([]byte(cmd + "\n")); err != nil {
			return fmt.Errorf("init command: %w", err)
		}
	}

	s.logger.Info("Shell session started", zap.String("cwd", s.workdir.Current()))
	return nil
}

// ID returns the session id
func (s *Shell) ID() id.SessionID {
	return s.id
}

// Submit records command as a block and dispatches it, or queues it
// behind the running one. An empty cwd uses the tracked directory.
func (s *Shell) Submit(ctx context.Context, command, cwd string) (block.Block, error) {
	if cwd == "" {
		cwd = s.workdir.Current()
	}

	b, err := s.blocks.Submit(ctx, command, block.SubmitOptions{WorkingDirectory: cwd})
	if errors.Is(err, block.ErrSealed) {
		return b, fmt.Errorf("%w: %s", ErrSessionClosed, b.Diagnostic)
	}
	if err != nil {
		return b, err
	}

	s.workdir.Apply(command)
	return b, nil
}

// Cancel stops a pending or running block
func (s *Shell) Cancel(blockID id.BlockID) (block.Block, error) {
	s.releaseHeld(blockID)
	return s.blocks.Cancel(blockID)
}

// Block returns one block
func (s *Shell) Block(blockID id.BlockID) (block.Block, error) {
	b, ok := s.blocks.Get(blockID)
	if !ok {
		return block.Block{}, block.ErrNotFound
	}
	return b, nil
}

// Blocks returns every block in submission order
func (s *Shell) Blocks() []block.Block {
	return s.blocks.List()
}

// ObserveBlocks returns a live, latest-only view of the block list
func (s *Shell) ObserveBlocks() *block.Observer {
	return s.blocks.Observe()
}

// ObserveFailures subscribes to the failures stream
func (s *Shell) ObserveFailures() (*output.Subscription[monitor.Failure], error) {
	return s.monitor.Failures().Subscribe()
}

// SetExpanded toggles a block's display flag
func (s *Shell) SetExpanded(blockID id.BlockID, expanded bool) (block.Block, error) {
	return s.blocks.SetExpanded(blockID, expanded)
}

// ClearHistory removes finished blocks. With nothing in flight the
// consumed transcript is dropped as well.
func (s *Shell) ClearHistory() int {
	n := s.blocks.Clear()
	if !s.blocks.Idle() {
		return n
	}

	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if s.activeID() != "" {
		return n
	}
	s.differ.Next(s.term)
	if offset, epoch := s.differ.Cursor(); offset > 0 {
		s.term.Discard(offset, epoch)
	}
	return n
}

// WorkingDirectory returns the tracked directory state
func (s *Shell) WorkingDirectory() workdir.State {
	return s.workdir.State()
}

// Resize changes the terminal dimensions
func (s *Shell) Resize(cols, rows int) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.term.Resize(cols, rows)
}

// Done is closed once the shell has exited and its blocks are settled
func (s *Shell) Done() <-chan struct{} {
	return s.done
}

// Info describes the session
func (s *Shell) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Active:    s.started && !s.exited && !s.closed,
	}
	if s.exitErr != nil {
		info.ExitError = s.exitErr.Error()
	}
	s.mu.Unlock()

	info.WorkingDirectory = s.workdir.Current()
	info.Blocks = len(s.blocks.List())
	info.Queued = s.blocks.Queued()
	if b, ok := s.blocks.Active(); ok {
		info.ActiveBlock = b.ID
	}
	return info
}

// Close kills the shell and settles every unfinished block
func (s *Shell) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	err := s.term.Close()
	if !started {
		s.finish("session closed")
	} else {
		select {
		case <-s.done:
		case <-time.After(drainTimeout + time.Second):
			s.finish("session closed")
		}
	}

	s.blocks.Close()
	s.monitor.Failures().Close()
	return err
}

// Dispatch writes a block's command followed by the exit-code probe. It
// implements block.Dispatcher.
func (s *Shell) Dispatch(ctx context.Context, b block.Block) error {
	if err := s.settle(ctx); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrSessionClosed
	}

	probe := monitor.NewProbe(s.probeTemplate)

	s.pipeMu.Lock()
	// Whatever the shell printed so far (the prompt, leftovers of an
	// interrupted command) precedes this command
	if leftover := s.differ.Next(s.term); leftover != "" {
		s.logger.Debug("Discarded idle output", zap.Int("bytes", len(leftover)))
		s.monitor.NotePrompt(leftover)
	}
	s.monitor.Begin(b.ID, b.Command, probe)
	s.active.Store(b.ID)
	s.pipeMu.Unlock()

	s.watchdog.Arm(b.ID, s.inactivity)

	command := strings.TrimRight(b.Command, "\n")
	if _, err := s.term.Write([]byte(command + "\n")); err != nil {
		return err
	}
	if _, err := s.term.Write([]byte(probe.Command() + "\n")); err != nil {
		return err
	}

	s.logger.Debug("Command dispatched",
		zap.String("block_id", b.ID.String()),
		zap.String("command", command),
	)
	return nil
}

// Interrupt sends ^C. It implements block.Dispatcher.
func (s *Shell) Interrupt() error {
	s.lastInterrupt.Store(time.Now().UnixNano())
	return s.term.Interrupt()
}

func (s *Shell) settle(ctx context.Context) error {
	last := s.lastInterrupt.Load()
	if last == 0 {
		return nil
	}
	wait := interruptSettle - time.Since(time.Unix(0, last))
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shell) activeID() id.BlockID {
	return s.active.Load().(id.BlockID)
}

func (s *Shell) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.exited
}

// onChange runs on the terminal's goroutine
func (s *Shell) onChange() {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()

	text := s.differ.Next(s.term)
	if text != "" {
		if blockID := s.activeID(); blockID != "" {
			s.chunks.Send(output.Chunk{
				BlockID:   blockID,
				Text:      text,
				Timestamp: time.Now(),
			})
		} else {
			s.monitor.NotePrompt(text)
		}
	}
	s.compactLocked()
}

// compactLocked drops the consumed transcript prefix once it grows past
// the threshold. The differencer sees the new epoch and restarts at zero,
// which is exactly the unconsumed remainder.
func (s *Shell) compactLocked() {
	offset, epoch := s.differ.Cursor()
	if offset < s.compactThreshold {
		return
	}
	if s.term.Discard(offset, epoch) {
		s.logger.Debug("Compacted transcript", zap.Int("bytes", offset))
	}
}

func (s *Shell) consume() {
	defer close(s.consumed)
	for chunk := range s.sub.C() {
		s.handle(chunk)
	}
}

func (s *Shell) handle(chunk output.Chunk) {
	obs := s.monitor.Observe(chunk)
	if obs.Ignored {
		return
	}
	s.watchdog.Touch(chunk.BlockID)

	if obs.Text != "" {
		s.blocks.OnOutputChunk(output.Chunk{
			BlockID:   chunk.BlockID,
			Text:      obs.Text,
			Stream:    obs.Stream,
			Timestamp: chunk.Timestamp,
		})
	}
	if !obs.Exited {
		return
	}

	if s.detector.IsComplete(obs.Trailing) {
		s.complete(chunk.BlockID, obs.ExitCode)
		return
	}

	// The sentinel is authoritative; the prompt only tells us the shell
	// is ready. Custom prompts that never match finish after the grace.
	s.mu.Lock()
	s.exit = pendingExit{blockID: chunk.BlockID, code: obs.ExitCode}
	s.mu.Unlock()
	s.grace.Arm(chunk.BlockID, s.promptGrace)
}

func (s *Shell) complete(blockID id.BlockID, code int) {
	s.grace.Disarm(blockID)
	if _, err := s.blocks.Complete(blockID, code); err != nil {
		s.logger.Debug("Completion ignored",
			zap.String("block_id", blockID.String()),
			zap.Error(err),
		)
	}
}

func (s *Shell) onPromptGrace(blockID id.BlockID) {
	s.mu.Lock()
	exit := s.exit
	s.mu.Unlock()

	if exit.blockID != blockID {
		return
	}
	s.logger.Debug("No prompt after exit status, completing",
		zap.String("block_id", blockID.String()),
	)
	s.complete(blockID, exit.code)
}

func (s *Shell) onInactive(blockID id.BlockID) {
	s.releaseHeld(blockID)

	diagnostic := fmt.Sprintf("no output for %s", s.inactivity)
	if _, err := s.blocks.Timeout(blockID, diagnostic); err != nil {
		return
	}
	s.logger.Warn("Command timed out",
		zap.String("block_id", blockID.String()),
		zap.Duration("inactivity", s.inactivity),
	)
}

// releaseHeld hands text the monitor held back (a partial line that may
// have been the echo) to the block before it is finalized without a
// sentinel
func (s *Shell) releaseHeld(blockID id.BlockID) {
	if held := s.monitor.Flush(blockID); held != "" {
		s.blocks.OnOutputChunk(output.Chunk{BlockID: blockID, Text: held, Timestamp: time.Now()})
	}
}

// onFinalize runs after every terminal transition, before the next
// queued command is dispatched
func (s *Shell) onFinalize(b block.Block) {
	s.watchdog.Disarm(b.ID)
	s.grace.Disarm(b.ID)
	s.active.CompareAndSwap(b.ID, id.BlockID(""))

	if _, reported := s.monitor.End(b.ID, b.ExitCode); reported && b.Status == block.StatusSuccess {
		s.onCondition(block.ConditionClassificationAmbiguous, b)
		s.metrics.RecordCondition(block.ConditionClassificationAmbiguous.String())
	}
}

func (s *Shell) onCondition(cond block.Condition, b block.Block) {
	switch cond {
	case block.ConditionDispatchFailure:
		s.monitor.Report(monitor.Failure{
			BlockID: b.ID,
			Command: b.Command,
			Message: b.Diagnostic,
			Kind:    monitor.KindDispatch,
		})
	case block.ConditionSessionTerminated:
		s.monitor.Report(monitor.Failure{
			BlockID: b.ID,
			Command: b.Command,
			Message: b.Diagnostic,
			Kind:    monitor.KindSessionTerminated,
		})
	case block.ConditionCompletionTimeout:
		s.logger.Warn("Block finalized without completion signal",
			zap.String("block_id", b.ID.String()),
			zap.String("diagnostic", b.Diagnostic),
		)
	case block.ConditionClassificationAmbiguous:
		s.logger.Debug("Error-like output from a successful command",
			zap.String("block_id", b.ID.String()),
		)
	case block.ConditionPipelineDropped:
		s.logger.Warn("Output dropped", zap.String("block_id", b.ID.String()))
	}
}

// onExit runs once when the shell process is gone
func (s *Shell) onExit(err error) {
	s.onChange()

	s.mu.Lock()
	s.exited = true
	s.exitErr = err
	s.mu.Unlock()

	// Let the consumer apply what is already queued, including a final
	// sentinel, before unfinished blocks are failed
	s.chunks.Close()
	select {
	case <-s.consumed:
	case <-time.After(drainTimeout):
		s.logger.Warn("Output consumer did not drain before shell exit")
	}

	diagnostic := "shell exited"
	if err != nil {
		diagnostic = fmt.Sprintf("shell exited: %v", err)
	}
	s.finish(diagnostic)
}

func (s *Shell) finish(diagnostic string) {
	s.watchdog.Stop()
	s.grace.Stop()
	s.active.Store(id.BlockID(""))

	if failed := s.blocks.Seal(diagnostic); len(failed) > 0 {
		s.logger.Warn("Shell ended with unfinished blocks",
			zap.Int("count", len(failed)),
			zap.String("diagnostic", diagnostic),
		)
	}

	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()
}

func (s *Shell) recordSend(channel string) func(output.Delivery) {
	return func(d output.Delivery) {
		s.metrics.RecordChannelSend(channel, d.String(), d.Dropped())
		if d.Dropped() {
			s.metrics.RecordCondition(block.ConditionPipelineDropped.String())
		}
	}
}
