package block

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termblocks/internal/domain/output"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

const (
	// DefaultFlushInterval batches output to roughly one update per frame
	DefaultFlushInterval = 16 * time.Millisecond
	// DefaultQueueLimit bounds commands waiting behind the executing one
	DefaultQueueLimit = 32
)

// Dispatcher writes commands to the shell
type Dispatcher interface {
	// Dispatch writes the block's command. It runs outside the manager's
	// lock, at most one call at a time.
	Dispatch(ctx context.Context, b Block) error
	// Interrupt asks the shell to stop the running command
	Interrupt() error
}

// Options configures a Manager
type Options struct {
	FlushInterval time.Duration
	QueueLimit    int
	Logger        *zap.Logger
	// OnFinalize runs after a block reaches a terminal status and before
	// the next queued command is dispatched
	OnFinalize func(Block)
	// OnCondition observes degraded situations tied to a block
	OnCondition func(Condition, Block)
}

type entry struct {
	block      Block
	output     strings.Builder
	pending    strings.Builder
	dispatched bool
}

// Manager owns the blocks of one session
type Manager struct {
	mu        sync.Mutex
	entries   map[id.BlockID]*entry  // Protected by mu
	order     []id.BlockID           // Protected by mu
	queue     []id.BlockID           // Protected by mu
	active    id.BlockID             // Protected by mu
	observers map[*Observer]struct{} // Protected by mu
	sealed    string                 // Protected by mu
	closed    bool                   // Protected by mu

	// dispatchMu orders command writes against interrupts
	dispatchMu sync.Mutex
	dispatcher Dispatcher

	ctx           context.Context
	cancel        context.CancelFunc
	flushInterval time.Duration
	queueLimit    int
	logger        *zap.Logger
	onFinalize    func(Block)
	onCondition   func(Condition, Block)
	metrics       *monitoring.Metrics

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a manager and starts its output flusher
func NewManager(dispatcher Dispatcher, opts Options) *Manager {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		entries:       make(map[id.BlockID]*entry),
		observers:     make(map[*Observer]struct{}),
		dispatcher:    dispatcher,
		ctx:           ctx,
		cancel:        cancel,
		flushInterval: opts.FlushInterval,
		queueLimit:    opts.QueueLimit,
		logger:        opts.Logger,
		onFinalize:    opts.OnFinalize,
		onCondition:   opts.OnCondition,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	go m.flushLoop()

	return m
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Submit creates a block for command and dispatches it when the shell is
// idle, otherwise queues it. The returned snapshot reflects the dispatch
// outcome.
func (m *Manager) Submit(ctx context.Context, command string, opts SubmitOptions) (Block, error) {
	if strings.TrimSpace(command) == "" {
		return Block{}, ErrEmptyCommand
	}

	now := time.Now()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Block{}, ErrClosed
	}
	if m.sealed == "" && m.active != "" && len(m.queue) >= m.queueLimit {
		m.mu.Unlock()
		return Block{}, ErrQueueFull
	}

	e := &entry{block: Block{
		ID:               id.NewBlockID(),
		Command:          command,
		Status:           StatusPending,
		SubmittedAt:      now,
		WorkingDirectory: opts.WorkingDirectory,
		Expanded:         true,
	}}
	m.entries[e.block.ID] = e
	m.order = append(m.order, e.block.ID)

	if m.sealed != "" {
		m.completeLocked(e, StatusFailure, nil, m.sealed, now)
		done := e.block
		m.notifyLocked()
		m.mu.Unlock()

		m.metrics.RecordBlockSubmitted()
		m.afterFinish(done, nil)
		return done, ErrSealed
	}

	var start *Block
	if m.active == "" {
		b := m.startLocked(e, now)
		start = &b
	} else {
		m.queue = append(m.queue, e.block.ID)
	}
	queued := len(m.queue)
	m.notifyLocked()
	m.mu.Unlock()

	m.metrics.RecordBlockSubmitted()
	m.metrics.SetBlocksQueued(queued)
	m.logger.Debug("Block submitted",
		zap.String("block_id", e.block.ID.String()),
		zap.Bool("queued", start == nil),
	)

	if start != nil {
		m.dispatch(ctx, *start)
	}

	b, _ := m.Get(e.block.ID)
	return b, nil
}

// OnOutputChunk buffers chunk text for its block. Chunks for blocks that
// are not executing are dropped and false is returned.
func (m *Manager) OnOutputChunk(chunk output.Chunk) bool {
	if chunk.Text == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[chunk.BlockID]
	if !ok || e.block.Status != StatusExecuting || m.active != chunk.BlockID {
		return false
	}
	e.pending.WriteString(chunk.Text)
	return true
}

// Flush moves buffered output into the active block immediately
func (m *Manager) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := m.flushLocked(); n > 0 {
		m.metrics.RecordFlush(n)
		m.notifyLocked()
	}
}

// Complete finalizes an executing block from its exit code: SUCCESS for
// zero, FAILURE otherwise
func (m *Manager) Complete(blockID id.BlockID, exitCode int) (Block, error) {
	status := StatusSuccess
	if exitCode != 0 {
		status = StatusFailure
	}
	code := exitCode
	return m.finish(blockID, status, &code, "", false, false)
}

// Timeout finalizes an executing block as UNKNOWN and interrupts the
// shell in case the command is still running
func (m *Manager) Timeout(blockID id.BlockID, diagnostic string) (Block, error) {
	return m.finish(blockID, StatusUnknown, nil, diagnostic, false, true)
}

// Fail finalizes a pending or executing block as FAILURE
func (m *Manager) Fail(blockID id.BlockID, diagnostic string) (Block, error) {
	return m.finish(blockID, StatusFailure, nil, diagnostic, true, false)
}

// Cancel finalizes a pending or executing block as CANCELED with exit
// code 130. An executing command is interrupted before Cancel returns.
func (m *Manager) Cancel(blockID id.BlockID) (Block, error) {
	code := ExitCodeInterrupted
	return m.finish(blockID, StatusCanceled, &code, "", true, true)
}

// Seal fails every unfinished block with diagnostic. Later submissions
// are recorded as failed blocks and return ErrSealed.
func (m *Manager) Seal(diagnostic string) []Block {
	now := time.Now()

	if diagnostic == "" {
		diagnostic = "session closed"
	}

	m.mu.Lock()
	if m.sealed != "" || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.sealed = diagnostic

	var failed []Block
	for _, blockID := range m.order {
		e := m.entries[blockID]
		if e.block.Status.IsTerminal() {
			continue
		}
		m.completeLocked(e, StatusFailure, nil, diagnostic, now)
		failed = append(failed, e.block)
	}
	m.active = ""
	m.queue = nil
	m.notifyLocked()
	m.mu.Unlock()

	m.metrics.SetBlocksQueued(0)
	for _, b := range failed {
		m.emitCondition(ConditionSessionTerminated, b)
		m.afterFinish(b, nil)
	}
	return failed
}

// Get returns a snapshot of one block
func (m *Manager) Get(blockID id.BlockID) (Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[blockID]
	if !ok {
		return Block{}, false
	}
	return e.block, true
}

// List returns snapshots of all blocks in submission order
func (m *Manager) List() []Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

// Active returns the executing block, if any
func (m *Manager) Active() (Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == "" {
		return Block{}, false
	}
	return m.entries[m.active].block, true
}

// Queued returns the number of blocks waiting for the shell
func (m *Manager) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// SetExpanded toggles a block's display flag
func (m *Manager) SetExpanded(blockID id.BlockID, expanded bool) (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[blockID]
	if !ok {
		return Block{}, ErrNotFound
	}
	if e.block.Expanded != expanded {
		e.block.Expanded = expanded
		m.notifyLocked()
	}
	return e.block, nil
}

// Clear removes every finished block and returns how many were removed.
// Pending and executing blocks are kept.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	removed := 0
	for _, blockID := range m.order {
		if m.entries[blockID].block.Status.IsTerminal() {
			delete(m.entries, blockID)
			removed++
			continue
		}
		kept = append(kept, blockID)
	}
	m.order = kept

	if removed > 0 {
		m.notifyLocked()
	}
	return removed
}

// Idle reports whether no block is pending or executing
func (m *Manager) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active == "" && len(m.queue) == 0
}

// Close stops the flusher and closes all observers. Blocks keep their
// last state.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.cancel()

		m.mu.Lock()
		m.flushLocked()
		m.closed = true
		for o := range m.observers {
			delete(m.observers, o)
			close(o.ch)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) flushLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Flush()
		case <-m.stop:
			return
		}
	}
}

// finish is the shared terminal transition. allowPending accepts blocks
// still in the queue; interrupt asks the shell to stop a command that
// already reached it.
func (m *Manager) finish(blockID id.BlockID, status Status, exitCode *int, diagnostic string, allowPending, interrupt bool) (Block, error) {
	if interrupt {
		// Held across the transition so an in-flight write either lands
		// before the interrupt or sees the block finished and is skipped.
		m.dispatchMu.Lock()
	}

	now := time.Now()
	m.mu.Lock()
	e, ok := m.entries[blockID]
	if !ok {
		m.mu.Unlock()
		if interrupt {
			m.dispatchMu.Unlock()
		}
		return Block{}, ErrNotFound
	}
	if e.block.Status.IsTerminal() || (e.block.Status == StatusPending && !allowPending) {
		b := e.block
		m.mu.Unlock()
		if interrupt {
			m.dispatchMu.Unlock()
		}
		if b.Status == StatusPending {
			return b, ErrNotExecuting
		}
		return b, ErrTerminal
	}

	wasActive := m.active == blockID
	sendInterrupt := interrupt && wasActive && e.dispatched
	m.completeLocked(e, status, exitCode, diagnostic, now)

	var next *Block
	if wasActive {
		m.active = ""
		next = m.startNextLocked(now)
	} else {
		m.removeQueuedLocked(blockID)
	}
	done := e.block
	queued := len(m.queue)
	m.notifyLocked()
	m.mu.Unlock()

	if sendInterrupt {
		if err := m.dispatcher.Interrupt(); err != nil {
			m.logger.Warn("Failed to interrupt command",
				zap.String("block_id", blockID.String()),
				zap.Error(err),
			)
		}
	}
	if interrupt {
		m.dispatchMu.Unlock()
	}

	m.metrics.SetBlocksQueued(queued)
	if status == StatusUnknown {
		m.emitCondition(ConditionCompletionTimeout, done)
	}
	m.afterFinish(done, next)
	return done, nil
}

// completeLocked applies a terminal status, flushing buffered output
// first so it lands before any marker
func (m *Manager) completeLocked(e *entry, status Status, exitCode *int, diagnostic string, now time.Time) {
	if e.block.Status == StatusExecuting {
		if n := m.drainLocked(e); n > 0 {
			m.metrics.RecordFlush(n)
		}
	}
	if status == StatusCanceled {
		e.output.WriteString(CanceledMarker)
		e.block.Output = e.output.String()
	}

	e.block.Status = status
	e.block.ExitCode = exitCode
	e.block.Diagnostic = diagnostic
	if e.block.StartedAt != nil && now.Before(*e.block.StartedAt) {
		now = *e.block.StartedAt
	}
	e.block.CompletedAt = &now
}

func (m *Manager) startLocked(e *entry, now time.Time) Block {
	e.block.Status = StatusExecuting
	e.block.StartedAt = &now
	m.active = e.block.ID
	return e.block
}

func (m *Manager) startNextLocked(now time.Time) *Block {
	for len(m.queue) > 0 {
		blockID := m.queue[0]
		m.queue = m.queue[1:]

		e, ok := m.entries[blockID]
		if !ok || e.block.Status != StatusPending {
			continue
		}
		b := m.startLocked(e, now)
		return &b
	}
	return nil
}

func (m *Manager) removeQueuedLocked(blockID id.BlockID) {
	for i, queued := range m.queue {
		if queued == blockID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) flushLocked() int {
	if m.active == "" {
		return 0
	}
	return m.drainLocked(m.entries[m.active])
}

func (m *Manager) drainLocked(e *entry) int {
	n := e.pending.Len()
	if n == 0 {
		return 0
	}
	e.output.WriteString(e.pending.String())
	e.pending.Reset()
	e.block.Output = e.output.String()
	return n
}

func (m *Manager) listLocked() []Block {
	blocks := make([]Block, 0, len(m.order))
	for _, blockID := range m.order {
		blocks = append(blocks, m.entries[blockID].block)
	}
	return blocks
}

// dispatch writes a started block's command unless it finished in the
// meantime. A write error fails the block.
func (m *Manager) dispatch(ctx context.Context, b Block) {
	m.dispatchMu.Lock()

	m.mu.Lock()
	e, ok := m.entries[b.ID]
	current := ok && m.active == b.ID && e.block.Status == StatusExecuting
	m.mu.Unlock()
	if !current {
		m.dispatchMu.Unlock()
		return
	}

	timer := monitoring.NewTimer(m.metrics)
	err := m.dispatcher.Dispatch(ctx, b)
	if err == nil {
		m.mu.Lock()
		e.dispatched = true
		m.mu.Unlock()
		m.dispatchMu.Unlock()
		timer.Stop("success")
		return
	}
	m.dispatchMu.Unlock()
	timer.Stop("error")

	dispatchErr := &DispatchError{BlockID: b.ID, Err: err}
	m.logger.Error("Failed to dispatch command",
		zap.String("block_id", b.ID.String()),
		zap.Error(err),
	)
	failed, ferr := m.finish(b.ID, StatusFailure, nil, dispatchErr.Error(), false, false)
	if ferr == nil {
		m.emitCondition(ConditionDispatchFailure, failed)
	}
}

func (m *Manager) afterFinish(done Block, next *Block) {
	m.metrics.RecordBlockFinalized(done.Status.String(), done.Duration())
	m.logger.Debug("Block finished",
		zap.String("block_id", done.ID.String()),
		zap.Stringer("status", done.Status),
		zap.Duration("duration", done.Duration()),
	)

	if m.onFinalize != nil {
		m.onFinalize(done)
	}
	if next != nil {
		go m.dispatch(m.ctx, *next)
	}
}

func (m *Manager) emitCondition(cond Condition, b Block) {
	m.metrics.RecordCondition(cond.String())
	if m.onCondition != nil {
		m.onCondition(cond, b)
	}
}
