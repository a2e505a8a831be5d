// Package monitor correlates output with the command in flight.
//
// For the active block it removes the terminal's echo of the command,
// strips probe lines and reads the exit code they carry, accumulates
// stderr-labelled text and, when the block finishes, publishes a
// Failure if any stderr was seen.
package monitor

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termblocks/internal/domain/classify"
	"github.com/GriffinCanCode/termblocks/internal/domain/completion"
	"github.com/GriffinCanCode/termblocks/internal/domain/output"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
)

// maxEchoHold bounds how long an unterminated first line is held back
// while waiting to see whether it is the command echo
const maxEchoHold = 4096

// maxTrailing bounds the post-sentinel text kept for prompt detection
const maxTrailing = 1024

// Kind tells what produced a Failure
type Kind int

const (
	// KindCommand is stderr output correlated with a finished command
	KindCommand Kind = iota
	// KindDispatch is a failed write of the command to the terminal
	KindDispatch
	// KindSessionTerminated is the shell exiting under a command
	KindSessionTerminated
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindDispatch:
		return "dispatch"
	case KindSessionTerminated:
		return "session_terminated"
	default:
		return "unknown"
	}
}

// Failure is one entry of the failures stream
type Failure struct {
	BlockID  id.BlockID `json:"block_id"`
	Command  string     `json:"command"`
	ExitCode *int       `json:"exit_code,omitempty"`
	Message  string     `json:"message"`
	Kind     Kind       `json:"-"`
	KindName string     `json:"kind"`
	At       time.Time  `json:"at"`
}

// Observation is the result of feeding one chunk to the monitor
type Observation struct {
	// Text is the chunk with echo and probe lines removed
	Text string
	// Stream classifies Text. The raw chunk still carries the echoed
	// command, whose words say nothing about the output.
	Stream output.Stream
	// Exited is set once the probe's sentinel has been seen
	Exited   bool
	ExitCode int
	// Trailing is the text seen after the sentinel (normally the prompt)
	Trailing string
	// Ignored is set when the chunk is not for the monitored block
	Ignored bool
}

// Options configures a Monitor
type Options struct {
	Classifier *classify.Classifier
	Failures   *output.Channel[Failure]
	Logger     *zap.Logger
	// OnFailure observes every published failure (metrics hook)
	OnFailure func(Failure)
	// HoldPartial reports whether an unterminated line should wait for
	// more text. The shell prints its prompt before echoing the probe on
	// the same line, so prompt-like partials are held.
	HoldPartial func(partial string) bool
}

// Monitor tracks the command in flight on one terminal
type Monitor struct {
	mu       sync.Mutex
	blockID  id.BlockID
	command  string
	probe    *Probe
	stderr   strings.Builder
	pending  string
	echoLine string
	exited   bool
	exitCode int
	trailing string
	// prompt is the last prompt line the shell printed. It outlives
	// resets so the next command's probe echo can be cut at it.
	prompt   string

	classifier  *classify.Classifier
	failures    *output.Channel[Failure]
	logger      *zap.Logger
	onFailure   func(Failure)
	holdPartial func(string) bool
}

// New creates a monitor
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = classify.New()
	}
	failures := opts.Failures
	if failures == nil {
		failures = output.NewChannel(output.Options[Failure]{Name: "failures", Logger: logger})
	}

	return &Monitor{
		classifier:  classifier,
		failures:    failures,
		logger:      logger,
		onFailure:   opts.OnFailure,
		holdPartial: opts.HoldPartial,
	}
}

// Failures returns the failures stream
func (m *Monitor) Failures() *output.Channel[Failure] {
	return m.failures
}

// Begin starts monitoring a dispatched command. The stderr buffer is
// cleared. probe may be nil when no sentinel was written.
func (m *Monitor) Begin(blockID id.BlockID, command string, probe *Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()
	m.blockID = blockID
	m.command = command
	m.probe = probe
	m.echoLine = strings.TrimSpace(firstLine(command))
}

// NotePrompt records the prompt the shell is sitting at, taken from the
// last line of text. Blank lines are ignored.
func (m *Monitor) NotePrompt(text string) {
	line := completion.LastLine(text)
	if strings.TrimSpace(line) == "" {
		return
	}
	m.mu.Lock()
	m.prompt = line
	m.mu.Unlock()
}

// Active returns the monitored block, if any
func (m *Monitor) Active() (id.BlockID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockID, m.blockID != ""
}

// Observe filters a chunk for the monitored block
func (m *Monitor) Observe(chunk output.Chunk) Observation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blockID == "" || chunk.BlockID != m.blockID {
		return Observation{Ignored: true}
	}

	if m.exited {
		m.appendTrailingLocked(chunk.Text)
		return Observation{Exited: true, ExitCode: m.exitCode, Trailing: m.trailing}
	}

	clean, rest, code, found := m.filterLocked(chunk.Text)
	obs := Observation{Text: clean}
	if clean != "" {
		obs.Stream = m.classifier.Classify(clean)
		if obs.Stream == output.StreamStderr {
			m.stderr.WriteString(clean)
		}
	}
	if found {
		m.exited = true
		m.exitCode = code
		m.appendTrailingLocked(rest)
		obs.Exited = true
		obs.ExitCode = code
		obs.Trailing = m.trailing
	}
	return obs
}

// Flush releases text held back while waiting for the rest of a line.
// Used before a block is finalized without its sentinel.
func (m *Monitor) Flush(blockID id.BlockID) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if blockID != m.blockID || m.exited {
		return ""
	}
	held := m.pending
	m.pending = ""
	m.echoLine = ""
	return held
}

// End finishes monitoring blockID. If stderr was captured a Failure is
// published. The buffer is cleared either way.
func (m *Monitor) End(blockID id.BlockID, exitCode *int) (Failure, bool) {
	m.mu.Lock()
	if blockID != m.blockID {
		m.mu.Unlock()
		return Failure{}, false
	}

	captured := m.stderr.String()
	command := m.command
	if line := completion.LastLine(m.trailing); strings.TrimSpace(line) != "" {
		m.prompt = line
	}
	m.resetLocked()
	m.mu.Unlock()

	if strings.TrimSpace(captured) == "" {
		return Failure{}, false
	}

	failure := Failure{
		BlockID:  blockID,
		Command:  command,
		ExitCode: exitCode,
		Message:  m.classifier.ExtractErrorMessage(captured),
		Kind:     KindCommand,
	}
	m.Report(failure)
	return failure, true
}

// Report publishes a failure directly, for dispatch errors and session
// death
func (m *Monitor) Report(failure Failure) {
	if failure.At.IsZero() {
		failure.At = time.Now()
	}
	failure.KindName = failure.Kind.String()

	m.logger.Info("Command failed",
		zap.String("block_id", failure.BlockID.String()),
		zap.String("kind", failure.KindName),
		zap.String("message", failure.Message),
	)
	m.failures.Send(failure)
	if m.onFailure != nil {
		m.onFailure(failure)
	}
}

func (m *Monitor) resetLocked() {
	m.blockID = ""
	m.command = ""
	m.probe = nil
	m.stderr.Reset()
	m.pending = ""
	m.echoLine = ""
	m.exited = false
	m.exitCode = 0
	m.trailing = ""
}

func (m *Monitor) appendTrailingLocked(text string) {
	m.trailing += text
	if len(m.trailing) > maxTrailing {
		m.trailing = m.trailing[len(m.trailing)-maxTrailing:]
	}
}

// filterLocked splits text into complete lines, drops the command echo
// and probe lines, and holds back an unterminated tail that may still
// become one of those. Text after the sentinel line is returned as rest.
// Output printed without a trailing newline shares its line with the
// prompt and the probe echo; only the part before the prompt is kept.
func (m *Monitor) filterLocked(text string) (clean, rest string, code int, found bool) {
	data := m.pending + text
	m.pending = ""

	var out strings.Builder
	for data != "" {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			if m.holdLocked(data) {
				m.pending = data
			} else {
				m.echoLine = ""
				out.WriteString(data)
			}
			break
		}

		line := data[:i+1]
		data = data[i+1:]

		if m.echoLine != "" {
			echo := m.echoLine
			m.echoLine = ""
			if strings.HasSuffix(strings.TrimSpace(line), echo) {
				// a shell that was still starting prints its prompt here
				if prompt := line[:strings.LastIndex(line, echo)]; m.holdPartial != nil && m.holdPartial(prompt) {
					m.prompt = prompt
				}
				continue
			}
		}

		if strings.Contains(line, MarkerPrefix) {
			if m.probe != nil {
				if c, start, ok := m.probe.find(line); ok {
					out.WriteString(m.trimPromptLocked(line[:start], false))
					return out.String(), data, c, true
				}
			}
			out.WriteString(m.trimPromptLocked(line[:m.echoStart(line)], true))
			continue
		}
		out.WriteString(line)
	}
	return out.String(), "", 0, false
}

// echoStart returns where the probe echo (ours or a stale one) begins
// on a marker line
func (m *Monitor) echoStart(line string) int {
	if m.probe != nil {
		if i := strings.Index(line, m.probe.Command()); i >= 0 {
			return i
		}
	}
	i := strings.Index(line, MarkerPrefix)
	lead := defaultLead
	if m.probe != nil {
		lead = m.probe.lead
	}
	if lead != "" && strings.HasSuffix(line[:i], lead) {
		i -= len(lead)
	}
	return i
}

// trimPromptLocked removes the prompt that ends head. The recorded prompt
// is preferred. With guess set, the shortest suffix the prompt predicate
// accepts is removed when no prompt is recorded or it does not match.
func (m *Monitor) trimPromptLocked(head string, guess bool) string {
	if head == "" {
		return ""
	}
	if m.prompt != "" && strings.HasSuffix(head, m.prompt) {
		return strings.TrimSuffix(head, m.prompt)
	}
	if !guess || m.holdPartial == nil {
		return head
	}
	for i := len(head) - 1; i >= 0; i-- {
		if m.holdPartial(head[i:]) {
			return head[:i]
		}
	}
	return head
}

func (m *Monitor) holdLocked(partial string) bool {
	if m.echoLine != "" && len(partial) < len(m.echoLine)+maxEchoHold {
		return true
	}
	if mayStartMarker(partial) {
		return true
	}
	return m.holdPartial != nil && len(partial) < maxEchoHold && m.holdPartial(partial)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
