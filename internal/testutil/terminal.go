package testutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPrompt is printed by FakeTerminal after every command
const DefaultPrompt = "$ "

var probeLine = regexp.MustCompile(`^echo "(__TB_EXIT_[0-9a-f]+__):\$\?"$`)

// ErrFakeClosed is returned by FakeTerminal writes after exit
var ErrFakeClosed = errors.New("fake terminal closed")

// Handler runs one simple command. interrupted is closed on ^C.
type Handler func(args []string, interrupted <-chan struct{}) (output string, status int)

// FakeTerminal is a scripted shell behind the shell.Terminal contract.
// Input lines run on a worker goroutine that echoes them, prints the
// command's output and a prompt, and fires the change callback, much
// like a PTY reader does.
type FakeTerminal struct {
	Prompt string
	// Echo prints each input line back, like a tty
	Echo bool
	// JoinPrompt holds output that lacks a trailing newline and prints it
	// with the prompt and the next echoed line in a single write, the way
	// bash redraws its input line
	JoinPrompt bool

	mu         sync.Mutex
	transcript strings.Builder
	epoch      uint64
	handlers   map[string]Handler
	writes     []string
	writeErr   error
	partial    string
	status     int
	cols, rows int
	interrupts int
	closed     bool

	lines     chan string
	interrupt chan struct{}
	stop      chan struct{}
	onChange  func()
	onExit    func(error)
	exitOnce  sync.Once

	// held is owned by the worker goroutine
	held string
}

// NewFakeTerminal creates a fake with echo on and the built-in commands
// echo, printf, cat, true, false, sleep, cd and exit
func NewFakeTerminal() *FakeTerminal {
	f := &FakeTerminal{
		Prompt:    DefaultPrompt,
		Echo:      true,
		handlers:  make(map[string]Handler),
		lines:     make(chan string, 256),
		interrupt: make(chan struct{}, 1),
		stop:      make(chan struct{}),
		cols:      80,
		rows:      24,
	}
	f.Handle("echo", func(args []string, _ <-chan struct{}) (string, int) {
		return strings.Join(unquote(args), " ") + "\n", 0
	})
	f.Handle("printf", func(args []string, _ <-chan struct{}) (string, int) {
		return strings.ReplaceAll(strings.Join(unquote(args), " "), `\n`, "\n"), 0
	})
	f.Handle("cat", func(args []string, _ <-chan struct{}) (string, int) {
		var out strings.Builder
		status := 0
		for _, arg := range args {
			out.WriteString("cat: " + arg + ": No such file or directory\n")
			status = 1
		}
		return out.String(), status
	})
	f.Handle("true", func([]string, <-chan struct{}) (string, int) { return "", 0 })
	f.Handle("false", func([]string, <-chan struct{}) (string, int) { return "", 1 })
	f.Handle("cd", func([]string, <-chan struct{}) (string, int) { return "", 0 })
	f.Handle("sleep", func(args []string, interrupted <-chan struct{}) (string, int) {
		d := time.Hour
		if len(args) > 0 {
			if secs, err := strconv.ParseFloat(args[0], 64); err == nil {
				d = time.Duration(secs * float64(time.Second))
			}
		}
		select {
		case <-time.After(d):
			return "", 0
		case <-interrupted:
			return "^C\n", 130
		}
	})
	return f
}

// Handle registers or replaces a command
func (f *FakeTerminal) Handle(name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
}

// Start implements shell.Terminal
func (f *FakeTerminal) Start(onChange func(), onExit func(error)) error {
	f.onChange = onChange
	f.onExit = onExit
	go f.run()
	f.emit(f.Prompt)
	return nil
}

// Snapshot implements shell.Terminal
func (f *FakeTerminal) Snapshot() (string, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript.String(), f.epoch
}

// Discard implements shell.Terminal
func (f *FakeTerminal) Discard(n int, epoch uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if epoch != f.epoch || n <= 0 || n > f.transcript.Len() {
		return false
	}
	rest := f.transcript.String()[n:]
	f.transcript = strings.Builder{}
	f.transcript.WriteString(rest)
	f.epoch++
	return true
}

// Write implements shell.Terminal. Complete lines are queued for the
// worker.
func (f *FakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return 0, f.writeErr
	}
	if f.closed {
		f.mu.Unlock()
		return 0, ErrFakeClosed
	}
	f.writes = append(f.writes, string(p))
	data := f.partial + string(p)
	var lines []string
	for {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, data[:i])
		data = data[i+1:]
	}
	f.partial = data
	f.mu.Unlock()

	for _, line := range lines {
		f.lines <- line
	}
	return len(p), nil
}

// Interrupt implements shell.Terminal. Like a tty, ^C also discards
// input that has not been read yet.
func (f *FakeTerminal) Interrupt() error {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()

	for {
		select {
		case <-f.lines:
			continue
		default:
		}
		break
	}
	select {
	case f.interrupt <- struct{}{}:
	default:
	}
	return nil
}

// FailWrites makes every later Write return err
func (f *FakeTerminal) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// Resize implements shell.Terminal
func (f *FakeTerminal) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cols, f.rows = cols, rows
	return nil
}

// Size returns the last size set
func (f *FakeTerminal) Size() (cols, rows int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cols, f.rows
}

// Close implements shell.Terminal; the shell is reported as killed
func (f *FakeTerminal) Close() error {
	f.exit(errors.New("signal: killed"))
	return nil
}

// Exit simulates the shell exiting on its own
func (f *FakeTerminal) Exit(err error) {
	f.exit(err)
}

// Writes returns everything written, one entry per Write
func (f *FakeTerminal) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// Interrupts returns how many times ^C was sent
func (f *FakeTerminal) Interrupts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

// Emit appends raw text to the transcript and fires the change callback
func (f *FakeTerminal) Emit(text string) {
	f.emit(text)
}

func (f *FakeTerminal) emit(text string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.transcript.WriteString(text)
	f.mu.Unlock()

	if f.onChange != nil {
		f.onChange()
	}
}

func (f *FakeTerminal) exit(err error) {
	f.exitOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.stop)

		if f.onExit != nil {
			go f.onExit(err)
		}
	})
}

func (f *FakeTerminal) run() {
	for {
		select {
		case <-f.stop:
			return
		case line := <-f.lines:
			f.execute(line)
		}
	}
}

func (f *FakeTerminal) execute(line string) {
	// a stale ^C for a command that already finished
	select {
	case <-f.interrupt:
	default:
	}

	var out strings.Builder
	out.WriteString(f.held)
	f.held = ""
	if f.Echo {
		out.WriteString(line + "\n")
	}

	if m := probeLine.FindStringSubmatch(line); m != nil {
		f.mu.Lock()
		status := f.status
		f.mu.Unlock()
		out.WriteString(fmt.Sprintf("%s:%d\n", m[1], status))
		out.WriteString(f.Prompt)
		f.emit(out.String())
		return
	}

	// Echo and output are separate reads on a real PTY
	f.emit(out.String())
	out.Reset()

	status := 0
	tail := ""
	for _, simple := range strings.Split(line, ";") {
		fields := strings.Fields(simple)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" {
			f.exit(nil)
			return
		}

		f.mu.Lock()
		h, ok := f.handlers[fields[0]]
		f.mu.Unlock()

		var text string
		if ok {
			text, status = h(fields[1:], f.interrupt)
		} else {
			text, status = "sh: 1: "+fields[0]+": not found\n", 127
		}
		text, tail = tail+text, ""
		if f.JoinPrompt && text != "" && !strings.HasSuffix(text, "\n") {
			tail = text
		} else if text != "" {
			f.emit(text)
		}
		if status == 130 {
			break
		}
	}

	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
	if tail != "" {
		f.held = tail + f.Prompt
		return
	}
	f.emit(f.Prompt)
}

func unquote(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.Trim(a, `'"`)
	}
	return out
}
