// Package workdir keeps a client-side idea of the shell's current
// directory by parsing submitted `cd` commands.
//
// Only command text is parsed, never output, and the real shell is never
// asked. The tracker therefore drifts from the shell for cd inside
// subshells or scripts, pushd/popd and aliases.
package workdir

import (
	"path"
	"strings"
	"sync"
)

// State is a snapshot of the tracked directories
type State struct {
	Current  string `json:"current"`
	Previous string `json:"previous,omitempty"`
}

// Tracker holds the current and previous directory
type Tracker struct {
	mu    sync.RWMutex
	home  string
	state State
}

// NewTracker starts at initial with home used for "~" expansion
func NewTracker(initial, home string) *Tracker {
	if home == "" {
		home = "/"
	}
	if initial == "" {
		initial = home
	}
	return &Tracker{
		home:  path.Clean(home),
		state: State{Current: path.Clean(initial)},
	}
}

// State returns the current snapshot
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Current returns the tracked directory
func (t *Tracker) Current() string {
	return t.State().Current
}

// Apply updates the state if command starts with cd and reports whether
// it did. Other commands are ignored.
func (t *Tracker) Apply(command string) bool {
	arg, ok := ParseCD(command)
	if !ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next, ok := t.resolveLocked(arg)
	if !ok {
		return false
	}
	t.state = State{Current: next, Previous: t.state.Current}
	return true
}

// Resolve returns where `cd arg` would lead without changing state
func (t *Tracker) Resolve(arg string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolveLocked(arg)
}

func (t *Tracker) resolveLocked(arg string) (string, bool) {
	switch {
	case arg == "" || arg == "~":
		return t.home, true
	case arg == "-":
		if t.state.Previous == "" {
			return "", false
		}
		return t.state.Previous, true
	case strings.HasPrefix(arg, "~/"):
		return path.Join(t.home, arg[2:]), true
	case strings.HasPrefix(arg, "/"):
		return path.Clean(arg), true
	default:
		return path.Join(t.state.Current, arg), true
	}
}

// ParseCD returns the argument of a leading cd command. Only the first
// simple command is considered, so `cd /tmp && ls` yields "/tmp".
func ParseCD(command string) (string, bool) {
	command = strings.TrimSpace(command)
	if i := strings.IndexAny(command, ";&|\n"); i >= 0 {
		command = command[:i]
	}

	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != "cd" {
		return "", false
	}

	args := fields[1:]
	// cd -L / -P only change how symlinks resolve
	for len(args) > 0 && (args[0] == "-L" || args[0] == "-P" || args[0] == "--") {
		args = args[1:]
	}
	if len(args) == 0 {
		return "", true
	}

	return unquote(strings.Join(args, " ")), true
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return strings.ReplaceAll(s, `\ `, " ")
}
