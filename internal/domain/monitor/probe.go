package monitor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MarkerPrefix starts every exit-code sentinel. Any output line that
// contains it belongs to the probe, not to the user's command.
const MarkerPrefix = "__TB_EXIT_"

// DefaultProbeTemplate prints the marker and the POSIX last-status
// variable. fish users configure `echo "%s:$status"`.
const DefaultProbeTemplate = `echo "%s:$?"`

// defaultLead is the text DefaultProbeTemplate writes before the marker
const defaultLead = `echo "`

// Probe is the sentinel-wrapped exit-code query written after a user's
// command. The terminal protocol has no exit status, so the shell is
// asked for it explicitly and the answer is parsed out of the stream.
type Probe struct {
	marker  string
	command string
	// lead is the template text before the marker
	lead    string
	re      *regexp.Regexp
}

// NewProbe creates a probe with a fresh nonce. template must contain a
// single %s where the marker goes.
func NewProbe(template string) *Probe {
	if template == "" {
		template = DefaultProbeTemplate
	}
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	marker := MarkerPrefix + nonce + "__"

	return &Probe{
		marker:  marker,
		command: fmt.Sprintf(template, marker),
		lead:    template[:max(strings.Index(template, "%s"), 0)],
		// Digits must follow the colon: the echoed probe line itself
		// contains the marker followed by "$?".
		re: regexp.MustCompile(regexp.QuoteMeta(marker) + `:(\d+)`),
	}
}

// Marker returns the sentinel text unique to this probe
func (p *Probe) Marker() string { return p.marker }

// Command returns the shell line to write after the user's command
func (p *Probe) Command() string { return p.command }

// Parse extracts the exit code from a line carrying this probe's result
func (p *Probe) Parse(line string) (int, bool) {
	code, _, ok := p.find(line)
	return code, ok
}

// find also returns where the sentinel starts, so output printed without
// a trailing newline before it is kept
func (p *Probe) find(line string) (code, start int, ok bool) {
	loc := p.re.FindStringSubmatchIndex(line)
	if loc == nil {
		return 0, 0, false
	}
	code, err := strconv.Atoi(line[loc[2]:loc[3]])
	if err != nil {
		return 0, 0, false
	}
	return code, loc[0], true
}

// mayStartMarker reports whether the unterminated text could turn into
// a marker line once more bytes arrive
func mayStartMarker(partial string) bool {
	if strings.Contains(partial, MarkerPrefix) {
		return true
	}
	for n := len(MarkerPrefix) - 1; n > 0; n-- {
		if strings.HasSuffix(partial, MarkerPrefix[:n]) {
			return true
		}
	}
	return false
}
