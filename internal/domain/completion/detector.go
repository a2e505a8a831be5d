// Package completion decides when a command has finished.
//
// The Detector is a stateless predicate over the last line of streamed
// text. Prompt matching has two known failure modes that are left as
// they are: a prompt no matcher recognizes never completes anything, and
// output that happens to end in "$", "#" or ">" completes too early. The
// Watchdog bounds the first case unconditionally.
package completion

import (
	"fmt"
	"regexp"
	"strings"
)

// PromptMatcher recognizes a shell prompt on the last line of output
type PromptMatcher interface {
	Name() string
	MatchPrompt(lastLine string) bool
}

type regexpPrompt struct {
	name string
	re   *regexp.Regexp
}

// NewPromptMatcher compiles expr into a named prompt matcher
func NewPromptMatcher(name, expr string) (PromptMatcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile prompt pattern %q: %w", name, err)
	}
	return &regexpPrompt{name: name, re: re}, nil
}

func (p *regexpPrompt) Name() string { return p.name }
func (p *regexpPrompt) MatchPrompt(lastLine string) bool { return p.re.MatchString(lastLine) }

// DefaultPrompts returns the built-in prompt matchers, in match order
func DefaultPrompts() []PromptMatcher {
	return []PromptMatcher{
		&regexpPrompt{name: "dollar", re: regexp.MustCompile(`.*\$\s*$`)},
		&regexpPrompt{name: "hash", re: regexp.MustCompile(`.*#\s*$`)},
		&regexpPrompt{name: "angle", re: regexp.MustCompile(`.*>\s*$`)},
	}
}

// Detector tests text against an ordered list of prompt matchers
type Detector struct {
	prompts []PromptMatcher
}

// NewDetector creates a detector with the built-in prompts followed by
// custom ones
func NewDetector(custom ...PromptMatcher) *Detector {
	return &Detector{prompts: append(DefaultPrompts(), custom...)}
}

// IsComplete reports whether the last line of text looks like a prompt
func (d *Detector) IsComplete(text string) bool {
	_, ok := d.Match(text)
	return ok
}

// Match returns the first prompt matcher that accepts the last line
func (d *Detector) Match(text string) (PromptMatcher, bool) {
	line := LastLine(text)
	if strings.TrimSpace(line) == "" {
		return nil, false
	}
	for _, p := range d.prompts {
		if p.MatchPrompt(line) {
			return p, true
		}
	}
	return nil, false
}

// LastLine returns the text after the final newline. Text ending in a
// newline has an empty last line: prompts never end with one.
func LastLine(text string) string {
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimRight(text, "\r")
	if i := strings.LastIndexByte(text, '\r'); i >= 0 {
		text = text[i+1:]
	}
	return text
}
