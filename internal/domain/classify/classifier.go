// Package classify labels terminal fragments as stdout or stderr.
//
// A PTY merges both streams, so the label is a guess: a fragment is
// stderr when any of its lines matches the error library. Misses in
// either direction are expected and only show up as a wrong label.
package classify

import (
	"strings"

	"github.com/GriffinCanCode/termblocks/internal/domain/output"
)

// Classifier applies an ordered list of matchers
type Classifier struct {
	matchers []Matcher
}

// New creates a classifier with the built-in library followed by extra
func New(extra ...Matcher) *Classifier {
	return &Classifier{
		matchers: append(DefaultMatchers(), extra...),
	}
}

// NewWithMatchers creates a classifier with exactly the given matchers
func NewWithMatchers(matchers ...Matcher) *Classifier {
	return &Classifier{matchers: matchers}
}

// Classify returns StreamStderr if any line of text matches an error
// pattern, otherwise StreamStdout
func (c *Classifier) Classify(text string) output.Stream {
	if _, ok := c.Match(text); ok {
		return output.StreamStderr
	}
	return output.StreamStdout
}

// Match returns the first matcher that hits any line of text, trying
// matchers in order for each line
func (c *Classifier) Match(text string) (Matcher, bool) {
	m, _, ok := c.firstMatch(text)
	return m, ok
}

// shell-level prefixes stripped from error messages, in order
var messagePrefixes = []string{"bash: ", "sh: ", "zsh: ", "error: ", "fatal: "}

// ExtractErrorMessage simplifies error output for display. It picks the
// first line matching the default library, strips shell prefixes and,
// for "tool: operand: message" lines, keeps only the message. Text with
// no matching line only has its prefixes stripped.
func ExtractErrorMessage(text string) string {
	return defaultClassifier.ExtractErrorMessage(text)
}

var defaultClassifier = New()

// ExtractErrorMessage is ExtractErrorMessage using this classifier's
// matchers to choose the line
func (c *Classifier) ExtractErrorMessage(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	_, line, matched := c.firstMatch(trimmed)
	if !matched {
		line = trimmed
	}

	msg := strings.TrimSpace(line)
	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range messagePrefixes {
			if len(msg) > len(prefix) && strings.EqualFold(msg[:len(prefix)], prefix) {
				msg = strings.TrimSpace(msg[len(prefix):])
				stripped = true
			}
		}
	}

	if !matched {
		return msg
	}

	// "cat: /x: No such file or directory" -> "No such file or directory"
	if parts := strings.Split(msg, ": "); len(parts) >= 3 && !strings.ContainsAny(parts[0], " \t") {
		if last := strings.TrimSpace(parts[len(parts)-1]); last != "" {
			msg = last
		}
	}

	if msg == "" {
		return trimmed
	}
	return msg
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

func (c *Classifier) firstMatch(text string) (Matcher, string, bool) {
	for _, line := range splitLines(text) {
		for _, m := range c.matchers {
			if m.MatchLine(line) {
				return m, line, true
			}
		}
	}
	return nil, "", false
}
