package classify

import (
	"fmt"
	"regexp"
)

// Matcher is one strategy in the ordered error-pattern library
type Matcher interface {
	Name() string
	MatchLine(line string) bool
}

// RegexpMatcher matches a line against a compiled regular expression
type RegexpMatcher struct {
	name string
	re   *regexp.Regexp
}

// NewRegexpMatcher compiles expr into a named matcher
func NewRegexpMatcher(name, expr string) (*RegexpMatcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile error pattern %q: %w", name, err)
	}
	return &RegexpMatcher{name: name, re: re}, nil
}

func mustMatcher(name, expr string) *RegexpMatcher {
	m, err := NewRegexpMatcher(name, expr)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the pattern name
func (m *RegexpMatcher) Name() string { return m.name }

// MatchLine reports whether line matches
func (m *RegexpMatcher) MatchLine(line string) bool { return m.re.MatchString(line) }

// DefaultMatchers returns the built-in error library, in match order
func DefaultMatchers() []Matcher {
	return []Matcher{
		mustMatcher("command-not-found", `(?i)(command not found|: not found$|is not recognized as an internal or external command)`),
		mustMatcher("no-such-file", `(?i)no such file or directory`),
		mustMatcher("permission-denied", `(?i)permission denied|operation not permitted`),
		mustMatcher("syntax-error", `(?i)syntax error`),
		mustMatcher("error-prefix", `(?i)^\s*error(\[[^\]]*\])?:`),
		mustMatcher("fatal-prefix", `(?i)^\s*fatal:`),
		mustMatcher("package-manager", `^\s*(npm ERR!|npm error|yarn error|pnpm ERR|E: |ERROR: |error: could not|Error: Cannot find module)`),
	}
}
