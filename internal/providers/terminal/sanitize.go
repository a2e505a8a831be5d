package terminal

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// maxEscape bounds how long an unterminated escape sequence is held back
const maxEscape = 256

var newlines = strings.NewReplacer("\r\n", "\n", "\a", "")

// Sanitizer converts raw PTY reads to plain text. Escape sequences and
// UTF-8 runes split across reads are held until complete.
//
// A carriage return rewinds to the start of the line: the text it
// overwrites is dropped when it came from the same read. Text returned
// by earlier reads is already out, so a CR after it is only removed.
type Sanitizer struct {
	pending []byte
	// midLine is set when the text returned so far does not end a line
	midLine bool
}

// Write consumes raw bytes and returns the plain text they complete
func (s *Sanitizer) Write(p []byte) string {
	data := append(s.pending, p...)
	cut := incompleteTail(data)

	s.pending = append([]byte(nil), data[cut:]...)
	return s.text(string(data[:cut]))
}

// Flush returns whatever is held back
func (s *Sanitizer) Flush() string {
	data := s.pending
	s.pending = nil
	return s.text(string(data))
}

func (s *Sanitizer) text(raw string) string {
	if raw == "" {
		return ""
	}
	plain := newlines.Replace(ansi.Strip(raw))

	out := make([]byte, 0, len(plain))
	lineStart := 0
	if s.midLine {
		lineStart = -1
	}
	for i := 0; i < len(plain); i++ {
		switch c := plain[i]; c {
		case '\r':
			if lineStart >= 0 {
				out = out[:lineStart]
			}
		case '\n':
			out = append(out, c)
			lineStart = len(out)
		default:
			out = append(out, c)
		}
	}
	if lineStart >= 0 {
		s.midLine = len(out) > lineStart
	}
	return string(out)
}

// incompleteTail returns the index where an unfinished escape sequence
// or rune starts, or len(b) when everything is complete
func incompleteTail(b []byte) int {
	if i := bytes.LastIndexByte(b, 0x1b); i >= 0 && len(b)-i <= maxEscape && !escapeComplete(b[i:]) {
		return i
	}

	// a trailing CR may be the first half of CRLF
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return n - 1
	}

	for n := 1; n <= utf8.UTFMax && n <= len(b); n++ {
		start := len(b) - n
		if utf8.RuneStart(b[start]) {
			if !utf8.FullRune(b[start:]) {
				return start
			}
			break
		}
	}
	return len(b)
}

func escapeComplete(seq []byte) bool {
	if len(seq) < 2 {
		return false
	}

	switch seq[1] {
	case '[':
		// CSI ends with a final byte in 0x40-0x7e
		for _, c := range seq[2:] {
			if c >= 0x40 && c <= 0x7e {
				return true
			}
		}
		return false
	case ']', 'P', 'X', '^', '_':
		// string sequences end with BEL or ST; ST starts with its own
		// ESC, which would be the last one seen
		return bytes.IndexByte(seq, 0x07) >= 0
	case '(', ')', '*', '+', '#', '%':
		return len(seq) >= 3
	default:
		return true
	}
}
