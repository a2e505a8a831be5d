// Package terminal runs shells on pseudo-terminals.
//
// A Session owns one shell process and its PTY. Raw output is sanitized
// (escape sequences stripped, CRLF folded to LF) and appended to a
// Transcript. Consumers are not handed the bytes: they get a payload-free
// change callback on the reader goroutine and take a full Snapshot, the
// same contract an embedded terminal widget offers.
//
// Features:
//   - PTY support via creack/pty
//   - ANSI escape sequence stripping, including sequences split across reads
//   - Terminal resizing
//   - ^C interrupt of the foreground job
//   - Prefix discard with epochs so the transcript stays bounded
//
// Example Usage:
//
//	provider := terminal.NewProvider(terminal.Options{Shell: "/bin/bash"}, logger)
//	session := provider.NewSession(terminal.Options{WorkingDir: "/srv"})
//	err := session.Start(onChange, onExit)
//
//	text, epoch := session.Snapshot()
//	session.Write([]byte("ls -la\n"))
//	session.Resize(120, 40)
//	session.Close()
package terminal
