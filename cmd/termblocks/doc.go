// Command termblocks serves shell sessions as command blocks.
//
// Usage:
//
//	# HTTP + WebSocket server
//	termblocks serve --port 8000
//
//	# One-shot: run commands in a fresh shell and print each block
//	termblocks run 'ls -la' 'git status'
//	termblocks run --json 'make test'
//
// Configuration comes from TERMBLOCKS_* environment variables; flags
// override them. run exits with the last non-zero exit code.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
