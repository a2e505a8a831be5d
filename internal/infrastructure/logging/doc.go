// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON lines for machine parsing
//   - Development: Colored console output for human readability
//
// Pipeline components take a plain *zap.Logger; Component hands out a
// named child so every line carries the component that wrote it.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	defer logger.Sync()
//	blocks := block.NewManager(d, block.Options{Logger: logger.Component("blocks")})
package logging
