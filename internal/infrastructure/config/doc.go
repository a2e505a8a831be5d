// Package config provides 12-factor configuration for termblocks.
//
// Configuration is loaded from environment variables with sensible defaults
// and checked by Validate. Every key carries the TERMBLOCKS prefix and its
// section name, for example TERMBLOCKS_PIPELINE_INACTIVITY_TIMEOUT.
//
// Configuration Sections:
//   - Server: HTTP listener and CORS origins
//   - Shell: program, arguments, working directory, size, init commands
//   - Pipeline: channel capacity, flush interval, timeouts, queue limit
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Custom prompt and error matchers live in an optional pattern file
// (YAML, TOML or JSON) named by TERMBLOCKS_PIPELINE_PATTERN_FILE.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	patterns, err := config.LoadPatterns(cfg.Pipeline.PatternFile)
package config
