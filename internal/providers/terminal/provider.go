package terminal

import (
	"go.uber.org/zap"
)

// Provider opens PTY sessions with a shared set of defaults
type Provider struct {
	defaults Options
	logger   *zap.Logger
}

// NewProvider creates a provider. Fields left empty in per-session
// options fall back to defaults.
func NewProvider(defaults Options, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		defaults: defaults,
		logger:   logger.Named("terminal"),
	}
}

// Defaults returns the provider's default options
func (p *Provider) Defaults() Options {
	return p.defaults
}

// NewSession prepares a session that merges opts over the defaults. The
// shell is not spawned until Start.
func (p *Provider) NewSession(opts Options) *Session {
	return NewSession(p.merge(opts), p.logger)
}

func (p *Provider) merge(opts Options) Options {
	merged := p.defaults
	if opts.Shell != "" {
		merged.Shell = opts.Shell
		merged.Args = opts.Args
	} else if len(opts.Args) > 0 {
		merged.Args = opts.Args
	}
	if opts.WorkingDir != "" {
		merged.WorkingDir = opts.WorkingDir
	}
	if opts.Cols > 0 {
		merged.Cols = opts.Cols
	}
	if opts.Rows > 0 {
		merged.Rows = opts.Rows
	}
	if opts.Term != "" {
		merged.Term = opts.Term
	}
	if len(opts.Env) > 0 {
		env := make(map[string]string, len(p.defaults.Env)+len(opts.Env))
		for k, v := range p.defaults.Env {
			env[k] = v
		}
		for k, v := range opts.Env {
			env[k] = v
		}
		merged.Env = env
	}
	return merged
}
