package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Prefix is the environment variable prefix, e.g. TERMBLOCKS_SERVER_PORT
const Prefix = "TERMBLOCKS"

// minChannelCapacity mirrors the output channel's floor
const minChannelCapacity = 64

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Shell     ShellConfig
	Pipeline  PipelineConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"8000"`
	Host           string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// ShellConfig holds the defaults for spawned shells.
type ShellConfig struct {
	Program      string   `envconfig:"PROGRAM"`
	Args         []string `envconfig:"ARGS"`
	WorkingDir   string   `envconfig:"WORKDIR"`
	Cols         int      `envconfig:"COLS" default:"80"`
	Rows         int      `envconfig:"ROWS" default:"24"`
	InitCommands []string `envconfig:"INIT_COMMANDS"`
}

// PipelineConfig holds output pipeline tuning.
type PipelineConfig struct {
	ChannelCapacity   int           `envconfig:"CHANNEL_CAPACITY" default:"256"`
	FlushInterval     time.Duration `envconfig:"FLUSH_INTERVAL" default:"16ms"`
	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"30s"`
	PromptGrace       time.Duration `envconfig:"PROMPT_GRACE" default:"150ms"`
	QueueLimit        int           `envconfig:"QUEUE_LIMIT" default:"32"`
	CompactThreshold  int           `envconfig:"COMPACT_THRESHOLD" default:"262144"`
	// ProbeTemplate is written after every command with %s replaced by
	// the marker. Empty uses the built-in POSIX template.
	ProbeTemplate string `envconfig:"PROBE_TEMPLATE"`
	PatternFile   string `envconfig:"PATTERN_FILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RPS" default:"100"`
	Burst             int  `envconfig:"BURST" default:"200"`
	Enabled           bool `envconfig:"ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Shell: ShellConfig{
			Cols: 80,
			Rows: 24,
		},
		Pipeline: PipelineConfig{
			ChannelCapacity:   256,
			FlushInterval:     16 * time.Millisecond,
			InactivityTimeout: 30 * time.Second,
			PromptGrace:       150 * time.Millisecond,
			QueueLimit:        32,
			CompactThreshold:  256 << 10,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error
	p := c.Pipeline

	if p.ChannelCapacity < minChannelCapacity {
		err = multierr.Append(err, fmt.Errorf("pipeline channel capacity %d is below %d", p.ChannelCapacity, minChannelCapacity))
	}
	if p.FlushInterval <= 0 {
		err = multierr.Append(err, errors.New("pipeline flush interval must be positive"))
	}
	if p.InactivityTimeout <= 0 {
		err = multierr.Append(err, errors.New("pipeline inactivity timeout must be positive"))
	}
	if p.PromptGrace <= 0 {
		err = multierr.Append(err, errors.New("pipeline prompt grace must be positive"))
	}
	if p.QueueLimit <= 0 {
		err = multierr.Append(err, errors.New("pipeline queue limit must be positive"))
	}
	if p.ProbeTemplate != "" && strings.Count(p.ProbeTemplate, "%s") != 1 {
		err = multierr.Append(err, fmt.Errorf("probe template %q needs exactly one %%s", p.ProbeTemplate))
	}
	if c.Shell.Cols <= 0 || c.Shell.Rows <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid terminal size %dx%d", c.Shell.Cols, c.Shell.Rows))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		err = multierr.Append(err, errors.New("rate limit needs positive rps and burst"))
	}

	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Address returns host:port for the HTTP listener
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}
