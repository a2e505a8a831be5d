package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	handlers "github.com/GriffinCanCode/termblocks/internal/api/http"
	"github.com/GriffinCanCode/termblocks/internal/api/middleware"
	"github.com/GriffinCanCode/termblocks/internal/api/ws"
	"github.com/GriffinCanCode/termblocks/internal/domain/classify"
	"github.com/GriffinCanCode/termblocks/internal/domain/completion"
	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/config"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termblocks/internal/providers/terminal"
)

const (
	shutdownTimeout       = 10 * time.Second
	spawnFailureThreshold = 3
	spawnCooldown         = 30 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *shell.Registry
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing termblocks server",
		zap.String("addr", cfg.Server.Address()),
		zap.String("shell", cfg.Shell.Program),
	)

	metrics := monitoring.NewMetrics()

	sessions, err := NewSessions(cfg, logger, metrics)
	if err != nil {
		metrics.Close()
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	tracer := tracing.New(logger.Component("http"))

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	if len(cfg.Server.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Server.AllowedOrigins)))
	} else {
		router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	}
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			OnlyMutating:      true,
		}))
	}

	handlers.NewHandlers(sessions, metrics, logger.Component("http")).Register(router)

	wsHandler := ws.NewHandler(sessions, metrics, logger.Component("ws"))
	router.GET("/sessions/:sid/stream", wsHandler.HandleConnection)

	router.GET("/metrics", metrics.GinHandler())

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
	}, nil
}

// NewLogger builds the logger described by cfg
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// NewSessions builds the shell registry: PTY-backed terminals, the
// pipeline tuning and any patterns from the configured pattern file
func NewSessions(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*shell.Registry, error) {
	patterns, err := config.LoadPatterns(cfg.Pipeline.PatternFile)
	if err != nil {
		return nil, err
	}
	prompts, matchers, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}
	if len(prompts)+len(matchers) > 0 {
		logger.Info("Loaded custom patterns",
			zap.String("file", cfg.Pipeline.PatternFile),
			zap.Int("prompts", len(prompts)),
			zap.Int("errors", len(matchers)),
		)
	}

	provider := terminal.NewProvider(terminal.Options{
		Shell:      cfg.Shell.Program,
		Args:       cfg.Shell.Args,
		WorkingDir: cfg.Shell.WorkingDir,
		Cols:       cfg.Shell.Cols,
		Rows:       cfg.Shell.Rows,
	}, logger.Component("terminal"))

	factory := func(req shell.CreateRequest) shell.Terminal {
		return provider.NewSession(terminal.Options{
			Shell:      req.Shell,
			Args:       req.Args,
			WorkingDir: req.WorkingDir,
			Cols:       req.Cols,
			Rows:       req.Rows,
			Env:        req.Env,
		})
	}

	spawnLogger := logger.Component("spawn")
	breaker := resilience.New("shell-spawn", resilience.Settings{
		Threshold: spawnFailureThreshold,
		Cooldown:  spawnCooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			spawnLogger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return shell.NewRegistry(factory, shell.Options{
		WorkingDir:        cfg.Shell.WorkingDir,
		ChannelCapacity:   cfg.Pipeline.ChannelCapacity,
		FlushInterval:     cfg.Pipeline.FlushInterval,
		InactivityTimeout: cfg.Pipeline.InactivityTimeout,
		PromptGrace:       cfg.Pipeline.PromptGrace,
		QueueLimit:        cfg.Pipeline.QueueLimit,
		CompactThreshold:  cfg.Pipeline.CompactThreshold,
		ProbeTemplate:     cfg.Pipeline.ProbeTemplate,
		Prompts:           prompts,
		ErrorMatchers:     matchers,
		InitCommands:      cfg.Shell.InitCommands,
		Logger:            logger.Component("shell"),
		Metrics:           metrics,
	}).WithSpawnBreaker(breaker), nil
}

func compilePatterns(p *config.Patterns) ([]completion.PromptMatcher, []classify.Matcher, error) {
	var (
		prompts  []completion.PromptMatcher
		matchers []classify.Matcher
	)
	for _, pat := range p.Prompts {
		m, err := completion.NewPromptMatcher(pat.Name, pat.Pattern)
		if err != nil {
			return nil, nil, err
		}
		prompts = append(prompts, m)
	}
	for _, pat := range p.Errors {
		m, err := classify.NewRegexpMatcher(pat.Name, pat.Pattern)
		if err != nil {
			return nil, nil, err
		}
		matchers = append(matchers, m)
	}
	return prompts, matchers, nil
}

// Router exposes the configured engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Address()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and closes every shell
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var err error
	if s.http != nil {
		err = multierr.Append(err, s.http.Shutdown(ctx))
	}
	return multierr.Append(err, s.Close())
}

// Close releases the shells, tracer, metrics and logger. Later calls
// return the first result.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		err := s.sessions.Close()
		if err != nil {
			s.logger.Error("Failed to close sessions", zap.Error(err))
		}
		s.tracer.Close()
		s.metrics.Close()
		s.closeErr = multierr.Append(err, s.logger.Sync())
	})
	return s.closeErr
}
