package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
	"github.com/GriffinCanCode/termblocks/internal/shared/utils"
)

// Version is reported by the root endpoint
const Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions  *shell.Registry
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	startedAt time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *shell.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sessions:  sessions,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics/json", h.MetricsJSON)

	sessions := r.Group("/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:sid", h.GetSession)
	sessions.DELETE("/:sid", h.DeleteSession)
	sessions.POST("/:sid/resize", h.ResizeSession)
	sessions.GET("/:sid/cwd", h.GetWorkingDirectory)

	sessions.GET("/:sid/blocks", h.ListBlocks)
	sessions.POST("/:sid/blocks", h.SubmitBlock)
	sessions.DELETE("/:sid/blocks", h.ClearBlocks)
	sessions.GET("/:sid/blocks/:id", h.GetBlock)
	sessions.PATCH("/:sid/blocks/:id", h.UpdateBlock)
	sessions.POST("/:sid/blocks/:id/cancel", h.CancelBlock)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termblocks",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	infos := h.sessions.List()
	active := 0
	for _, info := range infos {
		if info.Active {
			active++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"sessions":        len(infos),
		"active_sessions": active,
		"uptime_seconds":  time.Since(h.startedAt).Seconds(),
	})
}

// MetricsJSON returns the metrics snapshot for dashboards
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// session resolves :sid or writes the error response
func (h *Handlers) session(c *gin.Context) (*shell.Shell, bool) {
	sid := c.Param("sid")
	if err := utils.ValidateID(sid, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	s, err := h.sessions.Get(id.SessionID(sid))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return s, true
}

// parseBlockID reads and validates :id
func parseBlockID(c *gin.Context) (id.BlockID, bool) {
	raw := c.Param("id")
	if err := utils.ValidateID(raw, "block_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id.BlockID(raw), true
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, shell.ErrSessionNotFound), errors.Is(err, block.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, block.ErrEmptyCommand):
		return http.StatusBadRequest
	case errors.Is(err, block.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, shell.ErrSessionClosed), errors.Is(err, block.ErrClosed),
		errors.Is(err, block.ErrTerminal), errors.Is(err, block.ErrNotExecuting):
		return http.StatusConflict
	case errors.Is(err, shell.ErrSpawnSuspended):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
