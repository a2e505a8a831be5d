package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/shared/types"
	"github.com/GriffinCanCode/termblocks/internal/shared/utils"
)

// CreateSession starts a new shell
func (h *Handlers) CreateSession(c *gin.Context) {
	var req types.CreateSessionRequest
	// An empty body means all defaults
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
	}

	if err := utils.ValidateWorkingDir(req.WorkingDir); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Cols != 0 || req.Rows != 0 {
		if err := utils.ValidateTerminalSize(req.Cols, req.Rows); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s, err := h.sessions.Create(shell.CreateRequest{
		Shell:      req.Shell,
		Args:       req.Args,
		WorkingDir: req.WorkingDir,
		Cols:       req.Cols,
		Rows:       req.Rows,
		Env:        req.Env,
	})
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, s.Info())
}

// ListSessions lists every shell, exited ones included
func (h *Handlers) ListSessions(c *gin.Context) {
	infos := h.sessions.List()
	if infos == nil {
		infos = []shell.Info{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"count":    len(infos),
	})
}

// GetSession describes one shell
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// DeleteSession kills a shell and forgets it
func (h *Handlers) DeleteSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	if err := h.sessions.Remove(s.ID()); err != nil {
		h.logger.Warn("Session closed with error",
			zap.String("session_id", s.ID().String()),
			zap.Error(err),
		)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": s.ID(),
	})
}

// ResizeSession changes the terminal window
func (h *Handlers) ResizeSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req types.ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if err := utils.ValidateTerminalSize(req.Cols, req.Rows); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Resize(req.Cols, req.Rows); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cols": req.Cols, "rows": req.Rows})
}

// GetWorkingDirectory returns the tracked directory of a shell
func (h *Handlers) GetWorkingDirectory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.WorkingDirectory())
}
