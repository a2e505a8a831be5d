package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/shared/types"
	"github.com/GriffinCanCode/termblocks/internal/shared/utils"
)

// ListBlocks returns every block of a shell in submission order
func (h *Handlers) ListBlocks(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	blocks := s.Blocks()
	c.JSON(http.StatusOK, gin.H{
		"blocks": blocks,
		"count":  len(blocks),
	})
}

// SubmitBlock records a command and runs it, or queues it behind the
// running one
func (h *Handlers) SubmitBlock(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req types.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if err := utils.ValidateCommand(req.Command); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateWorkingDir(req.WorkingDir); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := s.Submit(c.Request.Context(), req.Command, req.WorkingDir)
	switch {
	case errors.Is(err, shell.ErrSessionClosed):
		// The block exists and already failed
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "block": b})
		return
	case err != nil:
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, b)
}

// ClearBlocks removes finished blocks
func (h *Handlers) ClearBlocks(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": s.ClearHistory()})
}

// GetBlock returns one block
func (h *Handlers) GetBlock(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	blockID, ok := parseBlockID(c)
	if !ok {
		return
	}

	b, err := s.Block(blockID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// UpdateBlock toggles the expanded flag
func (h *Handlers) UpdateBlock(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	blockID, ok := parseBlockID(c)
	if !ok {
		return
	}

	var req types.UpdateBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	b, err := s.SetExpanded(blockID, *req.Expanded)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// CancelBlock stops a pending or running block
func (h *Handlers) CancelBlock(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	blockID, ok := parseBlockID(c)
	if !ok {
		return
	}

	b, err := s.Cancel(blockID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
