package api

import (
	"errors"
	"net/http"
	"strconv"

	"vtools/queue"
	"vtools/tools"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	registry *tools.Registry
	log      *zap.Logger
}

func NewHandler(reg *tools.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		log:      logger.Named("api"),
	}
}

type DropRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

type DropResponse struct {
	queue.Admission
	Warning string `json:"warning,omitempty"`
	// Staged is true when the files went to the staging list and still need
	// trim parameters.
	Staged bool `json:"staged"`
}

type CommitRequest struct {
	Files []queue.StagedFile `json:"files"`
}

// lookup resolves the :tool parameter or writes a 404.
func (h *Handler) lookup(c *gin.Context) (tools.Tool, *queue.Engine, bool) {
	t, e, err := h.registry.Tool(c.Param("tool"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return tools.Tool{}, nil, false
	}
	return t, e, true
}

// fail maps core errors to HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, queue.ErrInvalidDrop):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrWrongMode):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrNotTracked), errors.Is(err, queue.ErrIndexOutOfRange):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// handleListTools lists the available tools.
func (h *Handler) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Tools())
}

// handleListFiles returns the tracked files of one tool.
func (h *Handler) handleListFiles(c *gin.Context) {
	_, e, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.Files())
}

// handleDrop admits dropped files. Parallel tools start converting at once;
// serial tools stage the files until parameters are committed.
func (h *Handler) handleDrop(c *gin.Context) {
	t, e, ok := h.lookup(c)
	if !ok {
		return
	}
	var req DropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	drop := queue.Drop(req.Paths)
	var (
		adm queue.Admission
		err error
	)
	if t.Mode == queue.ModeSerial {
		adm, err = e.StageFiles(drop)
	} else {
		adm, err = e.AddFiles(drop)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DropResponse{
		Admission: adm,
		Warning:   adm.Warning(t.Accepts),
		Staged:    t.Mode == queue.ModeSerial,
	})
}

// handleRemoveFile stops tracking the file given by the path query parameter.
func (h *Handler) handleRemoveFile(c *gin.Context) {
	_, e, ok := h.lookup(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter required"})
		return
	}
	if err := e.RemoveOne(path); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleClearFinished(c *gin.Context) {
	_, e, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": e.ClearFinished()})
}

func (h *Handler) handleListStaged(c *gin.Context) {
	_, e, ok := h.lookup(c)
	if !ok {
		return
	}
	staged, err := e.Staged()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, staged)
}

func (h *Handler) handleClearStaged(c *gin.Context) {
	_, e, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := e.ClearStaged(); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleUnstage(c *gin.Context) {
	_, e, ok := h.lookup(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	if err := e.Unstage(index); err != nil {
		h.fail(c, err)
		return
	}
	staged, err := e.Staged()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, staged)
}

// handleCommit attaches trim ranges to the staged files and queues them.
func (h *Handler) handleCommit(c *gin.Context) {
	_, e, ok := h.lookup(c)
	if !ok {
		return
	}
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := e.CommitStaged(req.Files); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, e.Files())
}
