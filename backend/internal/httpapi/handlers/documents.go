package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/ot"
)

// Handler exposes the engine's public API over REST for non-websocket
// callers (tooling, tests, server-to-server).
type Handler struct {
	svc *collab.Service
}

func New(svc *collab.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the routes on a gin group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/docs/:docID", h.GetDocument)
	g.GET("/docs/:docID/snapshot", h.GetSnapshot)
	g.POST("/docs/:docID/ops", h.ApplyOperation)
	g.POST("/docs/:docID/locks", h.LockRange)
	g.DELETE("/docs/:docID/locks", h.UnlockRange)
	g.POST("/ops/compress", h.CompressOperations)
}

func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.svc.GetDocument(c.Request.Context(), c.Param("docID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, collab.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) GetSnapshot(c *gin.Context) {
	var version uint64
	if v := c.Query("version"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
			return
		}
		version = parsed
	}
	snap, err := h.svc.GetSnapshot(c.Request.Context(), c.Param("docID"), version)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, collab.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ApplyOperation(c *gin.Context) {
	var op ot.Operation
	if err := c.ShouldBindJSON(&op); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if op.DocumentID == "" {
		op.DocumentID = c.Param("docID")
	}
	applied, err := h.svc.ApplyOperation(c.Request.Context(), op)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, collab.ErrRevisionAhead), errors.Is(err, collab.ErrDuplicateOrOutOfOrder):
			status = http.StatusConflict
		case errors.Is(err, collab.ErrUnresolvedConflict):
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"opId":       applied.Operation.ID,
		"version":    applied.Version,
		"conflict":   applied.Conflict,
		"superseded": applied.Superseded,
	})
}

type lockRequest struct {
	UserID    string `json:"userId" binding:"required"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Exclusive bool   `json:"exclusive"`
}

func (h *Handler) LockRange(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	granted, err := h.svc.LockRange(c.Request.Context(), c.Param("docID"), req.UserID, req.Start, req.End, req.Exclusive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

func (h *Handler) UnlockRange(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}
	if err := h.svc.UnlockRange(c.Request.Context(), c.Param("docID"), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

func (h *Handler) CompressOperations(c *gin.Context) {
	var ops []ot.Operation
	if err := c.ShouldBindJSON(&ops); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.svc.CompressOperations(ops))
}
