package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cu-log-sync/internal/ingest"
)

const healthTimeout = 2 * time.Second

// runResponse is the JSON shape of a run summary.
type runResponse struct {
	ingest.RunSummary
	OK         bool    `json:"ok"`
	DurationMs float64 `json:"duration_ms"`
}

// GetLastRun handles GET /api/runs/last.
func (h *Handler) GetLastRun(c *gin.Context) {
	summary, ok := h.runs.LastRun()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no run has finished yet"})
		return
	}
	c.JSON(http.StatusOK, runResponse{
		RunSummary: summary,
		OK:         summary.OK(),
		DurationMs: float64(summary.Duration()) / float64(time.Millisecond),
	})
}

// PostRun handles POST /api/runs, asking the scheduler for an immediate run.
func (h *Handler) PostRun(c *gin.Context) {
	if err := h.runs.Trigger(); err != nil {
		if errors.Is(err, ingest.ErrRunInProgress) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to queue run"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// GetHealth handles GET /healthz. The service is healthy when the database answers.
func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "running": h.runs.Running()})
}
