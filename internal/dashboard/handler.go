package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LaylAgnes/Hermes/internal/dlq"
	"github.com/LaylAgnes/Hermes/internal/producer/storage"
)

// DLQService is the slice of the DLQ manager the handlers need.
type DLQService interface {
	Scan(ctx context.Context, filter dlq.Filter, limit int) (dlq.ScanResult, error)
	Replay(ctx context.Context, filter dlq.Filter, limit int) (dlq.ReplayResult, error)
}

// RunLister exposes extraction run history. Nil when history is disabled.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// BusStatus reports bus connectivity for the health endpoint.
type BusStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	DLQ    DLQService
	Runs   RunLister
	Bus    BusStatus
}

// Handler handles dashboard HTTP requests.
type Handler struct {
	logger *slog.Logger
	dlq    DLQService
	runs   RunLister
	bus    BusStatus
}

// NewHandler creates a dashboard handler.
func NewHandler(deps *Dependencies) *Handler {
	return &Handler{
		logger: deps.Logger,
		dlq:    deps.DLQ,
		runs:   deps.Runs,
		bus:    deps.Bus,
	}
}

type scanQuery struct {
	Source        string `form:"source"`
	ErrorContains string `form:"errorContains"`
	FromISO       string `form:"fromIso"`
	ToISO         string `form:"toIso"`
	Limit         int    `form:"limit"`
}

// ScanDLQ handles GET /api/dlq
// Returns a filtered, non-destructive view of the dead-letter queue.
func (h *Handler) ScanDLQ(c *gin.Context) {
	var q scanQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	filter := dlq.Filter{
		Source:        q.Source,
		ErrorContains: q.ErrorContains,
		FromISO:       q.FromISO,
		ToISO:         q.ToISO,
	}

	result, err := h.dlq.Scan(c.Request.Context(), filter, q.Limit)
	if err != nil {
		h.logger.Error("DLQ scan failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to scan dead-letter queue",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

type replayRequest struct {
	Source        string `json:"source"`
	ErrorContains string `json:"errorContains"`
	FromISO       string `json:"fromIso"`
	ToISO         string `json:"toIso"`
	Limit         int    `json:"limit"`
}

// ReplayDLQ handles POST /api/replay
// Moves matching dead-letter entries back onto the jobs queue.
func (h *Handler) ReplayDLQ(c *gin.Context) {
	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	filter := dlq.Filter{
		Source:        req.Source,
		ErrorContains: req.ErrorContains,
		FromISO:       req.FromISO,
		ToISO:         req.ToISO,
	}

	result, err := h.dlq.Replay(c.Request.Context(), filter, req.Limit)
	if err != nil {
		h.logger.Error("DLQ replay failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to replay dead-letter queue",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListRuns handles GET /api/runs
// Lists recent extraction runs, newest first.
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	if runs == nil {
		runs = []storage.RunRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	if h.bus != nil && !h.bus.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "dlq-dashboard",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "dlq-dashboard",
	})
}

// Index handles GET /
func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}
