package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mauv0809/rmef-warehouse/internal/models"
	"github.com/mauv0809/rmef-warehouse/internal/pipeline"
)

// Runner executes pipeline runs on behalf of the admin endpoints.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunStats, error)
	ExtractForm990(ctx context.Context) ([]models.Form990Record, error)
	RunForm990(ctx context.Context, extract bool) (*pipeline.RunStats, error)
}

// IngestHandler handles the admin endpoints that trigger pipeline runs.
// Only one run may be in flight at a time.
type IngestHandler struct {
	runner Runner
	logger *slog.Logger
	mu     sync.Mutex
}

func NewIngestHandler(runner Runner, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{runner: runner, logger: logger}
}

// IngestResponse is the JSON response for ingestion endpoints.
type IngestResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Count   int                `json:"count,omitempty"`
	Elapsed string             `json:"elapsed,omitempty"`
	Stats   *pipeline.RunStats `json:"stats,omitempty"`
}

var errBusy = errors.New("a pipeline run is already in progress")

// exclusive runs fn while holding the run lock. The context passed to fn
// outlives the request so a client disconnect does not abort a run midway.
func (h *IngestHandler) exclusive(c echo.Context, fn func(ctx context.Context) error) error {
	if !h.mu.TryLock() {
		return c.JSON(http.StatusConflict, IngestResponse{Success: false, Message: errBusy.Error()})
	}
	defer h.mu.Unlock()
	return fn(context.WithoutCancel(c.Request().Context()))
}

// totalLoaded sums new and updated rows across entities.
func totalLoaded(stats *pipeline.RunStats) int {
	n := 0
	for _, t := range stats.Entities {
		n += t.Loaded + t.Updated
	}
	return n
}

func (h *IngestHandler) respond(c echo.Context, what string, stats *pipeline.RunStats, err error) error {
	if err != nil {
		h.logger.Error(what+" failed", "run_id", stats.RunID, "error", err)
		return c.JSON(http.StatusInternalServerError, IngestResponse{
			Success: false,
			Message: fmt.Sprintf("%s failed: %v", what, err),
			Elapsed: stats.Duration().String(),
			Stats:   stats,
		})
	}
	count := totalLoaded(stats)
	return c.JSON(http.StatusOK, IngestResponse{
		Success: true,
		Message: fmt.Sprintf("%s committed %d rows", what, count),
		Count:   count,
		Elapsed: stats.Duration().String(),
		Stats:   stats,
	})
}

// RunWarehouse handles POST /admin/pipeline/run
// Loads every source file in a single transaction.
func (h *IngestHandler) RunWarehouse(c echo.Context) error {
	return h.exclusive(c, func(ctx context.Context) error {
		stats, err := h.runner.Run(ctx)
		return h.respond(c, "warehouse run", stats, err)
	})
}

// ExtractForm990 handles POST /admin/form990/extract
// Extracts the filings and replaces the intermediate artifact.
func (h *IngestHandler) ExtractForm990(c echo.Context) error {
	return h.exclusive(c, func(ctx context.Context) error {
		start := time.Now()
		records, err := h.runner.ExtractForm990(ctx)
		elapsed := time.Since(start)
		if err != nil {
			h.logger.Error("form 990 extraction failed", "error", err)
			return c.JSON(http.StatusInternalServerError, IngestResponse{
				Success: false,
				Message: fmt.Sprintf("Failed to extract form 990 data: %v", err),
			})
		}
		return c.JSON(http.StatusOK, IngestResponse{
			Success: true,
			Message: fmt.Sprintf("Extracted %d form 990 filings", len(records)),
			Count:   len(records),
			Elapsed: elapsed.String(),
		})
	})
}

// LoadForm990 handles POST /admin/form990/load
// Query params:
// - extract: "false" loads the existing artifact without extracting first
func (h *IngestHandler) LoadForm990(c echo.Context) error {
	extract := c.QueryParam("extract") != "false"
	return h.exclusive(c, func(ctx context.Context) error {
		stats, err := h.runner.RunForm990(ctx, extract)
		return h.respond(c, "form 990 load", stats, err)
	})
}
