package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mauv0809/rmef-warehouse/internal/db"
	"github.com/mauv0809/rmef-warehouse/internal/models"
)

// Reader is the read side of the warehouse served over HTTP.
type Reader interface {
	TableCounts(ctx context.Context) (map[string]int64, error)
	OrphanFacts(ctx context.Context) (map[string]int64, error)
	DonationsByYear(ctx context.Context) ([]db.YearTotal, error)
	ElkTrend(ctx context.Context, habitatID string) ([]models.ElkPopulation, error)
	Form990Financials(ctx context.Context) ([]models.Form990Financial, error)
	Form990Programs(ctx context.Context) ([]models.Form990ProgramService, error)
	RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
}

type Handler struct {
	repo   Reader
	logger *slog.Logger
}

func New(repo Reader, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) fail(c echo.Context, status int, what string, err error) error {
	h.logger.Error(what, "path", c.Path(), "error", err)
	return c.JSON(status, ErrorResponse{Error: what})
}

// Health returns application health status
// @Summary Health check
// @Description Returns the health status of the application
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// SummaryResponse reports table sizes and referential integrity.
type SummaryResponse struct {
	Tables  map[string]int64 `json:"tables"`
	Orphans map[string]int64 `json:"orphans"`
}

// Summary returns row counts and orphaned fact references
// @Summary Warehouse summary
// @Tags warehouse
// @Produce json
// @Success 200 {object} SummaryResponse
// @Router /api/summary [get]
func (h *Handler) Summary(c echo.Context) error {
	ctx := c.Request().Context()
	tables, err := h.repo.TableCounts(ctx)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "failed to count tables", err)
	}
	orphans, err := h.repo.OrphanFacts(ctx)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "failed to check fact references", err)
	}
	return c.JSON(http.StatusOK, SummaryResponse{Tables: tables, Orphans: orphans})
}

// DonationsByYear handles GET /api/donations/by-year
func (h *Handler) DonationsByYear(c echo.Context) error {
	totals, err := h.repo.DonationsByYear(c.Request().Context())
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "failed to query donations", err)
	}
	return c.JSON(http.StatusOK, nonNil(totals))
}

// ElkTrend handles GET /api/elk/:habitat_id
// Returns 404 when the habitat has no population facts.
func (h *Handler) ElkTrend(c echo.Context) error {
	habitatID := c.Param("habitat_id")
	trend, err := h.repo.ElkTrend(c.Request().Context(), habitatID)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "failed to query elk populations", err)
	}
	if len(trend) == 0 {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "no population data for habitat " + habitatID})
	}
	return c.JSON(http.StatusOK, trend)
}

type Form990Response struct {
	Financials []models.Form990Financial      `json:"financials"`
	Programs   []models.Form990ProgramService `json:"programs"`
}

// Form990 handles GET /api/form990
func (h *Handler) Form990(c echo.Context) error {
	ctx := c.Request().Context()
	financials, err := h.repo.Form990Financials(ctx)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "failed to query form 990 financials", err)
	}
	programs, err := h.repo.Form990Programs(ctx)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "failed to query form 990 programs", err)
	}
	return c.JSON(http.StatusOK, Form990Response{Financials: nonNil(financials), Programs: nonNil(programs)})
}

// Runs handles GET /api/runs
// Query params:
// - limit: number of runs to return (default 20)
func (h *Handler) Runs(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}
	runs, err := h.repo.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, http.StatusInternalServerError, "failed to query run history", err)
	}
	return c.JSON(http.StatusOK, nonNil(runs))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
