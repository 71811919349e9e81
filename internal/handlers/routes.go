package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Register mounts the API routes. ingest and metrics are optional.
func Register(e *echo.Echo, h *Handler, ingest *IngestHandler, metrics http.Handler) {
	e.GET("/health", h.Health)

	api := e.Group("/api")
	api.GET("/summary", h.Summary)
	api.GET("/donations/by-year", h.DonationsByYear)
	api.GET("/elk/:habitat_id", h.ElkTrend)
	api.GET("/form990", h.Form990)
	api.GET("/runs", h.Runs)

	if ingest != nil {
		admin := e.Group("/admin")
		admin.POST("/pipeline/run", ingest.RunWarehouse)
		admin.POST("/form990/extract", ingest.ExtractForm990)
		admin.POST("/form990/load", ingest.LoadForm990)
	}
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}
