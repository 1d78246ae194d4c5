// Package v1 provides the public HTTP handlers.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/hub"
	"github.com/xiaot623/gogo/testexec/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	hub     *hub.Hub
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, results *hub.Hub) *Handler {
	return &Handler{
		service: service,
		hub:     results,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Execution API
	e.GET("/v1/executions/environment", h.CheckEnvironment)
	e.POST("/v1/executions/cases/:case_id", h.ExecuteCase)
	e.POST("/v1/executions/cases/:case_id/async", h.EnqueueCase)
	e.POST("/v1/executions/batch", h.ExecuteBatch)
	e.POST("/v1/executions/batch/async", h.EnqueueBatch)
	e.GET("/v1/executions/:execution_id", h.GetExecution)

	// History API
	e.GET("/v1/cases/:case_id/history", h.ListCaseHistory)

	// Live results
	e.GET("/v1/ws/results", h.StreamResults)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// writeError maps service errors to HTTP status codes.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCaseNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrDispatchUnavailable):
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, domain.ErrorResponse{Error: err.Error(), Kind: domain.KindOf(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg, Kind: domain.ErrorKindInvalidRequest})
}

func parseCaseID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("case_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
