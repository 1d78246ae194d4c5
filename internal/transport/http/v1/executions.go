package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// CheckEnvironment reports whether the host can run executions.
// GET /v1/executions/environment
func (h *Handler) CheckEnvironment(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.CheckEnvironment())
}

// ExecuteCase runs one case and waits for the outcome.
// POST /v1/executions/cases/:case_id
func (h *Handler) ExecuteCase(c echo.Context) error {
	caseID, ok := parseCaseID(c)
	if !ok {
		return badRequest(c, "invalid case_id")
	}

	outcome, err := h.service.ExecuteSingle(c.Request().Context(), caseID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// EnqueueCase queues one case for async execution.
// POST /v1/executions/cases/:case_id/async
func (h *Handler) EnqueueCase(c echo.Context) error {
	caseID, ok := parseCaseID(c)
	if !ok {
		return badRequest(c, "invalid case_id")
	}

	resp, err := h.service.EnqueueExecution(c.Request().Context(), domain.ExecutionRequest{
		Mode:    domain.ExecutionModeSingle,
		CaseIDs: []int64{caseID},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// ExecuteBatch runs several cases in one runner invocation.
// POST /v1/executions/batch
func (h *Handler) ExecuteBatch(c echo.Context) error {
	var req domain.BatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	outcome, err := h.service.ExecuteBatch(c.Request().Context(), req.CaseIDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// EnqueueBatch queues several cases for async execution.
// POST /v1/executions/batch/async
func (h *Handler) EnqueueBatch(c echo.Context) error {
	var req domain.BatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.service.EnqueueExecution(c.Request().Context(), domain.ExecutionRequest{
		Mode:    domain.ExecutionModeBatch,
		CaseIDs: req.CaseIDs,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// GetExecution returns the history record of one run.
// GET /v1/executions/:execution_id
func (h *Handler) GetExecution(c echo.Context) error {
	rec, err := h.service.GetExecution(c.Request().Context(), c.Param("execution_id"))
	if err != nil {
		return writeError(c, err)
	}
	if rec == nil {
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "execution not found"})
	}
	return c.JSON(http.StatusOK, rec)
}
