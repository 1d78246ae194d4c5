package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// ListCaseHistory returns the most recent runs that included a case.
// GET /v1/cases/:case_id/history?limit=20
func (h *Handler) ListCaseHistory(c echo.Context) error {
	caseID, ok := parseCaseID(c)
	if !ok {
		return badRequest(c, "invalid case_id")
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "invalid limit")
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.service.ListCaseHistory(c.Request().Context(), caseID, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"case_id": caseID,
		"history": records,
	})
}
