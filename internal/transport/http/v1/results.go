package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// StreamResults upgrades to a WebSocket that receives result notifications.
// Repeating ?case_id= narrows the stream to those cases.
// GET /v1/ws/results
func (h *Handler) StreamResults(c echo.Context) error {
	if h.hub == nil {
		return c.JSON(http.StatusServiceUnavailable, domain.ErrorResponse{Error: "live results are not enabled"})
	}

	var caseIDs []int64
	for _, raw := range c.QueryParams()["case_id"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return badRequest(c, "invalid case_id")
		}
		caseIDs = append(caseIDs, id)
	}

	return h.hub.Serve(c.Response(), c.Request(), caseIDs)
}
