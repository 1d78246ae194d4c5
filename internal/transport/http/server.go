// Package http provides the HTTP server of the test execution service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/testexec/internal/hub"
	"github.com/xiaot623/gogo/testexec/internal/service"
	v1 "github.com/xiaot623/gogo/testexec/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server. results may be nil, in
// which case the WebSocket endpoint answers 503.
func NewServer(svc *service.Service, results *hub.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	v1.NewHandler(svc, results).RegisterRoutes(e)

	return e
}
