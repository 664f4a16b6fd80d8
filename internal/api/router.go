package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vladislavrupets/universe/internal/auth"
	"github.com/vladislavrupets/universe/internal/gateway"
)

// Dependencies holds all handler instances for route wiring.
type Dependencies struct {
	Uploads *UploadHandler
	Gateway *gateway.Manager

	TokenService *auth.TokenService
}

// SetupRouter registers all routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// WebSocket gateway; the client identifies with its token in-band.
	e.GET("/gateway", deps.Gateway.HandleWebSocket)

	authMw := deps.TokenService.Middleware()
	e.POST("/files", deps.Uploads.Upload, authMw)
	e.GET("/files/:id", deps.Uploads.Download, authMw)
}
