package router

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/adapter/api/handler"
	"pasargamex-realtime/internal/adapter/api/middleware"
)

func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", handler.GetWebSocketHandler().HandleWebSocket, authMiddleware.AuthenticateQuery)
}
