package router

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/adapter/api/middleware"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, serviceMiddleware *middleware.ServiceMiddleware, limiter *ratelimit.RateLimiter) {
	SetupConversationRouter(e, authMiddleware, limiter)
	SetupNotificationRouter(e, authMiddleware, serviceMiddleware, limiter)
	SetupSubscriptionRouter(e, authMiddleware, limiter)
	SetupWebSocketRouter(e, authMiddleware)
	SetupHealthRouter(e)
}
