package router

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/adapter/api/handler"
	"pasargamex-realtime/internal/adapter/api/middleware"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
)

func SetupNotificationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, serviceMiddleware *middleware.ServiceMiddleware, limiter *ratelimit.RateLimiter) {
	notificationHandler := handler.GetNotificationHandler()

	notifications := e.Group("/v1/notifications")
	notifications.Use(authMiddleware.Authenticate)
	notifications.Use(middleware.RateLimit(limiter, ratelimit.ActionHTTP))

	notifications.GET("", notificationHandler.GetNotifications)
	notifications.PUT("/:id/read", notificationHandler.MarkAsRead)

	internal := e.Group("/v1/internal/notifications")
	internal.Use(serviceMiddleware.ServiceOnly)

	internal.POST("", notificationHandler.CreateNotification)
}
