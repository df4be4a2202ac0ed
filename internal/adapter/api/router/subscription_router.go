package router

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/adapter/api/handler"
	"pasargamex-realtime/internal/adapter/api/middleware"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
)

func SetupSubscriptionRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	subscriptionHandler := handler.GetSubscriptionHandler()

	subscriptions := e.Group("/v1/subscriptions")
	subscriptions.Use(authMiddleware.Authenticate)
	subscriptions.Use(middleware.RateLimit(limiter, ratelimit.ActionHTTP))

	subscriptions.GET("/:id", subscriptionHandler.GetStatus)
	subscriptions.POST("/:id/reconnect", subscriptionHandler.ForceReconnect)
	subscriptions.DELETE("/:id", subscriptionHandler.Unsubscribe)
}
