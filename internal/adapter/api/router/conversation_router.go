package router

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/adapter/api/handler"
	"pasargamex-realtime/internal/adapter/api/middleware"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
)

func SetupConversationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	conversationHandler := handler.GetConversationHandler()
	messageHandler := handler.GetMessageHandler()

	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)
	conversations.Use(middleware.RateLimit(limiter, ratelimit.ActionHTTP))

	conversations.POST("", conversationHandler.ResolveConversation)
	conversations.GET("/:id/messages", conversationHandler.GetMessages)

	messages := e.Group("/v1/messages")
	messages.Use(authMiddleware.Authenticate)
	messages.Use(middleware.RateLimit(limiter, ratelimit.ActionHTTP))

	messages.POST("", messageHandler.SendMessage)
	messages.PUT("/:id/read", messageHandler.MarkAsRead)
}
