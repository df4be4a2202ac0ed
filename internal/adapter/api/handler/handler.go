package handler

import (
	ws "pasargamex-realtime/internal/infrastructure/websocket"
	"pasargamex-realtime/internal/usecase"
)

var (
	conversationHandler *ConversationHandler
	messageHandler      *MessageHandler
	notificationHandler *NotificationHandler
	subscriptionHandler *SubscriptionHandler
	webSocketHandler    *WebSocketHandler
	healthHandler       *HealthHandler
)

func Setup(
	dispatcher *usecase.Dispatcher,
	subscriptions *usecase.SubscriptionUseCase,
	wsManager *ws.Manager,
	allowedOrigins []string,
) {
	conversationHandler = NewConversationHandler(dispatcher)
	messageHandler = NewMessageHandler(dispatcher)
	notificationHandler = NewNotificationHandler(dispatcher)
	subscriptionHandler = NewSubscriptionHandler(subscriptions)
	webSocketHandler = NewWebSocketHandler(wsManager, allowedOrigins)
}

func SetupHealthHandler(subscriptions, connections Counter, checks map[string]Pinger) {
	healthHandler = NewHealthHandler(subscriptions, connections, checks)
}

func GetConversationHandler() *ConversationHandler {
	return conversationHandler
}

func GetMessageHandler() *MessageHandler {
	return messageHandler
}

func GetNotificationHandler() *NotificationHandler {
	return notificationHandler
}

func GetSubscriptionHandler() *SubscriptionHandler {
	return subscriptionHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
