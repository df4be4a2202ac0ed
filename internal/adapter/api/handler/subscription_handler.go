package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/response"
)

// SubscriptionHandler exposes status and control of live subscriptions.
// Subscriptions themselves are opened over the websocket.
type SubscriptionHandler struct {
	subscriptions *usecase.SubscriptionUseCase
}

func NewSubscriptionHandler(subscriptions *usecase.SubscriptionUseCase) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
	}
}

func (h *SubscriptionHandler) GetStatus(c echo.Context) error {
	userID := c.Get("uid").(string)

	status, err := h.subscriptions.GetConnectionStatus(userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, status)
}

func (h *SubscriptionHandler) ForceReconnect(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.subscriptions.ForceReconnect(userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusAccepted)
}

func (h *SubscriptionHandler) Unsubscribe(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.subscriptions.Unsubscribe(userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}
