package handler

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/response"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type MessageHandler struct {
	dispatcher *usecase.Dispatcher
}

func NewMessageHandler(dispatcher *usecase.Dispatcher) *MessageHandler {
	return &MessageHandler{
		dispatcher: dispatcher,
	}
}

type sendMessageRequest struct {
	ReceiverID     string `json:"receiver_id" validate:"required,max=128"`
	Content        string `json:"content" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

func (h *MessageHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if key := c.Request().Header.Get(IdempotencyKeyHeader); key != "" {
		req.IdempotencyKey = key
	}

	userID := c.Get("uid").(string)

	message, err := h.dispatcher.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

func (h *MessageHandler) MarkAsRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	message, err := h.dispatcher.MarkMessageRead(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, message)
}
