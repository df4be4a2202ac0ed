package handler

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/response"
	"pasargamex-realtime/pkg/utils"
)

type ConversationHandler struct {
	dispatcher *usecase.Dispatcher
}

func NewConversationHandler(dispatcher *usecase.Dispatcher) *ConversationHandler {
	return &ConversationHandler{
		dispatcher: dispatcher,
	}
}

type resolveConversationRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,max=128"`
}

// ResolveConversation returns the conversation between the caller and
// another user, creating it on first contact.
func (h *ConversationHandler) ResolveConversation(c echo.Context) error {
	var req resolveConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversation, err := h.dispatcher.ResolveConversation(c.Request().Context(), userID, req.RecipientID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// GetMessages pages backwards through history: ?before_sequence=<sequence>&limit=.
func (h *ConversationHandler) GetMessages(c echo.Context) error {
	params, err := utils.GetCursorParams(c, "before_sequence")
	if err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	messages, err := h.dispatcher.ListConversationMessages(c.Request().Context(), userID, c.Param("id"), params.Cursor, params.Limit)
	if err != nil {
		return response.Error(c, err)
	}

	var next int64
	if len(messages) == params.Limit && messages[0].Sequence > 1 {
		next = messages[0].Sequence
	}
	return response.Page(c, messages, len(messages), next)
}
