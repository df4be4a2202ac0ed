package handler

import (
	"github.com/labstack/echo/v4"

	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/response"
	"pasargamex-realtime/pkg/utils"
)

type NotificationHandler struct {
	dispatcher *usecase.Dispatcher
}

func NewNotificationHandler(dispatcher *usecase.Dispatcher) *NotificationHandler {
	return &NotificationHandler{
		dispatcher: dispatcher,
	}
}

type createNotificationRequest struct {
	RecipientID string                 `json:"recipient_id" validate:"required,max=128"`
	SenderID    string                 `json:"sender_id" validate:"omitempty,max=128"`
	Type        string                 `json:"type" validate:"required"`
	Title       string                 `json:"title" validate:"required,max=200"`
	Message     string                 `json:"message" validate:"max=2000"`
	ActionData  map[string]interface{} `json:"action_data"`
}

// GetNotifications pages forward through the caller's feed:
// ?after_sequence=<sequence>&limit=.
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	params, err := utils.GetCursorParams(c, "after_sequence")
	if err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	notifications, err := h.dispatcher.ListNotifications(c.Request().Context(), userID, params.Cursor, params.Limit)
	if err != nil {
		return response.Error(c, err)
	}

	var next int64
	if len(notifications) == params.Limit {
		next = notifications[len(notifications)-1].Sequence
	}
	return response.Page(c, notifications, len(notifications), next)
}

func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	notification, err := h.dispatcher.MarkNotificationRead(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, notification)
}

// CreateNotification is the internal entry point other backends use to
// push a notification into a user's feed.
func (h *NotificationHandler) CreateNotification(c echo.Context) error {
	var req createNotificationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	notification, err := h.dispatcher.CreateNotification(c.Request().Context(), usecase.CreateNotificationInput{
		RecipientID: req.RecipientID,
		SenderID:    req.SenderID,
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		ActionData:  req.ActionData,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, notification)
}
