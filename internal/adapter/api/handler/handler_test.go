package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasargamex-realtime/internal/adapter/api"
	"pasargamex-realtime/internal/adapter/api/middleware"
	adapter "pasargamex-realtime/internal/adapter/repository"
	"pasargamex-realtime/internal/infrastructure/pubsub"
	"pasargamex-realtime/internal/infrastructure/ratelimit"
	"pasargamex-realtime/internal/infrastructure/realtime"
	"pasargamex-realtime/internal/usecase"
	"pasargamex-realtime/pkg/errors"
)

const serviceToken = "s3cret"

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	store := adapter.NewMemoryStore()
	broker := pubsub.NewMemoryBroker()
	supervisor := realtime.NewSupervisor(store, broker, realtime.Options{PollInterval: time.Second})
	t.Cleanup(func() {
		supervisor.Close()
		_ = broker.Close()
	})
	limiter := ratelimit.NewRateLimiter()
	resolver := usecase.NewConversationResolver(store, 3)
	dispatcher := usecase.NewDispatcher(resolver, store, broker, limiter, usecase.DispatcherConfig{
		WriteTimeout:    time.Second,
		NotifyOnMessage: true,
	})
	subscriptions := usecase.NewSubscriptionUseCase(supervisor, resolver, limiter)

	conversations := NewConversationHandler(dispatcher)
	messages := NewMessageHandler(dispatcher)
	notifications := NewNotificationHandler(dispatcher)
	subs := NewSubscriptionHandler(subscriptions)
	health := NewHealthHandler(supervisor.Len, func() int { return 0 }, nil)

	e := echo.New()
	e.Validator = api.NewValidator()
	auth := middleware.NewDevAuthMiddleware()
	service := middleware.NewServiceMiddleware(serviceToken)

	v1 := e.Group("/v1", auth.Authenticate)
	v1.POST("/conversations", conversations.ResolveConversation)
	v1.GET("/conversations/:id/messages", conversations.GetMessages)
	v1.POST("/messages", messages.SendMessage)
	v1.PUT("/messages/:id/read", messages.MarkAsRead)
	v1.GET("/notifications", notifications.GetNotifications)
	v1.PUT("/notifications/:id/read", notifications.MarkAsRead)
	v1.GET("/subscriptions/:id", subs.GetStatus)
	e.POST("/v1/internal/notifications", notifications.CreateNotification, service.ServiceOnly)
	e.GET("/health", health.CheckHealth)
	return e
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, e *echo.Echo, method, path, user, body string, headers ...string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(middleware.DevUserHeader, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec.Code, env
}

func TestSendMessageAndListHistory(t *testing.T) {
	e := newTestServer(t)

	status, env := do(t, e, http.MethodPost, "/v1/messages", "bob", `{"receiver_id":"alice","content":"Hello"}`)
	require.Equal(t, http.StatusCreated, status)
	var sent struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversation_id"`
		Sequence       int64  `json:"sequence"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, int64(1), sent.Sequence)

	for i := 0; i < 2; i++ {
		status, _ = do(t, e, http.MethodPost, "/v1/messages", "alice", `{"receiver_id":"bob","content":"reply"}`)
		require.Equal(t, http.StatusCreated, status)
	}

	status, env = do(t, e, http.MethodGet, "/v1/conversations/"+sent.ConversationID+"/messages?limit=2", "alice", "")
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Items []struct {
			Sequence int64 `json:"sequence"`
		} `json:"items"`
		Count      int   `json:"count"`
		NextCursor int64 `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Items[0].Sequence)
	assert.Equal(t, int64(3), page.Items[1].Sequence)
	assert.Equal(t, int64(2), page.NextCursor)

	status, _ = do(t, e, http.MethodGet, "/v1/conversations/"+sent.ConversationID+"/messages", "mallory", "")
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSendMessageHonoursIdempotencyHeader(t *testing.T) {
	e := newTestServer(t)
	body := `{"receiver_id":"alice","content":"once"}`

	_, first := do(t, e, http.MethodPost, "/v1/messages", "bob", body, IdempotencyKeyHeader, "k-1")
	_, second := do(t, e, http.MethodPost, "/v1/messages", "bob", body, IdempotencyKeyHeader, "k-1")
	assert.JSONEq(t, string(first.Data), string(second.Data))
}

func TestSendMessageValidation(t *testing.T) {
	e := newTestServer(t)

	status, env := do(t, e, http.MethodPost, "/v1/messages", "bob", `{"receiver_id":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.CodeValidation, env.Error.Code)
	assert.Equal(t, "content is required", env.Error.Message)

	status, _ = do(t, e, http.MethodPost, "/v1/messages", "bob", `{"receiver_id":"bob","content":"me"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, e, http.MethodPost, "/v1/messages", "", `{"receiver_id":"alice","content":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMarkMessageReadReceiverOnly(t *testing.T) {
	e := newTestServer(t)

	_, env := do(t, e, http.MethodPost, "/v1/messages", "bob", `{"receiver_id":"alice","content":"read me"}`)
	var sent struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sent))

	status, _ := do(t, e, http.MethodPut, "/v1/messages/"+sent.ID+"/read", "bob", "")
	assert.Equal(t, http.StatusForbidden, status)

	status, env = do(t, e, http.MethodPut, "/v1/messages/"+sent.ID+"/read", "alice", "")
	require.Equal(t, http.StatusOK, status)
	var read struct {
		ReadAt *time.Time `json:"read_at"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &read))
	assert.NotNil(t, read.ReadAt)

	status, _ = do(t, e, http.MethodPut, "/v1/messages/missing/read", "alice", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestInternalNotificationsRequireServiceToken(t *testing.T) {
	e := newTestServer(t)
	body := `{"recipient_id":"alice","type":"order_created","title":"Order created","action_data":{"order_id":"o-1"}}`

	status, _ := do(t, e, http.MethodPost, "/v1/internal/notifications", "", body)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = do(t, e, http.MethodPost, "/v1/internal/notifications", "", body, middleware.ServiceTokenHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, status)

	status, env := do(t, e, http.MethodPost, "/v1/internal/notifications", "", body, middleware.ServiceTokenHeader, serviceToken)
	require.Equal(t, http.StatusCreated, status)
	var created struct {
		ID       string `json:"id"`
		Sequence int64  `json:"sequence"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, int64(1), created.Sequence)

	status, env = do(t, e, http.MethodGet, "/v1/notifications?after_sequence=0", "alice", "")
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Count)

	status, _ = do(t, e, http.MethodPut, "/v1/notifications/"+created.ID+"/read", "bob", "")
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = do(t, e, http.MethodPut, "/v1/notifications/"+created.ID+"/read", "alice", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestListRejectsMalformedCursor(t *testing.T) {
	e := newTestServer(t)

	status, env := do(t, e, http.MethodGet, "/v1/notifications?after_sequence=abc", "alice", "")
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.CodeValidation, env.Error.Code)
}

func TestUnknownSubscription(t *testing.T) {
	e := newTestServer(t)

	status, _ := do(t, e, http.MethodGet, "/v1/subscriptions/nope", "alice", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["subscriptions"])
}

func TestResolveConversationIsSymmetric(t *testing.T) {
	e := newTestServer(t)

	status, first := do(t, e, http.MethodPost, "/v1/conversations", "alice", `{"recipient_id":"bob"}`)
	require.Equal(t, http.StatusOK, status)
	status, second := do(t, e, http.MethodPost, "/v1/conversations", "bob", `{"recipient_id":"alice"}`)
	require.Equal(t, http.StatusOK, status)

	var a, b struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(first.Data, &a))
	require.NoError(t, json.Unmarshal(second.Data, &b))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID, b.ID)

	status, _ = do(t, e, http.MethodPost, "/v1/conversations", "alice", `{"recipient_id":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}
