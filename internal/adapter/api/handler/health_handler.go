package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

// Counter reports a live gauge such as open subscriptions.
type Counter func() int

type HealthHandler struct {
	checks        map[string]Pinger
	subscriptions Counter
	connections   Counter
}

func NewHealthHandler(subscriptions, connections Counter, checks map[string]Pinger) *HealthHandler {
	if checks == nil {
		checks = map[string]Pinger{}
	}
	return &HealthHandler{
		checks:        checks,
		subscriptions: subscriptions,
		connections:   connections,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status": "Server is running",
		"time":   time.Now().Format(time.RFC3339),
	}
	if h.subscriptions != nil {
		body["subscriptions"] = h.subscriptions()
	}
	if h.connections != nil {
		body["websocket_clients"] = h.connections()
	}
	return c.JSON(http.StatusOK, body)
}

// CheckDependencies pings every registered dependency, e.g. firebase auth
// or the postgres pool.
func (h *HealthHandler) CheckDependencies(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.TestConnection(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	return c.JSON(status, results)
}
