package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

const ServiceTokenHeader = "X-Service-Token"

// ServiceMiddleware guards internal endpoints called by other backends.
type ServiceMiddleware struct {
	token string
}

func NewServiceMiddleware(token string) *ServiceMiddleware {
	return &ServiceMiddleware{
		token: token,
	}
}

func (m *ServiceMiddleware) ServiceOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.token == "" {
			return echo.NewHTTPError(http.StatusForbidden, "Internal endpoints are disabled")
		}

		presented := c.Request().Header.Get(ServiceTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) != 1 {
			return echo.NewHTTPError(http.StatusForbidden, "Service privileges required")
		}

		return next(c)
	}
}
