package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"pasargamex-realtime/pkg/errors"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// CursorParams are the sequence cursor and page size of a list request.
type CursorParams struct {
	Cursor int64
	Limit  int
}

// GetCursorParams reads ?<cursorName>= and ?limit=. Missing values fall back
// to zero and DefaultPageSize; malformed ones are rejected.
func GetCursorParams(c echo.Context, cursorName string) (CursorParams, error) {
	params := CursorParams{Limit: DefaultPageSize}

	if raw := c.QueryParam(cursorName); raw != "" {
		cursor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || cursor < 0 {
			return params, errors.Validation(cursorName+" must be a non-negative integer", err)
		}
		params.Cursor = cursor
	}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return params, errors.Validation("limit must be a positive integer", err)
		}
		if limit > MaxPageSize {
			limit = MaxPageSize
		}
		params.Limit = limit
	}

	return params, nil
}
