package pagination

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ParamError reports a malformed pagination parameter. Its message is safe to
// return to the client.
type ParamError struct {
	Msg string
}

func (e *ParamError) Error() string { return e.Msg }

// Params holds cursor pagination parameters extracted from a request.
// Sort and Order are left empty when the client did not send them so that
// each entity can apply its own defaults.
type Params struct {
	Limit  int
	Cursor string
	Sort   string
	Order  Order
}

// FromContext extracts cursor pagination parameters from the echo context.
// Offset pagination is rejected outright.
func FromContext(c echo.Context) (Params, error) {
	if c.QueryParam("offset") != "" || c.QueryParam("_offset") != "" {
		return Params{}, &ParamError{Msg: "offset pagination is not supported; use cursor"}
	}

	p := Params{Limit: DefaultLimit}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			return Params{}, &ParamError{Msg: "limit must be an integer between 1 and " + strconv.Itoa(MaxLimit) + "."}
		}
		p.Limit = limit
	}

	p.Cursor = strings.TrimSpace(c.QueryParam("cursor"))
	p.Sort = strings.TrimSpace(c.QueryParam("sort"))

	if raw := strings.TrimSpace(c.QueryParam("order")); raw != "" {
		o, ok := ParseOrder(raw)
		if !ok {
			return Params{}, &ParamError{Msg: "order must be one of: asc, desc."}
		}
		p.Order = o
	}
	return p, nil
}

// Response wraps a page of results.
type Response[T any] struct {
	Items      []T     `json:"items"`
	Limit      int     `json:"limit"`
	NextCursor *string `json:"next_cursor"`
}

func NewResponse[T any](items []T, limit int, next *string) *Response[T] {
	if items == nil {
		items = []T{}
	}
	return &Response[T]{Items: items, Limit: limit, NextCursor: next}
}

// Page trims rows fetched with LIMIT limit+1. When the extra row exists the
// cursor for the next page is built from the last retained row.
func Page[T any](rows []T, limit int, cursorFor func(last T) (string, error)) ([]T, *string, error) {
	if len(rows) <= limit {
		return rows, nil, nil
	}
	rows = rows[:limit]
	token, err := cursorFor(rows[len(rows)-1])
	if err != nil {
		return nil, nil, err
	}
	return rows, &token, nil
}
