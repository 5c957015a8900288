package middleware

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-ID"

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// RequestID accepts a well-formed inbound X-Request-ID or generates a new one.
// The id is echoed on the response, stored under "request_id" on the Echo
// context and attached to the request's zerolog context.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if !requestIDPattern.MatchString(rid) {
				rid = uuid.New().String()
			}

			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)

			req := c.Request()
			logger := zerolog.Ctx(req.Context()).With().Str("request_id", rid).Logger()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

			return next(c)
		}
	}
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
