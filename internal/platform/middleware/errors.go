package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// HTTPErrorHandler renders errors as {"detail": "..."}. Anything that is not
// an *echo.HTTPError becomes a 500 and is logged; its message is not sent to
// the client.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		detail := "Internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			detail = messageOf(he)
			if he.Internal != nil {
				logger.Error().Err(he.Internal).
					Str("request_id", GetRequestID(c)).
					Int("status", code).
					Msg("request failed")
			}
		} else {
			logger.Error().Err(err).
				Str("request_id", GetRequestID(c)).
				Str("route", routeOf(c)).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorBody{Detail: detail})
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func messageOf(he *echo.HTTPError) string {
	switch m := he.Message.(type) {
	case string:
		return m
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprint(m)
	}
}
