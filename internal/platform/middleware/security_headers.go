package middleware

import (
	"github.com/labstack/echo/v4"
)

// apiHeaders apply to every response, errors included. Responses carry PHI,
// so nothing may be cached or framed.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Cache-Control", "no-store"},
	{"Pragma", "no-cache"},
}

const hstsValue = "max-age=63072000; includeSubDomains"

// SecurityHeaders sets apiHeaders, plus HSTS when the request arrived over
// TLS directly or through a proxy that says so.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}
