package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error {
		if GetRequestID(c) == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error {
		if rid := GetRequestID(c); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	})
	_ = h(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestRequestID_ReplacesMalformed(t *testing.T) {
	for _, bad := range []string{"-starts-with-dash", "has space", "semi;colon", strings.Repeat("a", 129)} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		_ = RequestID()(func(c echo.Context) error { return nil })(c)

		got := rec.Header().Get(RequestIDHeader)
		if got == bad || got == "" {
			t.Errorf("expected %q to be replaced, got %q", bad, got)
		}
	}
}

func TestRequestID_AttachesToRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(base.WithContext(req.Context()))
	req.Header.Set(RequestIDHeader, "abc-123")
	c := e.NewContext(req, httptest.NewRecorder())

	_ = RequestID()(func(c echo.Context) error {
		zerolog.Ctx(c.Request().Context()).Info().Msg("inside")
		return nil
	})(c)

	if !strings.Contains(buf.String(), `"request_id":"abc-123"`) {
		t.Errorf("expected request_id in log line, got %s", buf.String())
	}
}

func TestLogger_LogsRouteNotQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/patients/123?name=ada", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/patients/:id")
	c.Set("request_id", "req-1")

	h := Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	})
	if err := h(c); err != nil {
		t.Fatalf("expected error to be handled, got %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 written, got %d", rec.Code)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["route"] != "/patients/:id" {
		t.Errorf("expected route template, got %v", line["route"])
	}
	if line["status"] != float64(404) || line["request_id"] != "req-1" || line["level"] != "warn" {
		t.Errorf("unexpected log fields %v", line)
	}
	if strings.Contains(buf.String(), "ada") || strings.Contains(buf.String(), "123") {
		t.Errorf("log line leaked path or query: %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	h := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("test panic")
	})

	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_CountsAndLogsWithoutLeaking(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients/ada", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/patients/:id")
	c.Set("request_id", "rid-9")

	var buf bytes.Buffer
	before := testutil.ToFloat64(panicsRecovered.WithLabelValues("/patients/:id"))
	h := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("boom")
	})
	err := h(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Message != "Internal server error" {
		t.Fatalf("expected generic 500, got %v", err)
	}
	if got := testutil.ToFloat64(panicsRecovered.WithLabelValues("/patients/:id")) - before; got != 1 {
		t.Errorf("expected panic counter +1, got %v", got)
	}
	if !strings.Contains(buf.String(), `"request_id":"rid-9"`) || !strings.Contains(buf.String(), `"panic":"boom"`) {
		t.Errorf("unexpected log line: %s", buf.String())
	}
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	h := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	_ = h(c)
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	h := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHTTPErrorHandler_DetailBody(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"http error", echo.NewHTTPError(http.StatusConflict, "MRN already exists"), http.StatusConflict, "MRN already exists"},
		{"nil message", &echo.HTTPError{Code: http.StatusNotFound}, http.StatusNotFound, "Not Found"},
		{"plain error hidden", errors.New("pq: connection refused to 10.0.0.5"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			HTTPErrorHandler(zerolog.Nop())(tt.err, c)

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			var body ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.Detail != tt.detail {
				t.Errorf("expected detail %q, got %q", tt.detail, body.Detail)
			}
		})
	}
}

func TestMetrics_CountsByRouteTemplate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/patients/abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/patients/:id")

	counter := httpRequestsTotal.WithLabelValues(http.MethodDelete, "/patients/:id", "409")
	before := testutil.ToFloat64(counter)

	h := Metrics()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "Patient has notes")
	})
	_ = h(c)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected counter to increase by 1, got %v", got)
	}
}
