package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoniconeves/ascertain-task/internal/config"
	"github.com/brunoniconeves/ascertain-task/internal/platform/blobstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:                    "test",
		DatabaseURL:            "sqlite::memory:",
		RequestTimeout:         5 * time.Second,
		BodyLimit:              "1M",
		SummaryRateLimitRPS:    1,
		SummaryRateLimitBurst:  5,
		FileStorageBackend:     "local",
		LocalStorageBasePath:   t.TempDir(),
		MaxNoteUploadMB:        1,
		NotesAllowedMIMETypes:  "text/plain,application/pdf",
		OpenAIModel:            "gpt-4o-mini",
		OpenAITimeout:          2 * time.Second,
		OpenAIMaxPromptChars:   60000,
		PatientMRNAutoGenerate: true,
		PatientMRNPrefix:       "MRN-",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	require.NoError(t, cfg.Validate())
	st, err := openStores(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(st.close)
	blobs, err := blobstore.NewLocalStore(cfg.LocalStorageBasePath)
	require.NoError(t, err)
	return newEcho(cfg, newServices(cfg, st, blobs, zerolog.Nop()), st.pinger, zerolog.Nop())
}

func do(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_PatientNoteFlow(t *testing.T) {
	e := newTestServer(t, testConfig(t))

	rec := do(t, e, http.MethodPost, "/patients", `{"name":"Grace Hopper","date_of_birth":"1906-12-09"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	pid := decode(t, rec)["id"].(string)

	rec = do(t, e, http.MethodPost, "/patients/"+pid+"/notes",
		`{"taken_at":"2026-01-10T09:00:00Z","note_type":"SOAP","content_text":"S: cough\nO: afebrile\nA: viral URI\nP: fluids"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	noteID := created["id"].(string)
	assert.NotNil(t, created["structured_data"])

	rec = do(t, e, http.MethodGet, "/patients/"+pid+"/notes?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	items := page["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, true, items[0].(map[string]any)["has_structured_data"])
	assert.Nil(t, page["next_cursor"])

	rec = do(t, e, http.MethodDelete, "/patients/"+pid, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "patient with notes cannot be deleted")

	rec = do(t, e, http.MethodDelete, "/patients/"+pid+"/notes/"+noteID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, e, http.MethodGet, "/patients/"+pid+"/notes/"+noteID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Note not found", decode(t, rec)["detail"])
}

func TestServer_ErrorShapeAndHealth(t *testing.T) {
	e := newTestServer(t, testConfig(t))

	rec := do(t, e, http.MethodGet, "/patients?offset=10", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["detail"], "offset pagination is not supported")

	rec = do(t, e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, e, http.MethodGet, "/health/db", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = do(t, e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/patients"`)
}

func TestServer_SummaryDisabled(t *testing.T) {
	e := newTestServer(t, testConfig(t))
	rec := do(t, e, http.MethodPost, "/patients", `{"name":"Alan Turing","date_of_birth":"1912-06-23"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	pid := decode(t, rec)["id"].(string)

	rec = do(t, e, http.MethodGet, "/patients/"+pid+"/summary", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "LLM service unavailable", decode(t, rec)["detail"])
}

func TestServer_SummaryThroughOpenAI(t *testing.T) {
	var prompt string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		prompt = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"text\":\"No documented concerns.\"}"}}]}`))
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = upstream.URL
	e := newTestServer(t, cfg)

	rec := do(t, e, http.MethodPost, "/patients", `{"name":"Barbara Liskov","date_of_birth":"1939-11-07","mrn":"LSK-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pid := decode(t, rec)["id"].(string)
	rec = do(t, e, http.MethodPost, "/patients/"+pid+"/notes", `{"taken_at":"2026-01-10T09:00:00Z","content_text":"routine check"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/patients/"+pid+"/summary?audience=family&verbosity=short", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "No documented concerns.", out["summary_text"])
	assert.Equal(t, "family", out["audience"])
	assert.Equal(t, float64(1), out["note_count"])
	heading := out["heading"].(map[string]any)
	assert.Equal(t, "Barbara Liskov", heading["name"])
	assert.Equal(t, "LSK-1", heading["mrn"])

	assert.Contains(t, prompt, "routine check")
	assert.NotContains(t, prompt, "Barbara Liskov")
}

func TestServer_CORSPreflightAllowsPut(t *testing.T) {
	e := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/patients/0b6f1c2e-5d7a-4c1e-9a53-2f1b8e7d6c40", nil)
	req.Header.Set(echo.HeaderOrigin, "https://app.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPut)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPut)
}
