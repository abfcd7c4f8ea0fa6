package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speaker-service/internal/health"
)

type checkBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func serve(t *testing.T, h *health.Handler, path string) (int, checkBody) {
	t.Helper()

	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body checkBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	failing := health.Checker{Name: "nats", Check: func(context.Context) error { return errors.New("down") }}

	code, body := serve(t, health.New(failing), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestReadyz_AllPass(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.ConnectionCheck("nats", func() bool { return true }),
		health.WritableDirCheck("uploads", t.TempDir()),
	)

	code, body := serve(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["nats"])
	assert.Equal(t, "ok", body.Checks["uploads"])
}

func TestReadyz_Failure(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.ConnectionCheck("mqtt", func() bool { return false }),
		health.WritableDirCheck("uploads", filepath.Join(t.TempDir(), "missing")),
	)

	code, body := serve(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fail", body.Status)
	assert.Equal(t, "fail: not connected", body.Checks["mqtt"])
	assert.Contains(t, body.Checks["uploads"], "not writable")
}
