package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, statusBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body statusBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := New(0)
	code, body := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestReadyz(t *testing.T) {
	s := New(0)
	h := s.Handler()

	code, body := get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body.Status)

	s.SetReady(true)
	code, body = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
}

func TestReadyz_DependencyChecks(t *testing.T) {
	s := New(0)
	s.SetReady(true)

	healthy := true
	s.AddCheck("history", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "checks run with a deadline")
		return nil
	})
	s.AddCheck("archive", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("bucket unreachable")
	})

	code, body := get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"history": "ok", "archive": "ok"}, body.Checks)

	healthy = false
	code, body = get(t, s.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "bucket unreachable", body.Checks["archive"])
	assert.Equal(t, "ok", body.Checks["history"])
}
