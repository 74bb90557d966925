package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func call(t *testing.T, handler http.HandlerFunc) (int, response) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, body
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	var dbErr error
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error { return dbErr })

	code, body := call(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready until marked")
	assert.Equal(t, "service is not ready", body.Checks["ready"])

	h.SetReady(true)
	code, body = call(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, h.IsReady())

	dbErr = errors.New("connection refused")
	p := h.readiness[0]
	p.run(context.Background())
	p.run(context.Background())
	assert.True(t, h.IsReady(), "two failures are tolerated")
	p.run(context.Background())
	assert.False(t, h.IsReady())

	code, body = call(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "connection refused", body.Checks["postgres"])

	dbErr = nil
	p.run(context.Background())
	assert.True(t, h.IsReady(), "one success recovers")
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(0))

	code, _ := call(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "checks start healthy")

	for range failAfter {
		h.liveness[0].run(context.Background())
	}
	code, body := call(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks["goroutines"], "exceeds threshold")
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestStartStop(t *testing.T) {
	h := New()
	h.AddReadinessCheck("redis", 100*time.Millisecond, PingCheck(pinger{err: errors.New("down")}))
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()
}
