package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(_ context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestLiveEndpoint_AllPassing(t *testing.T) {
	c := New()
	c.AddLiveness("one", time.Second, passing())
	c.AddLiveness("two", time.Second, passing())

	w := httptest.NewRecorder()
	c.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestLiveEndpoint_FailingProbe(t *testing.T) {
	c := New()
	c.AddLiveness("db", time.Second, failing("connection refused"))

	// Probes start healthy; drive past the failure threshold of 3.
	ctx := context.Background()
	for range 3 {
		c.live[0].exec(ctx)
	}

	w := httptest.NewRecorder()
	c.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["db"])
}

func TestLiveEndpoint_FailureBelowThreshold(t *testing.T) {
	c := New()
	c.AddLiveness("flaky", time.Second, failing("temporary"))

	ctx := context.Background()
	c.live[0].exec(ctx)
	c.live[0].exec(ctx)

	w := httptest.NewRecorder()
	c.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyEndpoint_NotReady(t *testing.T) {
	c := New()
	c.AddReadiness("db", time.Second, passing())

	w := httptest.NewRecorder()
	c.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body.Checks, "_readiness")
}

func TestReadyEndpoint_ReadyThenDrained(t *testing.T) {
	c := New()
	c.AddReadiness("db", time.Second, passing())
	c.SetReady(true)

	w := httptest.NewRecorder()
	c.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	c.SetReady(false)

	w2 := httptest.NewRecorder()
	c.ReadyEndpoint(w2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w2.Code)
}

func TestReadyEndpoint_OneProbeFailing(t *testing.T) {
	c := New()
	c.AddReadiness("db", time.Second, passing())
	c.AddReadiness("cache", time.Second, failing("cache down"))
	c.SetReady(true)

	ctx := context.Background()
	for range 3 {
		c.rdy[1].exec(ctx)
	}

	w := httptest.NewRecorder()
	c.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body.Checks, "cache")
	assert.NotContains(t, body.Checks, "db")
}

func TestIsReady(t *testing.T) {
	c := New()
	c.AddReadiness("db", time.Second, passing())

	assert.False(t, c.IsReady())
	c.SetReady(true)
	assert.True(t, c.IsReady())
	c.SetReady(false)
	assert.False(t, c.IsReady())
}

func TestProbeRecovery(t *testing.T) {
	down := true
	c := New()
	c.AddLiveness("flaky", time.Second, func(_ context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	p := c.live[0]
	ctx := context.Background()

	for range 3 {
		p.exec(ctx)
	}
	_, bad := p.failure()
	assert.True(t, bad)

	// One success recovers the probe (okAfter = 1).
	down = false
	p.exec(ctx)
	_, bad = p.failure()
	assert.False(t, bad)
}

func TestStopIdempotent(t *testing.T) {
	c := New()
	c.AddLiveness("x", time.Second, passing())

	c.Start(context.Background(), 50*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	c.Stop()
	c.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	c.AddLiveness("l", time.Second, failing("err"))
	c.AddReadiness("r", time.Second, passing())
	c.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IsReady()

				w := httptest.NewRecorder()
				c.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

				w = httptest.NewRecorder()
				c.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	c.Stop()
}

func TestGoroutineCount(t *testing.T) {
	assert.NoError(t, GoroutineCount(100000)(context.Background()))

	err := GoroutineCount(0)(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPause(t *testing.T) {
	assert.NoError(t, GCMaxPause(time.Hour)(context.Background()))
}
