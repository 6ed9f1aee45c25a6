package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// toggle fails while *down is true.
func toggle(down *bool) CheckFunc {
	return func(context.Context) error {
		if *down {
			return errors.New("down")
		}
		return nil
	}
}

type statusResponse struct {
	Status string
	Checks map[string]string
}

func callEndpoint(t *testing.T, endpoint http.HandlerFunc) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			resp.Status = v
			return err
		case "checks":
			resp.Checks = make(map[string]string)
			return d.Obj(func(d *jx.Decoder, name string) error {
				v, err := d.Str()
				resp.Checks[name] = v
				return err
			})
		default:
			return d.Skip()
		}
	}))
	return w.Code, resp
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		runs       int
		wantStatus int
		wantChecks map[string]string
	}{
		{name: "NoChecks", wantStatus: http.StatusOK},
		{
			name:       "AllPassing",
			checks:     map[string]CheckFunc{"goroutines": passing, "gc": passing},
			runs:       3,
			wantStatus: http.StatusOK,
		},
		{
			name:       "BelowThreshold",
			checks:     map[string]CheckFunc{"goroutines": failing("too many")},
			runs:       2,
			wantStatus: http.StatusOK,
		},
		{
			name:       "Failing",
			checks:     map[string]CheckFunc{"goroutines": failing("too many")},
			runs:       3,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"goroutines": "too many"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for name, fn := range tt.checks {
				h.AddLivenessCheck(name, time.Second, fn)
			}
			for _, c := range h.live {
				runN(c, tt.runs)
			}

			code, body := callEndpoint(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantStatus, code)
			if tt.wantChecks == nil {
				assert.Equal(t, "ok", body.Status)
				return
			}
			assert.Equal(t, "unhealthy", body.Status)
			assert.Equal(t, tt.wantChecks, body.Checks)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("NotMarked", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)

		code, body := callEndpoint(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "_readiness")
	})

	t.Run("DrainAfterReady", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)
		h.SetReady(true)

		code, body := callEndpoint(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)

		h.SetReady(false)
		code, _ = callEndpoint(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("RedisDown", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)
		h.AddReadinessCheck("redis", time.Second, failing("connection refused"))
		h.SetReady(true)
		runN(h.ready[1], 3)

		code, body := callEndpoint(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Checks)
		assert.False(t, h.IsReady())
	})
}

func TestIsReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing)
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheck_Recovery(t *testing.T) {
	down := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, toggle(&down))
	c := h.live[0]

	assert.Nil(t, c.lastError())
	runN(c, 3)
	assert.False(t, c.isHealthy())
	assert.EqualError(t, c.lastError(), "down")

	down = false
	runN(c, 1)
	assert.True(t, c.isHealthy())
	assert.NoError(t, c.lastError())
}

func TestCheck_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	down := true
	c := newCheck("postgres", time.Second, toggle(&down), []CheckOption{WithThresholds(2, 1)})
	for range 4 {
		c.run(ctx)
	}
	down = false
	c.run(ctx)
	c.run(ctx)

	entries := logs.All()
	require.Len(t, entries, 2, "one line per transition")
	assert.Equal(t, "Health check failing", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "Health check recovered", entries[1].Message)
	assert.Equal(t, "postgres", entries[1].ContextMap()["check"])
}

func TestWithThresholds(t *testing.T) {
	down := true
	h := New()
	h.AddReadinessCheck("postgres", time.Second, toggle(&down), WithThresholds(1, 2))
	h.SetReady(true)
	c := h.ready[0]

	runN(c, 1)
	assert.False(t, h.IsReady(), "one failure is enough")

	down = false
	runN(c, 1)
	assert.False(t, h.IsReady(), "one success is not enough")
	runN(c, 1)
	assert.True(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, failing("err"))
	h.AddReadinessCheck("postgres", time.Second, passing)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		code, _ := callEndpoint(t, h.LiveEndpoint)
		return code == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pingerFunc(passing))(context.Background()))

	err := PingCheck(pingerFunc(failing("conn refused")))(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn refused")
}
