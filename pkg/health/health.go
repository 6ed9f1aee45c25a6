// Package health serves the /livez and /readyz endpoints of the API server.
//
// Checks run periodically in their own goroutines and the endpoints report
// the last known state, so a health request never touches Postgres or Redis.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// check is one registered health check. run is only called from the check's own
// goroutine, so fails and oks need no locking; healthy and lastErr are read
// by the endpoints.
type check struct {
	name         string
	timeout      time.Duration
	fn           CheckFunc
	failAfter    int
	recoverAfter int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once and flips its state after failAfter
// consecutive failures or recoverAfter consecutive successes.
func (c *check) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.fn(runCtx)
	cancel()
	c.lastErr.Store(&err)

	lg := zctx.From(ctx)
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failAfter && c.healthy.Swap(false) {
			lg.Warn("Health check failing", zap.String("check", c.name), zap.Error(err))
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= c.recoverAfter && !c.healthy.Swap(true) {
		lg.Info("Health check recovered", zap.String("check", c.name))
	}
}

// CheckOption tunes a registered check.
type CheckOption func(c *check)

// WithThresholds overrides the consecutive failure and success counts needed
// to flip a check. Defaults are 3 and 1.
func WithThresholds(failure, success int) CheckOption {
	return func(c *check) {
		if failure > 0 {
			c.failAfter = failure
		}
		if success > 0 {
			c.recoverAfter = success
		}
	}
}

func newCheck(name string, timeout time.Duration, fn CheckFunc, opts []CheckOption) *check {
	c := &check{
		name:         name,
		timeout:      timeout,
		fn:           fn,
		failAfter:    3,
		recoverAfter: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)
	return c
}

// Health holds the liveness and readiness checks of the service.
type Health struct {
	// marked is the manual readiness flag flipped on start-up and drain.
	marked atomic.Bool

	mu     sync.RWMutex
	live   []*check
	ready  []*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check whose failure means the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newCheck(name, timeout, fn, opts))
}

// AddReadinessCheck registers a check whose failure takes the instance out
// of rotation, such as Postgres or Redis connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, newCheck(name, timeout, fn, opts))
}

// Start runs every registered check now and then at each interval until Stop
// or ctx is done. Register checks before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.live, h.ready)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels the check goroutines. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the instance ready after start-up, or not ready while
// draining on shutdown.
func (h *Health) SetReady(ready bool) {
	h.marked.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.marked.Load() {
		return false
	}
	for _, c := range h.snapshot(false) {
		if !c.isHealthy() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(live bool) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if live {
		return slices.Clone(h.live)
	}
	return slices.Clone(h.ready)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, failures(h.snapshot(true)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(false))
	if !h.marked.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeResponse(w, failed)
}

// failures maps each unhealthy check to its last error.
func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.lastError(); err != nil {
			msg = err.Error()
		}
		out[c.name] = msg
	}
	return out
}

// writeResponse writes {"status":"ok"}, or 503 with
// {"status":"unhealthy","checks":{name: error}} sorted by name.
func writeResponse(w http.ResponseWriter, failed map[string]string) {
	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failed) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				names := make([]string, 0, len(failed))
				for name := range failed {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
