// Package health implements Kubernetes-style liveness and readiness probes.
//
// Registered probes run on background goroutines at a fixed interval and use
// consecutive failure/success thresholds so a single slow check does not flap
// the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports nil when the probed component is healthy.
type CheckFunc func(ctx context.Context) error

// probe holds one check with its flap-damping state. The counters are only
// touched from the single loop goroutine; healthy and lastErr are read from
// HTTP handlers and therefore atomic.
type probe struct {
	name      string
	timeout   time.Duration
	check     CheckFunc
	failAfter int
	okAfter   int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (p *probe) exec(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(checkCtx)
	p.lastErr.Store(&err)

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.failAfter {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= p.okAfter {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if errp := p.lastErr.Load(); errp != nil && *errp != nil {
		return (*errp).Error(), true
	}
	return "check is unhealthy", true
}

// Checker manages the liveness and readiness probes of a service.
type Checker struct {
	ready atomic.Bool

	mu     sync.RWMutex
	live   []*probe
	rdy    []*probe
	cancel context.CancelFunc
}

// New creates a Checker. The service starts not ready; call SetReady(true)
// once initialization completes.
func New() *Checker {
	return &Checker{}
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	p := &probe{
		name:      name,
		timeout:   timeout,
		check:     check,
		failAfter: 3,
		okAfter:   1,
	}
	p.healthy.Store(true)
	return p
}

// AddLiveness registers a liveness probe, answering "is the process stuck".
func (c *Checker) AddLiveness(name string, timeout time.Duration, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = append(c.live, newProbe(name, timeout, check))
}

// AddReadiness registers a readiness probe, answering "can the service take
// traffic right now". Database connectivity belongs here.
func (c *Checker) AddReadiness(name string, timeout time.Duration, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rdy = append(c.rdy, newProbe(name, timeout, check))
}

// Start launches one goroutine per registered probe, each executing at the
// given interval until the context is cancelled or Stop is called.
func (c *Checker) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	probes := make([]*probe, 0, len(c.live)+len(c.rdy))
	probes = append(probes, c.live...)
	probes = append(probes, c.rdy...)
	c.mu.Unlock()

	for _, p := range probes {
		go loop(ctx, p, interval)
	}
}

func loop(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.exec(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.exec(ctx)
		}
	}
}

// Stop cancels the probe goroutines. Safe to call more than once.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Set it to false during graceful
// shutdown so load balancers drain the instance.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// passes.
func (c *Checker) IsReady() bool {
	if !c.ready.Load() {
		return false
	}

	c.mu.RLock()
	probes := c.rdy
	c.mu.RUnlock()

	for _, p := range probes {
		if _, failed := p.failure(); failed {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when all liveness probes pass, 503 with
// per-check details otherwise.
func (c *Checker) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	probes := make([]*probe, len(c.live))
	copy(probes, c.live)
	c.mu.RUnlock()

	writeStatus(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the service has been marked
// ready and all readiness probes pass.
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	ready := c.ready.Load()

	c.mu.RLock()
	probes := make([]*probe, len(c.rdy))
	copy(probes, c.rdy)
	c.mu.RUnlock()

	failed := failures(probes)
	if !ready {
		failed["_readiness"] = "service is not ready"
	}
	writeStatus(w, failed)
}

func failures(probes []*probe) map[string]string {
	failed := make(map[string]string)
	for _, p := range probes {
		if msg, bad := p.failure(); bad {
			failed[p.name] = msg
		}
	}
	return failed
}

func writeStatus(w http.ResponseWriter, failed map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failed
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
