package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client to Pinger. A nil client yields a nil
// Pinger, which NewHealthChecker skips.
func RedisPinger(client *redis.Client) Pinger {
	if client == nil {
		return nil
	}
	return PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
}

// Dependency is one probed backend. A failing critical dependency makes the
// instance unready; a failing optional one only marks it degraded.
type Dependency struct {
	Name     string
	Critical bool
	Pinger   Pinger
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// HealthStatus is the body of /health and /ready
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

type DependencyStatus struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthChecker serves liveness and readiness
type HealthChecker struct {
	version string
	deps    []Dependency
}

// NewHealthChecker probes deps on every readiness request. Dependencies with
// a nil Pinger are skipped.
func NewHealthChecker(version string, deps ...Dependency) *HealthChecker {
	h := &HealthChecker{version: version}
	for _, d := range deps {
		if d.Pinger != nil {
			h.deps = append(h.deps, d)
		}
	}
	return h
}

// Liveness returns 200 while the process is running
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// Readiness returns 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Check probes every dependency concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range h.deps {
		g.Go(func() error {
			start := time.Now()
			err := d.Pinger.Ping(ctx)
			ds := DependencyStatus{
				Status:    StatusHealthy,
				Critical:  d.Critical,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				ds.Status = StatusUnhealthy
				ds.Message = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			status.Dependencies[d.Name] = ds
			switch {
			case err == nil:
			case d.Critical:
				status.Status = StatusUnhealthy
			case status.Status == StatusHealthy:
				status.Status = StatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()
	return status
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
