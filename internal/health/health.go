// Package health serves liveness and readiness probes for the companion
// service.
//
//   - GET /healthz answers 200 whenever the process can serve HTTP.
//   - GET /readyz answers 200 only while every registered check passes,
//     503 otherwise.
//
// Both endpoints return a JSON body with a "status" field and, for
// readiness, a per-check "checks" map. Checks run concurrently, each
// bounded by a 5 second timeout, so one stalled dependency cannot hide
// the state of the others.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const checkTimeout = 5 * time.Second

// CheckFunc probes one dependency. It returns nil while the dependency is
// usable and must respect context cancellation.
type CheckFunc func(ctx context.Context) error

type check struct {
	name string
	fn   CheckFunc
}

// Handler evaluates registered checks on each readiness request. Register
// checks before wiring the handler into a mux; the handler itself is safe
// for concurrent requests.
type Handler struct {
	checks []check
}

// NewHandler creates a [Handler] with no checks registered.
func NewHandler() *Handler {
	return &Handler{}
}

// AddCheck registers a named readiness check. The name becomes a key in
// the /readyz response body.
func (h *Handler) AddCheck(name string, fn CheckFunc) {
	h.checks = append(h.checks, check{name: name, fn: fn})
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe. It always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz runs every registered check concurrently and answers 200 only
// when all of them pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
		healthy = true
	)
	for _, c := range h.checks {
		wg.Add(1)
		go func(c check) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.fn(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[c.name] = "fail: " + err.Error()
				healthy = false
			} else {
				results[c.name] = "ok"
			}
		}(c)
	}
	wg.Wait()

	res := probeResult{Status: "ok", Checks: results}
	status := http.StatusOK
	if !healthy {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
