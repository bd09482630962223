// Package health provides the HTTP operational surface:
//
//   - /healthz is the liveness probe; it always returns 200 OK.
//   - /readyz is the readiness probe; 200 only when every registered [Checker]
//     passes (store reachable, at least one LLM provider closed, pools sane).
//   - /statusz returns an orchestrator status snapshot: pool stats, provider
//     breaker states and active sessions.
//
// Responses are JSON. Readiness checks run concurrently, each bounded by its
// own timeout, so one slow dependency cannot starve the probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and must respect context cancellation.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "store", "llm").
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// StatusFunc returns the orchestrator status document served on /statusz.
type StatusFunc func() any

// checkResult is one entry in the readiness response.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// readiness is the /readyz response body.
type readiness struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the operational endpoints. Safe for concurrent use; the
// checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	status   StatusFunc
}

// New creates a Handler. status may be nil, in which case /statusz returns
// an empty object.
func New(status StatusFunc, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, status: status}
}

// Healthz always returns 200. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz runs all checkers concurrently and returns 200 only when every one
// passes. Each check gets its own [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	checks := make(map[string]checkResult, len(h.checkers))
	allOK := true

	g, ctx := errgroup.WithContext(r.Context())
	for _, c := range h.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			res := checkResult{Status: "ok", Latency: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}

			mu.Lock()
			checks[c.Name] = res
			if err != nil {
				allOK = false
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	res := readiness{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Statusz serves the orchestrator status snapshot.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Register adds the operational routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
