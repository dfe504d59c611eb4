// Package health exposes the liveness and readiness probes for the coaching
// server.
//
// /healthz answers 200 as long as the process can serve HTTP. /readyz runs
// the registered dependency checks — session storage and the coach generator
// in a standard deployment — and answers 503 until all of them pass, which
// keeps traffic away from an instance whose database is still warming up or
// whose generator circuit breaker is open.
//
// Both endpoints reply with a JSON object: a "status" field holding "ok" or
// "fail", and for /readyz a "checks" map with one entry per named check.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check. A hung database ping must not
// stall the probe past the orchestrator's own timeout.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Name keys the entry in the /readyz response
// ("storage", "generator"); Check returns nil when the dependency can take
// traffic and must honour context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// probeResponse is the JSON body for both endpoints. Checks is omitted on
// /healthz, which has nothing to report beyond being alive.
type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the /healthz and /readyz routes. The check set is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given checkers. /readyz evaluates them
// sequentially in the order given, so put the cheap checks first.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness. It never fails: if the process is broken enough
// that this handler cannot run, the connection error says so on its own.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResponse{Status: "ok"})
}

// Readyz runs every checker and reports 200 only when all of them pass. Each
// check gets its own [checkTimeout] deadline derived from the request
// context. All checks run even after the first failure, so the response names
// every dependency that is down, not just the first.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := probeResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			resp.Checks[c.Name] = "fail: " + err.Error()
			resp.Status = "fail"
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
