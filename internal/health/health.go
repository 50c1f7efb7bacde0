// Package health serves the liveness and readiness probes for the analysis
// service.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// walks the registered subsystem checks and answers 503 with per-check
// detail as soon as any fails, so a load balancer stops routing
// conversations to a replica that cannot analyze them. Both bodies are JSON:
// a "status" of "ok" or "fail" plus a "checks" map naming each probe result.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout caps how long one subsystem check may block a readiness probe.
const probeTimeout = 5 * time.Second

// Checker names one subsystem probe. Check returns nil while the subsystem
// can do useful work, and an error describing what is wrong otherwise. It
// must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler answers the two probe endpoints for a fixed set of checkers. Safe
// for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given subsystem checks. Checks run
// sequentially in registration order on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. Serving the request at all is the proof, so the
// answer is unconditionally 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, probeReport{Status: "ok"})
}

// Readyz reports readiness: 200 when every subsystem check passes, 503
// naming the failing checks otherwise. Each check gets its own
// [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	report := probeReport{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			report.Checks[c.Name] = "fail: " + err.Error()
			report.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		report.Checks[c.Name] = "ok"
	}

	respond(w, code, report)
}

// probeReport is the JSON body of both probes.
type probeReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func respond(w http.ResponseWriter, code int, report probeReport) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
