// Package health reports whether the service's dependencies are reachable.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

const checkTimeout = 3 * time.Second

// Checker verifies that an infrastructure dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function such as a Ping method to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// Check is one named dependency. A failing optional dependency degrades
// the service without taking it out of rotation.
type Check struct {
	Name     string
	Checker  Checker
	Optional bool
}

// Overall statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

type Result struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

type Response struct {
	Status string            `json:"status"`
	Checks map[string]Result `json:"checks"`
}

type Handler struct {
	checks []Check
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger, checks ...Check) *Handler {
	return &Handler{checks: checks, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.check)
	return r
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := h.Run(ctx)
	status := http.StatusOK
	if resp.Status == StatusDown {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Run performs every check concurrently.
func (h *Handler) Run(ctx context.Context) Response {
	resp := Response{Status: StatusOK, Checks: make(map[string]Result, len(h.checks))}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Checker.Check(ctx)
			res := Result{Status: StatusOK, LatencyMs: time.Since(start).Milliseconds()}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Error("health check failed", "name", c.Name, "optional", c.Optional, "error", err)
				res.Status = "error"
				switch {
				case !c.Optional:
					resp.Status = StatusDown
				case resp.Status == StatusOK:
					resp.Status = StatusDegraded
				}
			}
			resp.Checks[c.Name] = res
		}()
	}
	wg.Wait()

	return resp
}
