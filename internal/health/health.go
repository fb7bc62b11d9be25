// Package health serves the Kubernetes probes of the service.
//
//   - /healthz: liveness, 200 whenever the process can serve HTTP.
//   - /readyz: readiness, 200 only when every [Checker] passes. The
//     generation backends must be initialised and the optional stores
//     (Redis cache, Postgres history) must answer a ping.
//
// Bodies are JSON: {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/loreforge/internal/lifecycle"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Lifecycle is the part of the lifecycle manager readiness depends on.
type Lifecycle interface {
	State() lifecycle.State
	Err() error
}

// LifecycleReady passes once the generation backends are initialised.
func LifecycleReady(lc Lifecycle) Checker {
	return Checker{Name: "generation", Check: func(context.Context) error {
		switch s := lc.State(); s {
		case lifecycle.StateReady:
			return nil
		case lifecycle.StateFailed:
			if err := lc.Err(); err != nil {
				return fmt.Errorf("initialisation failed: %w", err)
			}
			return errors.New("initialisation failed")
		default:
			return fmt.Errorf("backends %s", s)
		}
	}}
}

// Pinger is implemented by the Redis cache and the Postgres pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a store by pinging it.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating checkers in order on each /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always returns 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register mounts the probes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
