// Package health serves the liveness and readiness checks.
//
//   - /healthz always returns 200 while the process can serve HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes.
//
// Both answer with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const checkTimeout = 5 * time.Second

// ErrNotConnected is returned by ConnectionCheck when the link is down.
var ErrNotConnected = errors.New("not connected")

// Checker is a named readiness check. Check must respect ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating checkers sequentially, in order.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)

	return &Handler{checkers: c}
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a bounded deadline.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK

	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds both routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ConnectionCheck adapts a connected-state getter (NATS, MQTT) into a Checker.
func ConnectionCheck(name string, connected func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			if !connected() {
				return ErrNotConnected
			}

			return nil
		},
	}
}

// WritableDirCheck verifies dir accepts new files.
func WritableDirCheck(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			f, err := os.CreateTemp(dir, ".writable-*")
			if err != nil {
				return fmt.Errorf("dir %s not writable: %w", dir, err)
			}

			path := f.Name()
			_ = f.Close()

			return os.Remove(filepath.Clean(path))
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
