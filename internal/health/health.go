// Package health provides HTTP liveness and readiness endpoints.
//
// Docker and Kubernetes use these endpoints to monitor the relay.
// /healthz answers 200 as long as the process serves HTTP. /readyz answers
// 200 once the transports are started and every registered dependency check
// (history store, archive bucket) passes.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

// checkTimeout bounds each dependency check.
const checkTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Server is a lightweight HTTP server that exposes /healthz and /readyz.
type Server struct {
	port   int
	ready  atomic.Bool
	server *http.Server

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// New creates a new health check server.
func New(port int) *Server {
	return &Server{port: port, checks: make(map[string]CheckFunc)}
}

// SetReady marks the relay as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// AddCheck registers a dependency check run on every /readyz request.
func (s *Server) AddCheck(name string, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = fn
}

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler returns the HTTP handler serving both endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, statusBody{Status: "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeStatus(w, http.StatusServiceUnavailable, statusBody{Status: "not_ready"})
			return
		}

		results, healthy := s.runChecks(r.Context())
		if !healthy {
			writeStatus(w, http.StatusServiceUnavailable, statusBody{Status: "degraded", Checks: results})
			return
		}
		writeStatus(w, http.StatusOK, statusBody{Status: "ok", Checks: results})
	})

	return mux
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// runChecks runs every registered check concurrently.
func (s *Server) runChecks(ctx context.Context) (map[string]string, bool) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]CheckFunc, len(names))
	for i, name := range names {
		fns[i] = s.checks[name]
	}
	s.mu.RUnlock()

	if len(names) == 0 {
		return nil, true
	}

	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = fn(cctx)
		}()
	}
	wg.Wait()

	results := make(map[string]string, len(names))
	healthy := true
	for i, name := range names {
		if errs[i] != nil {
			healthy = false
			results[name] = errs[i].Error()
			slog.Warn("readiness check failed", "check", name, "error", errs[i])
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

func writeStatus(w http.ResponseWriter, code int, body statusBody) {
	data, _ := sonic.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
