// Package healthsrv exposes the gateway's operational HTTP surface:
// liveness/readiness probes and the Prometheus scrape endpoint, bound
// together on one listener so operators only open one port.
package healthsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the outcome of a single Check.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// CheckFunc reports a component's current health. It must return quickly;
// it's invoked inline for every /health request.
type CheckFunc func() (Status, string)

// Check is a named health probe.
type Check struct {
	Name string
	Func CheckFunc
}

// Server serves /health, /ready, /live, and /metrics.
type Server struct {
	version string
	mu      sync.RWMutex
	checks  []Check

	httpSrv *http.Server
}

// NewServer builds a Server listening on addr (e.g. ":9090").
func NewServer(addr, version string) *Server {
	s := &Server{version: version}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// RegisterCheck adds a named health check, consulted by /health and /ready.
func (s *Server) RegisterCheck(name string, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, Check{Name: name, Func: fn})
}

// Start runs the HTTP listener in the background. ListenAndServe errors
// other than http.ErrServerClosed are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		close(errCh)
	}()
	return errCh
}

// Stop shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type checkResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status    Status        `json:"status"`
	Version   string        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []checkResult `json:"checks,omitempty"`
}

func (s *Server) runChecks() (Status, []checkResult) {
	s.mu.RLock()
	checks := make([]Check, len(s.checks))
	copy(checks, s.checks)
	s.mu.RUnlock()

	overall := StatusUp
	results := make([]checkResult, 0, len(checks))
	for _, c := range checks {
		st, detail := c.Func()
		if st != StatusUp {
			overall = StatusDown
		}
		results = append(results, checkResult{Name: c.Name, Status: st, Detail: detail})
	}
	return overall, results
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall, results := s.runChecks()
	resp := healthResponse{Status: overall, Version: s.version, Timestamp: time.Now(), Checks: results}

	w.Header().Set("Content-Type", "application/json")
	if overall != StatusUp {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	overall, _ := s.runChecks()
	if overall != StatusUp {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("live"))
}
