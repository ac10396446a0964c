package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	srv       *http.Server
	running   int32
	sourceOk  int32
	linkState atomic.Value
}

// New serves /health and, when gatherer is non-nil, /metrics on addr.
func New(addr string, gatherer prometheus.Gatherer) *Server {
	s := &Server{}
	s.linkState.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) SetRunning(ok bool) {
	if ok {
		atomic.StoreInt32(&s.running, 1)
	} else {
		atomic.StoreInt32(&s.running, 0)
	}
}

func (s *Server) SetSourceHealthy(ok bool) {
	if ok {
		atomic.StoreInt32(&s.sourceOk, 1)
	} else {
		atomic.StoreInt32(&s.sourceOk, 0)
	}
}

func (s *Server) SetLinkState(state string) {
	s.linkState.Store(state)
}

// Serve blocks until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"running":    atomic.LoadInt32(&s.running) == 1,
		"source_ok":  atomic.LoadInt32(&s.sourceOk) == 1,
		"link_state": s.linkState.Load().(string),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
