// Package adminhttp is the process's liveness/metrics port: a thin
// httprouter mux exposing /healthz and /metrics, grounded on
// Seednode-partybox's httprouter-based web server. The HTTP admin
// surface named in spec.md's Non-goals (user management, moderation
// actions, score browsing) is NOT here — this is only the narrow
// operational sliver every deployed replica needs to be load-balanced
// and scraped.
package adminhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"banchod/internal/logging"
	"banchod/internal/metrics"
)

type Server struct {
	httpSrv *http.Server
	log     logging.Logger
}

// New builds the admin mux bound to addr, wiring /healthz (plain liveness
// check) and /metrics (the Registry's promhttp handler) behind
// julienschmidt/httprouter the way the teacher pack's HTTP server does.
func New(addr string, reg *metrics.Registry, log logging.Logger) *Server {
	mux := httprouter.New()
	mux.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if reg != nil {
		mux.Handler(http.MethodGet, "/metrics", reg.Handler())
	}

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start runs the admin HTTP listener until Stop is called; intended to
// be launched in its own goroutine alongside the dispatcher and workers.
func (s *Server) Start() error {
	if s.log != nil {
		s.log.Infow("admin http listening", "addr", s.httpSrv.Addr)
	}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
