package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes collected metrics over a local HTTP endpoint: /healthz,
// /stats (summary snapshot as JSON) and /metrics (Prometheus exposition).
type Server struct {
	logger     *zap.SugaredLogger
	listenAddr string
	summary    *Summary
	prom       *Prom

	listener   net.Listener
	httpServer *http.Server
}

type ServerOption func(s *Server)

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l.Named("stats_server").Sugar()
	}
}

func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// NewServer builds a stats server. A nil summary or prom collector just
// leaves the corresponding route unregistered.
func NewServer(summary *Summary, prom *Prom, opts ...ServerOption) *Server {
	s := &Server{
		logger:     zap.NewNop().Sugar(),
		listenAddr: "127.0.0.1:0",
		summary:    summary,
		prom:       prom,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds the listen address and serves in the background until Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.listener = listener

	router := httprouter.New()
	router.GET("/healthz", s.healthz)
	if s.summary != nil {
		router.GET("/stats", s.stats)
	}
	if s.prom != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.prom.Registry(), promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{Handler: router}
	go func() {
		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Debugf("stats server stopped: %s", err)
		}
	}()

	s.logger.Debugw("stats server listening", "addr", s.Addr())
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listenAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	w.Header().Add("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	b, err := json.Marshal(s.summary.Snapshot())
	if err != nil {
		s.logger.Debugf("error marshaling stats response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
