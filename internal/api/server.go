// Package api exposes the operational HTTP surface: health and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/esnpulse/pulse-crawler/internal/scrape"
)

// OutboundProbe reports whether the activities platform is reachable.
type OutboundProbe func(ctx context.Context) error

// NewOutboundProbe issues a HEAD request against the platform root. Any
// response, even an error status, proves outbound reachability.
func NewOutboundProbe(client *http.Client, baseURL string) OutboundProbe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

// Server serves /healthz and /metrics.
type Server struct {
	store    scrape.Pinger
	outbound OutboundProbe
	logger   *zap.Logger
	router   chi.Router
}

func NewServer(store scrape.Pinger, outbound OutboundProbe, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, outbound: outbound, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

type healthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Outbound string `json:"outbound"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok", Outbound: "ok"}

	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		s.logger.Warn("health: store unreachable", zap.Error(err))
	}
	if s.outbound != nil {
		if err := s.outbound(ctx); err != nil {
			resp.Status = "degraded"
			resp.Outbound = err.Error()
			s.logger.Warn("health: platform unreachable", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
