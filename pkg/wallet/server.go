package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

/*
Read-only HTTP surface of the wallet:

  GET /proposals[?status=open&status=submitted]  proposal views
  GET /proposals/{id}                            one proposal view
  GET /device                                    device session status
  GET /health                                    store health check
  GET /metrics                                   prometheus metrics

Commands are not exposed; they go through the CLI.
*/

// Server serves the observable wallet state over HTTP
type Server struct {
	wallet     *Wallet
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates a server on addr. gatherer may be nil to leave out /metrics.
func NewServer(wallet *Wallet, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		wallet: wallet,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/proposals", s.handleListProposals)
	mux.HandleFunc("/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("/device", s.handleDevice)
	mux.HandleFunc("/health", s.handleHealth)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var statuses []proposal.Status
	for _, raw := range r.URL.Query()["status"] {
		status, err := proposal.ParseStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		statuses = append(statuses, status)
	}
	views, err := s.wallet.List(statuses...)
	if err != nil {
		s.logger.Sugar().Errorw("Failed to list proposals", "error", err)
		http.Error(w, "Failed to list proposals", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	view, err := s.wallet.View(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			http.Error(w, "Proposal not found", http.StatusNotFound)
			return
		}
		s.logger.Sugar().Errorw("Failed to load proposal", "id", r.PathValue("id"), "error", err)
		http.Error(w, "Failed to load proposal", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, view)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.wallet.DeviceStatus())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.wallet.store.HealthCheck(); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Sugar().Warnw("Failed to write response", "error", err)
	}
}
