// Package api exposes market state over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"market-state-engine/internal/domain"
	"market-state-engine/internal/market"
	"market-state-engine/internal/observability"
)

// MarketService is the read surface the adapter serves.
type MarketService interface {
	ListMarketStates(ctx context.Context) ([]*domain.MarketState, error)
	GetMarketState(ctx context.Context, pairID string) (*domain.MarketState, error)
	GetOrderBook(ctx context.Context, pairID string) (domain.OrderBookSnapshot, bool)
}

var _ MarketService = (*market.Composer)(nil)

// Options configures a Server.
type Options struct {
	Addr            string
	StreamInterval  time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server is the HTTP adapter.
type Server struct {
	svc  MarketService
	opts Options
	log  *slog.Logger
	mux  *http.ServeMux

	// streams is cancelled on shutdown; hijacked WebSocket connections are
	// not closed by http.Server.Shutdown.
	streams     context.Context
	stopStreams context.CancelFunc
	active      sync.WaitGroup
}

// NewServer creates a server and registers its routes.
func NewServer(svc MarketService, opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{svc: svc, opts: opts, log: opts.Logger, mux: http.NewServeMux()}
	s.streams, s.stopStreams = context.WithCancel(context.Background())

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", observability.Handler())
	s.mux.HandleFunc("GET /v1/markets", s.handleListMarkets)
	s.mux.HandleFunc("GET /v1/markets/{pair}", s.handleMarket)
	s.mux.HandleFunc("GET /v1/markets/{pair}/orderbook", s.handleOrderBook)
	s.mux.HandleFunc("GET /v1/markets/{pair}/stream", s.handleStream)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. Open streams are closed and awaited within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(s.stopStreams)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	drained := make(chan struct{})
	go func() {
		s.active.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-shutdownCtx.Done():
		return shutdownCtx.Err()
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	states, err := s.svc.ListMarketStates(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	state, err := s.svc.GetMarketState(r.Context(), r.PathValue("pair"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.svc.GetOrderBook(r.Context(), r.PathValue("pair"))
	if !ok {
		s.writeError(w, domain.ErrUnsupportedPair)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnsupportedPair):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		s.log.Error("request failed", slog.String("error", err.Error()))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", slog.String("error", err.Error()))
	}
}
