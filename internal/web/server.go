package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

// StatsProvider is the read side of the grid engine.
type StatsProvider interface {
	Snapshot() domain.PerformanceSnapshot
	SymbolViews() []domain.SymbolView
	Running() bool
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	stats     StatsProvider
	tradeRepo domain.TradeRepository
	metrics   http.Handler
	logger    *zap.Logger
}

// NewServer builds the status server. tradeRepo and metrics may be nil.
func NewServer(
	port int,
	stats StatsProvider,
	tradeRepo domain.TradeRepository,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		stats:     stats,
		tradeRepo: tradeRepo,
		metrics:   metrics,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)

	// Engine state
	s.router.HandleFunc("GET /api/stats", s.handleStats)
	s.router.HandleFunc("GET /api/symbols", s.handleSymbols)

	// Journal
	s.router.HandleFunc("GET /api/fills", s.handleFills)
	s.router.HandleFunc("GET /api/ema-trades", s.handleEMATrades)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
