package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const defaultListLimit = 100

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.stats.Running() {
		status = "stopped"
	}
	s.writeJSON(w, map[string]string{"status": status})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.stats.Snapshot())
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.stats.SymbolViews())
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}
	fills, err := s.tradeRepo.ListFills(r.Context(), r.URL.Query().Get("symbol"), listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list fills", zap.Error(err))
		http.Error(w, "Failed to list fills", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, fills)
}

func (s *Server) handleEMATrades(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}
	trades, err := s.tradeRepo.ListEMATrades(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list EMA trades", zap.Error(err))
		http.Error(w, "Failed to list EMA trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}
