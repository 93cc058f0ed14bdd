package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peacasso-client/internal/models"
)

// StatsStore is the read side of the result ledger
type StatsStore interface {
	GetStats(ctx context.Context) (*models.Stats, error)
	ListResults(ctx context.Context, limit int) ([]models.ResultRecord, error)
}

// Status is a point-in-time view of the running client
type Status struct {
	State         string `json:"state"`
	Reconnections int    `json:"reconnections"`
	MaxReconnect  int    `json:"max_reconnect"`
	Workers       int    `json:"workers"`
	DedupQueue    int    `json:"dedup_queue"`
	InputQueue    int    `json:"input_queue"`
	OutputQueue   int    `json:"output_queue"`
}

// Server holds the status HTTP handlers and dependencies
type Server struct {
	store  StatsStore // nil when the ledger is disabled
	status func() Status
	logger *slog.Logger
}

// NewServer creates a status server
func NewServer(store StatsStore, status func() Status, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, status: status, logger: logger.With("component", "api")}
}

// GetStatus returns session and queue state
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// GetStats returns ledger aggregates
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Result ledger disabled", http.StatusNotFound)
		return
	}
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListResults returns the most recent ledger rows
func (s *Server) ListResults(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Result ledger disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.store.ListResults(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list results", "error", err)
		http.Error(w, "Failed to fetch results", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// SetupRoutes sets up all HTTP routes
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", method(http.MethodGet, s.GetStatus))
	mux.HandleFunc("/api/stats", method(http.MethodGet, s.GetStats))
	mux.HandleFunc("/api/results", method(http.MethodGet, s.ListResults))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
