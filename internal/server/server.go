// Package server provides the HTTP API over sessions, messages, profiles,
// and pipeline jobs.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake-go/internal/metrics"
	"github.com/raphaelgruber/intake-go/internal/models"
	"github.com/raphaelgruber/intake-go/internal/pipeline"
)

// Store is the persistence surface the API reads and writes.
type Store interface {
	CreateSession(ctx context.Context, businessName, businessDescription, firstBucket string) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)
	UpdateSessionBucket(ctx context.Context, id, bucketID string) error
	AppendMessage(ctx context.Context, sessionID, role, content string) (models.Message, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	GetProfile(ctx context.Context, sessionID string) ([]models.ProfileFieldRecord, error)
	ListAnalyses(ctx context.Context, sessionID string, limit int) ([]models.AnalysisRecord, error)
}

// Server wires HTTP handlers to the store and the analysis pipeline.
type Server struct {
	store    Store
	pipe     *pipeline.Pipeline
	logger   *slog.Logger
	window   int
	stats    *metrics.Collector
	upgrader websocket.Upgrader
}

// New creates a server. window caps how many trailing messages feed the
// pipeline on each append.
func New(store Store, pipe *pipeline.Pipeline, logger *slog.Logger, window int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  store,
		pipe:   pipe,
		logger: logger,
		window: window,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetStats attaches the runtime statistics collector served at /stats.
func (s *Server) SetStats(c *metrics.Collector) {
	s.stats = c
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleAppendMessage)
	mux.HandleFunc("POST /sessions/{id}/advance", s.handleAdvance)
	mux.HandleFunc("POST /sessions/{id}/skip", s.handleSkip)
	mux.HandleFunc("GET /sessions/{id}/profile", s.handleProfile)
	mux.HandleFunc("GET /sessions/{id}/jobs", s.handleSessionJobs)
	mux.HandleFunc("GET /sessions/{id}/analyses", s.handleAnalyses)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/watch", s.handleWatchJob)
	mux.HandleFunc("GET /buckets", s.handleBuckets)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	return LoggingMiddleware(s.logger)(mux)
}
