// Package server exposes the AdFlow backend over HTTP: workflow CRUD, the
// bulk graph-replace operations the save reconciler issues, run control
// (execute, step, cancel), and an SSE stream of change-notification events
// per execution.
package server

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/adflow-labs/adflow/command"
	"github.com/adflow-labs/adflow/notify"
	"github.com/adflow-labs/adflow/store"
)

// Config configures a Server.
type Config struct {
	// Store is the persistence layer. Required.
	Store *store.SQLiteStore

	// Runner executes run-control commands, usually the engine. Required.
	Runner command.Runner

	// Bus feeds the SSE stream with live events. Required.
	Bus notify.Bus

	// Events replays stored events on SSE reconnect. Optional: without it,
	// streams start from live events only.
	Events notify.EventStore

	// CORSOrigin defaults to "*".
	CORSOrigin string

	// MaxBody caps request body size (default: 1 MB).
	MaxBody int64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the AdFlow HTTP API server.
type Server struct {
	store      *store.SQLiteStore
	runner     command.Runner
	bus        notify.Bus
	events     notify.EventStore
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// New creates a Server with the given configuration.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Server{
		store:      cfg.Store,
		runner:     cfg.Runner,
		bus:        cfg.Bus,
		events:     cfg.Events,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)

	// Graph replace surface. The save reconciler issues these in order:
	// delete edges, delete nodes, insert nodes, insert edges, touch.
	mux.HandleFunc("GET /api/workflows/{id}/graph", s.handleGetGraph)
	mux.HandleFunc("DELETE /api/workflows/{id}/edges", s.handleDeleteEdges)
	mux.HandleFunc("DELETE /api/workflows/{id}/nodes", s.handleDeleteNodes)
	mux.HandleFunc("POST /api/workflows/{id}/nodes", s.handleInsertNodes)
	mux.HandleFunc("POST /api/workflows/{id}/edges", s.handleInsertEdges)
	mux.HandleFunc("POST /api/workflows/{id}/touch", s.handleTouchWorkflow)

	mux.HandleFunc("POST /api/workflows/{id}/execute", s.handleExecute)
	mux.HandleFunc("GET /api/workflows/{id}/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/executions/{id}/step", s.handleStep)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/executions/{id}/node-executions", s.handleNodeExecutions)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleExecutionEvents)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}
