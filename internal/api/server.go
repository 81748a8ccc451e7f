// Package api exposes the tabular store, canvases, canvas execution and
// materialized views over a JSON REST interface.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/rpattn/canvasdb/internal/export"
	"github.com/rpattn/canvasdb/internal/ingestion"
	"github.com/rpattn/canvasdb/internal/middleware"
	"github.com/rpattn/canvasdb/internal/pipeline"
	"github.com/rpattn/canvasdb/internal/repository"
)

const maxBodyBytes = 4 << 20

type Server struct {
	store    repository.Store
	executor *pipeline.Executor
	exporter *export.Service
	importer *ingestion.Service
	metrics  http.Handler
	logger   zerolog.Logger
	validate *validator.Validate
	router   *mux.Router
}

type Option func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithExporter replaces the default view exporter.
func WithExporter(exporter *export.Service) Option {
	return func(s *Server) {
		if exporter != nil {
			s.exporter = exporter
		}
	}
}

func NewServer(store repository.Store, executor *pipeline.Executor, opts ...Option) *Server {
	s := &Server{
		store:    store,
		executor: executor,
		logger:   zerolog.Nop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exporter == nil {
		s.exporter = export.NewService(store.Views)
	}
	s.importer = ingestion.NewService(store.Tables, s.logger.With().Str("component", "ingestion").Logger())
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return middleware.RequestLogger(s.logger)(middleware.Recoverer(s.router))
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/tables", s.handleListTables).Methods(http.MethodGet)
	api.HandleFunc("/tables", s.handleCreateTable).Methods(http.MethodPost)
	api.HandleFunc("/tables/{name}", s.handleGetTable).Methods(http.MethodGet)
	api.HandleFunc("/tables/{name}", s.handleDeleteTable).Methods(http.MethodDelete)
	api.HandleFunc("/tables/{name}/fields", s.handleAddField).Methods(http.MethodPost)
	api.HandleFunc("/tables/{name}/fields/{field}", s.handleUpdateField).Methods(http.MethodPatch)
	api.HandleFunc("/tables/{name}/fields/{field}", s.handleDeleteField).Methods(http.MethodDelete)
	api.HandleFunc("/t/{name}", s.handleListRecords).Methods(http.MethodGet)
	api.HandleFunc("/t/{name}", s.handleInsertRecord).Methods(http.MethodPost)
	api.Handle("/t/{name}/import", ingestion.NewHTTPHandler(s.importer, ingestion.WithErrorWriter(writeError))).Methods(http.MethodPost)
	api.HandleFunc("/t/{name}/{record_id:[0-9]+}", s.handleUpdateRecord).Methods(http.MethodPatch)
	api.HandleFunc("/t/{name}/{record_id:[0-9]+}", s.handleDeleteRecord).Methods(http.MethodDelete)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	// execute is registered before the {id} routes so it is never taken for an id.
	api.HandleFunc("/canvases/execute", s.handleExecute).Methods(http.MethodPost)
	api.HandleFunc("/canvases", s.handleListCanvases).Methods(http.MethodGet)
	api.HandleFunc("/canvases", s.handleCreateCanvas).Methods(http.MethodPost)
	api.HandleFunc("/canvases/{id}", s.handleGetCanvas).Methods(http.MethodGet)
	api.HandleFunc("/canvases/{id}", s.handleUpdateCanvas).Methods(http.MethodPatch)
	api.HandleFunc("/canvases/{id}", s.handleDeleteCanvas).Methods(http.MethodDelete)
	api.HandleFunc("/canvases/{id}/dry-run", s.handleDryRun).Methods(http.MethodPost)

	api.HandleFunc("/views", s.handleListViews).Methods(http.MethodGet)
	api.HandleFunc("/view/{id}", s.handleGetView).Methods(http.MethodGet)
	api.Handle("/view/{id}/export", export.NewHTTPHandler(s.exporter, export.WithErrorWriter(writeError))).Methods(http.MethodGet, http.MethodHead)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into dst and runs its validate tags. Unknown keys
// are ignored since the graph editor sends extra layout fields on edges.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("request body is empty")
		}
		return invalid("decode request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid("invalid identifier %q", raw)
	}
	return id, nil
}
