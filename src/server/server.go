package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"relaydb/src/directors"
	"relaydb/src/engine"
	"relaydb/src/settings"
)

// Server is the HTTP front-end of the query engine. It speaks JSON: a query
// specification in, a result set out, with the QueryError/TransportError
// taxonomy preserved in the error envelope so remote callers can tell a bad
// spec from a retryable failure.
type Server struct {
	Host string
	Port int

	engine     *engine.QueryEngine
	store      *engine.CollectionStorageEngine
	journal    *engine.Journal
	httpServer *http.Server
	logger     *zap.SugaredLogger
	config     *settings.Arguments
}

// InitServer wires the storage engine, journal, query engine and service
// layer, and returns a server ready to Start.
func InitServer(config *settings.Arguments) (*Server, error) {
	var logger *zap.Logger
	var err error

	if config.Debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar := logger.Sugar()
	zap.ReplaceGlobals(logger)

	journal, err := engine.NewJournal(filepath.Join(config.JournalDir, "writes"), config.MaxJournalFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create write journal: %w", err)
	}

	store, err := engine.NewCollectionStore(config.DataDir, config.CollectionCacheSize, journal, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection store: %w", err)
	}

	for _, name := range directors.SocialCollections() {
		if store.HasCollection(name) {
			continue
		}
		if err := store.CreateCollection(name); err != nil {
			return nil, fmt.Errorf("failed to bootstrap collection '%s': %w", name, err)
		}
	}

	queryEngine, err := engine.NewQueryEngine(store, config.JoinWorkers, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create query engine: %w", err)
	}

	socialService := directors.NewSocialService(queryEngine, config, sugar)
	directors.InitServiceManager(socialService, sugar)

	server := &Server{
		Host:    config.Host,
		Port:    config.Port,
		engine:  queryEngine,
		store:   store,
		journal: journal,
		logger:  sugar,
		config:  config,
	}

	return server, nil
}

// Handler builds the route table. Exposed separately so tests can mount it
// on an httptest server.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.logRequests)

	router.Get("/healthz", s.handleHealth)
	router.Get("/collections", s.handleListCollections)
	router.Post("/collections/{name}/documents", s.handleStore)
	router.Post("/query", s.handleQuery)

	s.socialRoutes(router)

	return router
}

// Start begins serving. It returns once the listener is up; serving
// continues on a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("RelayDB server listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("HTTP server stopped", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully and releases the engine and
// journal.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	}

	s.engine.Close()

	if err := s.journal.Close(); err != nil {
		return fmt.Errorf("error closing journal: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.CollectionNames()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"collections": names})
}

// handleQuery executes a query specification with the per-request timeout.
// A deadline fails the whole request; no partial join results go out.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var spec engine.QuerySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, engine.NewQueryError(engine.ErrMalformedSpec, "invalid query body: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	result, err := s.engine.Execute(ctx, spec)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")

	var record engine.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.writeError(w, engine.NewQueryError(engine.ErrMalformedSpec, "invalid document body: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	stored, err := s.engine.Store(ctx, collection, record)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// writeError maps the error taxonomy onto status codes: a bad spec is the
// caller's fault, everything else is the server's.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if _, ok := engine.AsQueryError(err); ok {
		status = http.StatusBadRequest
	} else if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	s.logger.Errorw("Request failed", "status", status, "error", err)
	writeJSON(w, status, engine.EnvelopeFor(err))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// logRequests is a small zap access-log middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.config.Verbose {
			s.logger.Infow("Handled request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start))
		}
	})
}
