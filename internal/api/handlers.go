// Package api serves stored identity snapshots over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinssen/bmtk/internal/identity"
	"github.com/clinssen/bmtk/internal/ratelimit"
	"github.com/clinssen/bmtk/internal/store"
)

// Server holds the HTTP server dependencies.
type Server struct {
	store   store.Store
	logger  *slog.Logger
	limiter *ratelimit.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter limits /api requests per client address.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// New creates a new API server. A nil logger discards request logs.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{store: st, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(ratelimit.PeerAddr)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/runs", s.ListRuns)
		r.Get("/runs/{run}", s.GetRun)
		r.Get("/runs/{run}/populations", s.ListPopulations)
		r.Get("/runs/{run}/populations/{population}/handles", s.ResolveHandles)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListRuns handles GET /api/runs
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{run}. The run "latest" names the newest run.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.lookup(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// PopulationResponse is one entry of ListPopulations.
type PopulationResponse struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Nodes     int    `json:"nodes"`
}

// ListPopulations handles GET /api/runs/{run}/populations
// Supports ?namespace=real|virtual; both namespaces are listed when absent.
func (s *Server) ListPopulations(w http.ResponseWriter, r *http.Request) {
	run, err := s.lookup(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var only store.Namespace
	if v := r.URL.Query().Get("namespace"); v != "" {
		if only, err = store.ParseNamespace(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	out := []PopulationResponse{}
	for _, m := range run.Mappings {
		if only != "" && m.Namespace != only {
			continue
		}
		out = append(out, PopulationResponse{Name: m.Population, Namespace: string(m.Namespace), Nodes: len(m.NodeIDs)})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlesResponse is the response of ResolveHandles.
type HandlesResponse struct {
	Run        string  `json:"run"`
	Population string  `json:"population"`
	Namespace  string  `json:"namespace"`
	NodeIDs    []int64 `json:"node_ids"`
	Handles    []int64 `json:"handles"`
}

// ResolveHandles handles GET /api/runs/{run}/populations/{population}/handles?ids=1,2,3
// Supports ?namespace=real|virtual (default real).
func (s *Server) ResolveHandles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ids, err := ParseIDs(query.Get("ids"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ns, err := store.ParseNamespace(query.Get("namespace"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := s.lookup(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := run.Pool(ns)
	if err != nil {
		writeError(w, err)
		return
	}
	population := chi.URLParam(r, "population")
	handles, err := pool.Resolve(population, ids)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := HandlesResponse{
		Run:        run.ID,
		Population: population,
		Namespace:  string(ns),
		NodeIDs:    ids,
		Handles:    make([]int64, len(handles)),
	}
	for i, h := range handles {
		resp.Handles[i] = int64(h)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookup(r *http.Request) (*store.Run, error) {
	id := chi.URLParam(r, "run")
	if id == "latest" {
		id = ""
	}
	return store.Lookup(r.Context(), s.store, id)
}

// ParseIDs parses a comma separated list of node ids. Empty input is an empty list.
func ParseIDs(s string) ([]int64, error) {
	ids := []int64{}
	if strings.TrimSpace(s) == "" {
		return ids, nil
	}
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid node id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
