// Package server exposes the query engine over HTTP with JSON bodies.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/litsearch/internal/artifact"
	"github.com/matsen/litsearch/internal/builder"
	"github.com/matsen/litsearch/internal/catalog"
	"github.com/matsen/litsearch/internal/embedding"
	"github.com/matsen/litsearch/internal/engine"
	"github.com/matsen/litsearch/internal/errs"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Engine is the part of engine.Engine the server needs.
type Engine interface {
	Query(ctx context.Context, text string, k int, filters catalog.Filters) ([]engine.QueryResult, error)
	Similar(ctx context.Context, recordID string, k int, filters catalog.Filters) ([]engine.QueryResult, error)
	Rebuild(ctx context.Context, mode builder.Mode) (*builder.BuildStats, error)
	Stats() engine.Stats
}

// QueryRequest is the body of POST /v1/query. Either Query or RecordID is
// required; RecordID asks for records similar to an indexed one.
type QueryRequest struct {
	Query     string          `json:"query"`
	RecordID  string          `json:"record_id,omitempty"`
	K         int             `json:"k,omitempty"`
	Filters   catalog.Filters `json:"filters"`
	Summarize bool            `json:"summarize,omitempty"`
}

// QueryResponse is the body returned by POST /v1/query.
type QueryResponse struct {
	Query   string               `json:"query"`
	Results []engine.QueryResult `json:"results"`
	Summary string               `json:"summary,omitempty"`
}

// RebuildRequest is the body of POST /v1/rebuild.
type RebuildRequest struct {
	Mode string `json:"mode"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server routes HTTP requests to an Engine.
type Server struct {
	eng      Engine
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	mux      *http.ServeMux

	// lifetime bounds work that outlives a request, such as rebuilds.
	lifetime context.Context
}

// New creates a server. A nil gatherer serves the default Prometheus
// registry; a nil logger selects slog.Default.
func New(eng Engine, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{eng: eng, gatherer: gatherer, logger: logger, mux: http.NewServeMux(), lifetime: context.Background()}

	s.mux.HandleFunc("POST /v1/query", s.handleQuery)
	s.mux.HandleFunc("POST /v1/rebuild", s.handleRebuild)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.lifetime = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}

	var results []engine.QueryResult
	var err error
	if req.RecordID != "" {
		results, err = s.eng.Similar(r.Context(), req.RecordID, req.K, req.Filters)
	} else {
		results, err = s.eng.Query(r.Context(), req.Query, req.K, req.Filters)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []engine.QueryResult{}
	}

	resp := QueryResponse{Query: req.Query, Results: results}
	if req.Summarize {
		resp.Summary = engine.Summarize(req.Query, results)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(w, err)
		return
	}
	mode, err := builder.ParseMode(req.Mode)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}

	// A client disconnect must not abort a build halfway; only server
	// shutdown does.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	stats, err := s.eng.Rebuild(ctx, mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.eng.Stats()
	status := "ok"
	if stats.SnapshotID == "" {
		status = "no_index"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"snapshot":   stats.SnapshotID,
		"index_size": stats.IndexSize,
	})
}

// decodeBody decodes a JSON body, returning io.EOF when it is empty.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: fmt.Sprintf("invalid request body: %v", err),
		Code:  "bad_request",
	})
}

// writeError maps engine errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		queryErr   *engine.QueryError
		buildErr   *builder.BuildError
		corruptErr *artifact.CorruptArtifactError
		embedErr   *embedding.EmbeddingError
	)

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.As(err, &queryErr) && errors.Is(err, artifact.ErrNoSnapshot):
		status, code = http.StatusServiceUnavailable, "no_index"
	case errors.As(err, &queryErr):
		status, code = http.StatusUnprocessableEntity, "no_results"
	case errors.Is(err, builder.ErrBuildInProgress):
		status, code = http.StatusConflict, "build_in_progress"
	case errors.Is(err, errs.ErrCancelled):
		status, code = http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, artifact.ErrNoSnapshot):
		status, code = http.StatusServiceUnavailable, "no_index"
	case errors.Is(err, errs.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.As(err, &buildErr):
		code = "build_failed"
	case errors.As(err, &corruptErr):
		code = "corrupt_artifact"
	case errors.As(err, &embedErr):
		status, code = http.StatusBadGateway, "embedding_failed"
	}

	if status >= 500 {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}
