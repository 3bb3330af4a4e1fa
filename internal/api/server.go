// Package api exposes the HTTP interface for the RAG service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/chunk"
	"github.com/wfan24990-glitch/rag-fastapi/internal/crawl"
	"github.com/wfan24990-glitch/rag-fastapi/internal/hash/sha1"
	"github.com/wfan24990-glitch/rag-fastapi/internal/metrics"
	"github.com/wfan24990-glitch/rag-fastapi/internal/query"
	"github.com/wfan24990-glitch/rag-fastapi/internal/state"
	"github.com/wfan24990-glitch/rag-fastapi/internal/vectorindex"
)

// Embedder turns texts into vectors for direct ingestion.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Answerer runs the query pipeline.
type Answerer interface {
	Answer(ctx context.Context, question string, topK, maxContextDocs int) (query.Result, error)
}

// Index is the subset of vector index operations the handlers use.
type Index interface {
	Add(vectors [][]float32, metas []vectorindex.Meta) error
	ListSources() []string
	Deduplicate() (int, error)
	NTotal() int
}

// Config sets handler knobs.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the index, the query pipeline and the
// crawler runner.
type Server struct {
	router   chi.Router
	cfg      Config
	index    Index
	embeds   Embedder
	answerer Answerer
	runner   *crawl.Runner
	store    *state.Store
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cfg Config,
	index Index,
	embeds Embedder,
	answerer Answerer,
	runner *crawl.Runner,
	store *state.Store,
	logger *zap.Logger,
) *Server {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		index:    index,
		embeds:   embeds,
		answerer: answerer,
		runner:   runner,
		store:    store,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/ingest", s.ingest)
	r.Post("/query", s.query)
	r.Get("/sources", s.sources)
	r.Post("/admin/deduplicate", s.deduplicate)

	r.Route("/crawler", func(r chi.Router) {
		r.Post("/run", s.crawlerRun)
		r.Get("/status", s.crawlerStatus)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Sync   bool   `json:"sync"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text required")
		return
	}
	if req.Source == "" {
		req.Source = "local"
	}

	chunks := chunk.Split(req.Text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if req.Sync {
		if err := s.ingestChunks(r.Context(), chunks, req.Source); err != nil {
			s.logger.Error("ingest failed", zap.String("source", req.Source), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status":                "completed",
			"ingested_chunks_count": len(chunks),
		})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.ingestChunks(ctx, chunks, req.Source); err != nil {
			s.logger.Error("background ingest failed", zap.String("source", req.Source), zap.Error(err))
			return
		}
		s.logger.Info("background ingest completed",
			zap.String("source", req.Source),
			zap.Int("chunks", len(chunks)),
		)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":                "processing",
		"ingested_chunks_count": len(chunks),
		"message":               "Ingestion started in background",
	})
}

func (s *Server) ingestChunks(ctx context.Context, chunks []string, source string) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := s.embeds.Embed(ctx, chunks)
	if err != nil {
		return err
	}
	textHash := sha1.Sum(source + "\x00" + chunks[0])
	metas := make([]vectorindex.Meta, len(chunks))
	for i, c := range chunks {
		metas[i] = vectorindex.Meta{
			Source: source,
			ID:     fmt.Sprintf("%s_%d", textHash, i),
			Text:   c,
		}
	}
	if err := s.index.Add(vectors, metas); err != nil {
		return err
	}
	metrics.SetIndexRecords(s.index.NTotal())
	return nil
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query required")
		return
	}

	res, err := s.answerer.Answer(r.Context(), req.Query, req.TopK, 0)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) sources(w http.ResponseWriter, _ *http.Request) {
	labels := s.index.ListSources()
	if labels == nil {
		labels = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": labels})
}

func (s *Server) deduplicate(w http.ResponseWriter, _ *http.Request) {
	removed, err := s.index.Deduplicate()
	if err != nil {
		s.logger.Error("deduplicate failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.SetIndexRecords(s.index.NTotal())
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type crawlerRunRequest struct {
	Mode     string `json:"mode"`
	MaxPages int    `json:"max_pages"`
	DryRun   bool   `json:"dry_run"`
}

func (s *Server) crawlerRun(w http.ResponseWriter, r *http.Request) {
	var req crawlerRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	mode := state.Mode(req.Mode)
	switch mode {
	case "", state.ModeIncremental, state.ModeFull:
	default:
		s.writeError(w, http.StatusBadRequest, "mode must be incremental or full")
		return
	}

	// The run outlives the request, so it gets its own context.
	runID, err := s.runner.Start(context.Background(), crawl.Params{
		Mode:     mode,
		MaxPages: req.MaxPages,
		DryRun:   req.DryRun,
	})
	if errors.Is(err, crawl.ErrRunInProgress) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "run_id": runID})
}

func (s *Server) crawlerStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Load()
	var lastRun *state.RunStats
	if s.runner != nil {
		lastRun = s.runner.LastRun()
	}
	if lastRun == nil {
		lastRun = st.LastRun()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"last_sync_date":  st.LastSyncDate,
		"total_seen_urls": len(st.SeenURLHashes),
		"last_run":        lastRun,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
