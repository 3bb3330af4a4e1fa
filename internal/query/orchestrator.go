// Package query answers questions over the vector index: retrieve,
// rerank, select context and generate with provider fallback.
package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/embed"
	"github.com/wfan24990-glitch/rag-fastapi/internal/metrics"
	"github.com/wfan24990-glitch/rag-fastapi/internal/vectorindex"
)

// NoContentAnswer is returned verbatim when retrieval finds nothing.
const NoContentAnswer = "没有检索到相关内容。"

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher retrieves nearest candidates from the index.
type Searcher interface {
	Search(query []float32, topK int) ([]vectorindex.SearchResult, error)
}

// Reranker rescores candidate texts against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]embed.RankedDoc, error)
}

// Generator produces the final answer text.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Source describes one context snippet backing an answer.
type Source struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
	ID     string  `json:"id"`
}

// Result is a complete answer with its supporting sources.
type Result struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Config sets retrieval defaults used when a request leaves them zero.
type Config struct {
	TopK        int
	ContextDocs int
}

// Orchestrator wires the retrieval and generation stages.
type Orchestrator struct {
	cfg      Config
	embeds   Embedder
	index    Searcher
	reranker Reranker
	gen      Generator
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config, embeds Embedder, index Searcher, reranker Reranker, gen Generator, logger *zap.Logger) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.ContextDocs <= 0 {
		cfg.ContextDocs = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		embeds:   embeds,
		index:    index,
		reranker: reranker,
		gen:      gen,
		logger:   logger,
	}
}

// Answer runs the full pipeline for one question. An empty retrieval
// result short-circuits to NoContentAnswer with no rerank or generation
// calls. Generation failure from every provider propagates to the caller.
func (o *Orchestrator) Answer(ctx context.Context, question string, topK, maxContextDocs int) (Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveQuery(time.Since(start)) }()

	if topK <= 0 {
		topK = o.cfg.TopK
	}
	if maxContextDocs <= 0 {
		maxContextDocs = o.cfg.ContextDocs
	}

	vecs, err := o.embeds.Embed(ctx, []string{question})
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return Result{}, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}

	candidates, err := o.index.Search(vecs[0], topK)
	if err != nil {
		return Result{}, fmt.Errorf("search index: %w", err)
	}
	if len(candidates) == 0 {
		o.logger.Info("no candidates retrieved", zap.String("query", question))
		return Result{Answer: NoContentAnswer, Sources: []Source{}}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Meta.Text
	}
	ranked, err := o.reranker.Rerank(ctx, question, texts)
	if err != nil {
		return Result{}, fmt.Errorf("rerank: %w", err)
	}
	if len(ranked) > maxContextDocs {
		ranked = ranked[:maxContextDocs]
	}

	snippets := make([]Snippet, len(ranked))
	for i, doc := range ranked {
		meta := candidates[doc.Index].Meta
		snippets[i] = Snippet{
			ID:     meta.ID,
			Source: meta.Source,
			Text:   doc.Text,
			Score:  doc.Score,
		}
	}

	system, user := BuildPrompt(question, snippets)
	answer, err := o.gen.Generate(ctx, system, user)
	if err != nil {
		return Result{}, fmt.Errorf("generate: %w", err)
	}

	sources := make([]Source, len(snippets))
	for i, s := range snippets {
		sources[i] = Source{Text: s.Text, Score: s.Score, Source: s.Source, ID: s.ID}
	}
	return Result{Answer: answer, Sources: sources}, nil
}
