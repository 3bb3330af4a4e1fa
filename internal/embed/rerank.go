package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// RerankConfig points the reranker at its scoring endpoint.
type RerankConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// Reranker scores retrieved candidates against a query with a second-pass
// relevance model.
type Reranker struct {
	cfg  RerankConfig
	http *http.Client
}

// NewReranker builds a Reranker.
func NewReranker(cfg RerankConfig) *Reranker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reranker{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// RankedDoc is one reranked candidate. Index is the candidate's position
// in the original retrieval order, preserved so callers can map back to
// retrieval metadata after sorting.
type RankedDoc struct {
	Index int
	Text  string
	Score float64
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores docs against query in fixed-size batches and returns all
// candidates sorted by descending score.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []string) ([]RankedDoc, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	ranked := make([]RankedDoc, 0, len(docs))
	for start := 0; start < len(docs); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		scores, err := r.scoreBatch(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		for i, score := range scores {
			ranked = append(ranked, RankedDoc{Index: start + i, Text: batch[i], Score: score})
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].Score > ranked[b].Score })
	return ranked, nil
}

func (r *Reranker) scoreBatch(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: r.cfg.Model, Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	client := &Client{cfg: Config{APIKey: r.cfg.APIKey}, http: r.http}
	var resp rerankResponse
	if err := client.post(ctx, r.cfg.BaseURL+"/rerank", body, &resp); err != nil {
		return nil, err
	}

	scores := make([]float64, len(docs))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(scores) {
			return nil, fmt.Errorf("rerank index %d out of range", res.Index)
		}
		scores[res.Index] = res.RelevanceScore
	}
	return scores, nil
}
