// Package app wires configuration into the service's components.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/api"
	"github.com/wfan24990-glitch/rag-fastapi/internal/config"
	"github.com/wfan24990-glitch/rag-fastapi/internal/crawl"
	"github.com/wfan24990-glitch/rag-fastapi/internal/embed"
	"github.com/wfan24990-glitch/rag-fastapi/internal/fetch"
	"github.com/wfan24990-glitch/rag-fastapi/internal/llm"
	"github.com/wfan24990-glitch/rag-fastapi/internal/logging"
	"github.com/wfan24990-glitch/rag-fastapi/internal/metrics"
	"github.com/wfan24990-glitch/rag-fastapi/internal/query"
	"github.com/wfan24990-glitch/rag-fastapi/internal/state"
	"github.com/wfan24990-glitch/rag-fastapi/internal/vectorindex"
)

// App holds the fully wired service.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	Store        *state.Store
	Index        *vectorindex.Index
	Fetcher      *fetch.Fetcher
	Embeds       *embed.Client
	Reranker     *embed.Reranker
	Chain        *llm.Chain
	Orchestrator *query.Orchestrator
	Spider       *crawl.Spider
	Runner       *crawl.Runner
	Server       *api.Server
}

// New loads configuration and builds every component, loading the
// persisted index from disk.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store := state.NewStore(filepath.Join(cfg.Data.Dir, cfg.Data.StateFile))

	index := vectorindex.New(filepath.Join(cfg.Data.Dir, cfg.Data.IndexFile), logger.Named("index"))
	if err := index.Load(); err != nil {
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	metrics.SetIndexRecords(index.NTotal())

	fetcher := fetch.New(fetch.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Concurrency:  int64(cfg.Crawler.Concurrency),
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	}, &fetch.RetryPolicy{
		MaxAttempts: cfg.Crawler.MaxRetries,
		BaseDelay:   time.Duration(cfg.Crawler.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Crawler.BackoffMaxMs) * time.Millisecond,
	}, logger.Named("fetch"))

	embeds := embed.NewClient(embed.Config{
		BaseURL:   cfg.Embed.BaseURL,
		APIKey:    cfg.Embed.APIKey,
		Model:     cfg.Embed.Model,
		BatchSize: cfg.Embed.BatchSize,
	})
	reranker := embed.NewReranker(embed.RerankConfig{
		BaseURL:   cfg.Rerank.BaseURL,
		APIKey:    cfg.Rerank.APIKey,
		Model:     cfg.Rerank.Model,
		BatchSize: cfg.Rerank.BatchSize,
	})

	chain := llm.NewChain(logger.Named("llm"),
		chatProvider(cfg.LLM.Primary, cfg.GenerateTimeout()),
		chatProvider(cfg.LLM.Fallback, cfg.GenerateTimeout()),
	)

	orchestrator := query.New(query.Config{
		TopK:        cfg.Query.TopK,
		ContextDocs: cfg.Query.ContextDocs,
	}, embeds, index, reranker, chain, logger.Named("query"))

	spider := crawl.NewSpider(crawl.Config{
		ListURL:         cfg.Crawler.ListURL,
		ListURLTemplate: cfg.Crawler.ListURLTemplate,
		Source:          cfg.Crawler.Source,
		MaxPagesDefault: cfg.Crawler.MaxPagesDefault,
		MinContentChars: cfg.Crawler.MinContentChars,
		ChunkSize:       cfg.Chunk.Size,
		ChunkOverlap:    cfg.Chunk.Overlap,
	}, store, fetcher, embeds, index, logger.Named("crawl"))
	runner := crawl.NewRunner(spider, logger.Named("crawl"))

	server := api.NewServer(api.Config{
		ChunkSize:    cfg.Chunk.Size,
		ChunkOverlap: cfg.Chunk.Overlap,
	}, index, embeds, orchestrator, runner, store, logger.Named("api"))

	return &App{
		Cfg:          cfg,
		Logger:       logger,
		Store:        store,
		Index:        index,
		Fetcher:      fetcher,
		Embeds:       embeds,
		Reranker:     reranker,
		Chain:        chain,
		Orchestrator: orchestrator,
		Spider:       spider,
		Runner:       runner,
		Server:       server,
	}, nil
}

// Close flushes the logger.
func (a *App) Close() {
	_ = a.Logger.Sync()
}

func chatProvider(pc config.ProviderConfig, timeout time.Duration) *llm.ChatProvider {
	return llm.NewChatProvider(llm.ChatConfig{
		Name:    pc.Name,
		BaseURL: pc.BaseURL,
		APIKey:  pc.APIKey,
		Model:   pc.Model,
		Timeout: timeout,
	})
}
