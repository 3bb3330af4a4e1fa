// Package crawl drives the incremental harvesting loop: paginate the
// listing, decide per-article skip/stop against durable crawl state, and
// push accepted content through chunk, embed and index.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/chunk"
	"github.com/wfan24990-glitch/rag-fastapi/internal/fetch"
	"github.com/wfan24990-glitch/rag-fastapi/internal/hash/sha1"
	"github.com/wfan24990-glitch/rag-fastapi/internal/metrics"
	"github.com/wfan24990-glitch/rag-fastapi/internal/parse"
	"github.com/wfan24990-glitch/rag-fastapi/internal/state"
	"github.com/wfan24990-glitch/rag-fastapi/internal/vectorindex"
)

// errEndOfPages stops the loop without marking the run failed.
var errEndOfPages = errors.New("end of pages")

// Fetcher retrieves one URL, optionally screening content before the body
// is read.
type Fetcher interface {
	Fetch(ctx context.Context, url string, checkContent bool) ([]byte, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexWriter appends records to the vector index.
type IndexWriter interface {
	Add(vectors [][]float32, metas []vectorindex.Meta) error
}

// Config holds the crawl target and ingestion knobs.
type Config struct {
	ListURL         string
	ListURLTemplate string // must contain one %d verb for the page number
	Source          string
	MaxPagesDefault int
	MinContentChars int
	ChunkSize       int
	ChunkOverlap    int
}

// Params select the behavior of one run.
type Params struct {
	RunID    string
	Mode     state.Mode
	MaxPages int
	DryRun   bool
}

// Spider executes crawl runs. One run owns its RunStats and a loaded
// CrawlState snapshot exclusively; concurrent runs against the same state
// file are not coordinated.
type Spider struct {
	cfg     Config
	store   *state.Store
	fetcher Fetcher
	embeds  Embedder
	index   IndexWriter
	logger  *zap.Logger
	now     func() time.Time
}

// NewSpider builds a Spider.
func NewSpider(
	cfg Config,
	store *state.Store,
	fetcher Fetcher,
	embeds Embedder,
	index IndexWriter,
	logger *zap.Logger,
) *Spider {
	if cfg.MaxPagesDefault <= 0 {
		cfg.MaxPagesDefault = 50
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 50
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spider{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		embeds:  embeds,
		index:   index,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes one crawl to completion and returns the final stats. The
// run always ends with the history appended (trimmed to the cap) and the
// state persisted; last_sync_date advances only for completed non-dry
// runs.
func (s *Spider) Run(ctx context.Context, params Params) state.RunStats {
	if params.MaxPages <= 0 {
		params.MaxPages = s.cfg.MaxPagesDefault
	}
	if params.Mode == "" {
		params.Mode = state.ModeIncremental
	}

	st := s.store.Load()
	stats := state.RunStats{
		RunID:     params.RunID,
		StartTime: unixSeconds(s.now()),
		Status:    state.RunStatusRunning,
		Mode:      params.Mode,
		Errors:    []string{},
	}

	s.logger.Info("crawl run starting",
		zap.String("run_id", params.RunID),
		zap.String("mode", string(params.Mode)),
		zap.Int("max_pages", params.MaxPages),
		zap.Bool("dry_run", params.DryRun),
	)

	if err := s.crawlLoop(ctx, st, &stats, params); err != nil {
		s.logger.Error("crawl run failed", zap.String("run_id", params.RunID), zap.Error(err))
		stats.Status = state.RunStatusFailed
		stats.Errors = append(stats.Errors, err.Error())
	} else {
		stats.Status = state.RunStatusCompleted
	}

	stats.EndTime = unixSeconds(s.now())
	st.AppendHistory(stats)
	if stats.Status == state.RunStatusCompleted && !params.DryRun {
		st.LastSyncTS = stats.EndTime
	}
	if err := s.store.Save(st); err != nil {
		s.logger.Error("persist crawl state failed", zap.String("run_id", params.RunID), zap.Error(err))
	}

	metrics.RecordRun(string(stats.Status))
	s.logger.Info("crawl run finished",
		zap.String("run_id", params.RunID),
		zap.String("status", string(stats.Status)),
		zap.Int("ingested", stats.IngestedCount),
		zap.Int("skipped", stats.SkippedCount),
		zap.Int("errors", stats.ErrorCount),
	)
	return stats
}

func (s *Spider) crawlLoop(ctx context.Context, st *state.CrawlState, stats *state.RunStats, params Params) error {
	var latestDate string
	stop := false

	for page := 1; page <= params.MaxPages && !stop; page++ {
		url := s.cfg.ListURL
		if page > 1 {
			url = fmt.Sprintf(s.cfg.ListURLTemplate, page)
		}
		s.logger.Info("fetching list page", zap.Int("page", page), zap.String("url", url))

		err := s.processListPage(ctx, st, stats, params, url, &stop, &latestDate)
		if errors.Is(err, errEndOfPages) {
			s.logger.Info("no more articles", zap.Int("page", page))
			break
		}
		if err != nil {
			if page == 1 {
				// A broken first page means the target changed or is down.
				return fmt.Errorf("list page 1: %w", err)
			}
			// The page counter always advances past a failed page so one
			// bad page cannot wedge the run.
			stats.ErrorCount++
			stats.Errors = append(stats.Errors, fmt.Sprintf("list page %s: %v", url, err))
			s.logger.Error("list page failed", zap.String("url", url), zap.Error(err))
		}
	}

	if latestDate != "" && !params.DryRun {
		if st.LastSyncDate == "" || latestDate > st.LastSyncDate {
			st.LastSyncDate = latestDate
		}
	}
	return nil
}

func (s *Spider) processListPage(
	ctx context.Context,
	st *state.CrawlState,
	stats *state.RunStats,
	params Params,
	url string,
	stop *bool,
	latestDate *string,
) error {
	body, err := s.fetcher.Fetch(ctx, url, false)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if len(body) == 0 {
		return errEndOfPages
	}
	metrics.RecordListPage()

	articles, err := parse.ListPage(fetch.DecodeText(body), url)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(articles) == 0 {
		return errEndOfPages
	}

	for _, article := range articles {
		// Incremental stop: anything older than the last sync ends the
		// walk, but pinned articles neither trigger nor block it.
		if params.Mode == state.ModeIncremental && st.LastSyncDate != "" && !article.IsTop {
			if article.Date < st.LastSyncDate {
				s.logger.Info("reached previously synced articles",
					zap.String("date", article.Date),
					zap.String("last_sync_date", st.LastSyncDate),
				)
				*stop = true
				return nil
			}
		}

		if article.Date > *latestDate {
			*latestDate = article.Date
		}

		s.processArticle(ctx, st, stats, params, article)
	}
	return nil
}

// processArticle ingests one article. Failures are counted on the run and
// never abort the page loop.
func (s *Spider) processArticle(
	ctx context.Context,
	st *state.CrawlState,
	stats *state.RunStats,
	params Params,
	article parse.ArticleMeta,
) {
	urlHash := sha1.Sum(article.URL)
	if st.HasSeen(urlHash) {
		s.logger.Debug("skipping seen URL", zap.String("url", article.URL))
		stats.SkippedCount++
		metrics.RecordArticle("skipped")
		return
	}

	recordErr := func(err error) {
		stats.ErrorCount++
		stats.Errors = append(stats.Errors, fmt.Sprintf("article %s: %v", article.URL, err))
		metrics.RecordArticle("error")
		s.logger.Error("article processing failed", zap.String("url", article.URL), zap.Error(err))
	}

	body, err := s.fetcher.Fetch(ctx, article.URL, true)
	if errors.Is(err, fetch.ErrNoContent) {
		stats.SkippedCount++
		metrics.RecordArticle("skipped")
		return
	}
	if err != nil {
		recordErr(err)
		return
	}
	if len(body) == 0 {
		stats.SkippedCount++
		metrics.RecordArticle("skipped")
		return
	}

	detail, err := parse.DetailPage(fetch.DecodeText(body))
	if err != nil {
		recordErr(err)
		return
	}

	text := parse.CleanText(detail.ContentHTML)
	if len([]rune(text)) < s.cfg.MinContentChars {
		s.logger.Debug("content too short", zap.String("url", article.URL))
		stats.SkippedCount++
		metrics.RecordArticle("skipped")
		return
	}

	if params.DryRun {
		s.logger.Info("dry run, would ingest", zap.String("url", article.URL), zap.Int("chars", len(text)))
		stats.FetchedCount++
		return
	}

	chunks := chunk.Split(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	vectors, err := s.embeds.Embed(ctx, chunks)
	if err != nil {
		recordErr(fmt.Errorf("embed: %w", err))
		return
	}

	publishDate := detail.PublishDate
	if publishDate == "" {
		publishDate = article.Date
	}
	metas := make([]vectorindex.Meta, len(chunks))
	for i, c := range chunks {
		metas[i] = vectorindex.Meta{
			Source:      s.cfg.Source,
			ID:          fmt.Sprintf("%s_%d", urlHash, i),
			Text:        c,
			URL:         article.URL,
			Title:       detail.Title,
			PublishDate: publishDate,
		}
	}
	if err := s.index.Add(vectors, metas); err != nil {
		recordErr(fmt.Errorf("index add: %w", err))
		return
	}

	st.MarkSeen(urlHash)
	stats.IngestedCount++
	metrics.RecordArticle("ingested")
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
