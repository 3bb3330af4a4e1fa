package crawl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/hash/sha1"
	"github.com/wfan24990-glitch/rag-fastapi/internal/state"
	"github.com/wfan24990-glitch/rag-fastapi/internal/vectorindex"
)

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: map[string][]byte{},
		errs:      map[string]error{},
	}
}

func (f *stubFetcher) Fetch(_ context.Context, url string, _ bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.responses[url], nil
}

func (f *stubFetcher) fetched(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == url {
			return true
		}
	}
	return false
}

type stubEmbedder struct {
	err   error
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0, 0}
	}
	return vecs, nil
}

type stubIndex struct {
	err   error
	metas []vectorindex.Meta
}

func (ix *stubIndex) Add(vectors [][]float32, metas []vectorindex.Meta) error {
	if ix.err != nil {
		return ix.err
	}
	ix.metas = append(ix.metas, metas...)
	return nil
}

type listItem struct {
	href  string
	title string
	date  string
	top   bool
}

func listHTML(items ...listItem) []byte {
	var b strings.Builder
	b.WriteString(`<html><body><div class="news_list"><ul>`)
	for _, it := range items {
		b.WriteString("<li>")
		if it.top {
			b.WriteString(`<span class="top">置顶</span>`)
		}
		fmt.Fprintf(&b, `<a href=%q title=%q>%s</a>`, it.href, it.title, it.title)
		fmt.Fprintf(&b, `<span class="date">%s</span>`, it.date)
		b.WriteString("</li>")
	}
	b.WriteString(`</ul></div></body></html>`)
	return []byte(b.String())
}

func detailHTML(title, text, date string) []byte {
	return []byte(fmt.Sprintf(
		`<html><body><h1 class="arti_title">%s</h1><div class="arti_metas">发布时间：%s</div><div class="arti_content"><p>%s</p></div></body></html>`,
		title, date, text,
	))
}

func longText(n int) string {
	return strings.Repeat("南京大学信息管理学院发布重要通知。", n)
}

func newTestSpider(t *testing.T, fetcher Fetcher, embeds Embedder, ix IndexWriter) (*Spider, *state.Store) {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "crawl_state.json"))
	cfg := Config{
		ListURL:         "https://news.example.edu/list.htm",
		ListURLTemplate: "https://news.example.edu/list%d.htm",
		Source:          "news",
		MaxPagesDefault: 5,
		MinContentChars: 10,
		ChunkSize:       512,
		ChunkOverlap:    64,
	}
	s := NewSpider(cfg, store, fetcher, embeds, ix, zap.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, store
}

func TestSpiderIngestsNewArticles(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/a1.htm", title: "first", date: "2024-06-02"},
		listItem{href: "/a2.htm", title: "second", date: "2024-06-01"},
	)
	fetcher.responses["https://news.example.edu/a1.htm"] = detailHTML("first", longText(5), "2024-06-02")
	fetcher.responses["https://news.example.edu/a2.htm"] = detailHTML("second", longText(5), "2024-06-01")

	ix := &stubIndex{}
	spider, store := newTestSpider(t, fetcher, &stubEmbedder{}, ix)

	stats := spider.Run(context.Background(), Params{RunID: "run-1"})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Equal(t, 2, stats.IngestedCount)
	require.Zero(t, stats.ErrorCount)

	require.NotEmpty(t, ix.metas)
	require.Equal(t, "news", ix.metas[0].Source)
	require.Equal(t, "first", ix.metas[0].Title)
	require.Equal(t, sha1.Sum("https://news.example.edu/a1.htm")+"_0", ix.metas[0].ID)

	st := store.Load()
	require.Equal(t, "2024-06-02", st.LastSyncDate)
	require.True(t, st.HasSeen(sha1.Sum("https://news.example.edu/a1.htm")))
	require.Len(t, st.History, 1)
	require.Equal(t, "run-1", st.History[0].RunID)
}

func TestSpiderIncrementalStopSparesPinned(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/pin.htm", title: "pinned", date: "2024-01-01", top: true},
		listItem{href: "/new.htm", title: "fresh", date: "2024-06-01"},
		listItem{href: "/old.htm", title: "stale", date: "2024-04-01"},
	)
	fetcher.responses["https://news.example.edu/pin.htm"] = detailHTML("pinned", longText(5), "2024-01-01")
	fetcher.responses["https://news.example.edu/new.htm"] = detailHTML("fresh", longText(5), "2024-06-01")
	fetcher.responses["https://news.example.edu/old.htm"] = detailHTML("stale", longText(5), "2024-04-01")

	spider, store := newTestSpider(t, fetcher, &stubEmbedder{}, &stubIndex{})
	seeded := state.NewCrawlState()
	seeded.LastSyncDate = "2024-05-10"
	require.NoError(t, store.Save(seeded))

	stats := spider.Run(context.Background(), Params{RunID: "run-2", Mode: state.ModeIncremental})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Equal(t, 2, stats.IngestedCount)

	require.True(t, fetcher.fetched("https://news.example.edu/pin.htm"))
	require.True(t, fetcher.fetched("https://news.example.edu/new.htm"))
	require.False(t, fetcher.fetched("https://news.example.edu/old.htm"))
	require.False(t, fetcher.fetched("https://news.example.edu/list2.htm"))

	require.Equal(t, "2024-06-01", store.Load().LastSyncDate)
}

func TestSpiderFullModeIgnoresCutoff(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/old.htm", title: "stale", date: "2024-04-01"},
	)
	fetcher.responses["https://news.example.edu/old.htm"] = detailHTML("stale", longText(5), "2024-04-01")

	spider, store := newTestSpider(t, fetcher, &stubEmbedder{}, &stubIndex{})
	seeded := state.NewCrawlState()
	seeded.LastSyncDate = "2024-05-10"
	require.NoError(t, store.Save(seeded))

	stats := spider.Run(context.Background(), Params{RunID: "run-3", Mode: state.ModeFull})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Equal(t, 1, stats.IngestedCount)
}

func TestSpiderSkipsSeenURLsBeforeFetching(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/a1.htm", title: "first", date: "2024-06-01"},
	)

	spider, store := newTestSpider(t, fetcher, &stubEmbedder{}, &stubIndex{})
	seeded := state.NewCrawlState()
	seeded.MarkSeen(sha1.Sum("https://news.example.edu/a1.htm"))
	require.NoError(t, store.Save(seeded))

	stats := spider.Run(context.Background(), Params{RunID: "run-4"})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Zero(t, stats.IngestedCount)
	require.Equal(t, 1, stats.SkippedCount)
	require.False(t, fetcher.fetched("https://news.example.edu/a1.htm"))
}

func TestSpiderDryRunLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/a1.htm", title: "first", date: "2024-06-01"},
	)
	fetcher.responses["https://news.example.edu/a1.htm"] = detailHTML("first", longText(5), "2024-06-01")

	embeds := &stubEmbedder{}
	ix := &stubIndex{}
	spider, store := newTestSpider(t, fetcher, embeds, ix)

	stats := spider.Run(context.Background(), Params{RunID: "run-5", DryRun: true})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Equal(t, 1, stats.FetchedCount)
	require.Zero(t, stats.IngestedCount)
	require.Zero(t, embeds.calls)
	require.Empty(t, ix.metas)

	st := store.Load()
	require.Empty(t, st.LastSyncDate)
	require.False(t, st.HasSeen(sha1.Sum("https://news.example.edu/a1.htm")))
	require.Len(t, st.History, 1)
}

func TestSpiderAdvancesPastFailedPage(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/a1.htm", title: "first", date: "2024-06-01"},
	)
	fetcher.responses["https://news.example.edu/a1.htm"] = detailHTML("first", longText(5), "2024-06-01")
	fetcher.errs["https://news.example.edu/list2.htm"] = errors.New("connection reset")
	fetcher.responses["https://news.example.edu/list3.htm"] = listHTML(
		listItem{href: "/a3.htm", title: "third", date: "2024-05-30"},
	)
	fetcher.responses["https://news.example.edu/a3.htm"] = detailHTML("third", longText(5), "2024-05-30")

	spider, _ := newTestSpider(t, fetcher, &stubEmbedder{}, &stubIndex{})

	stats := spider.Run(context.Background(), Params{RunID: "run-6"})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Equal(t, 2, stats.IngestedCount)
	require.Equal(t, 1, stats.ErrorCount)
	require.True(t, fetcher.fetched("https://news.example.edu/list3.htm"))
}

func TestSpiderFirstPageFailureFailsRun(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.errs["https://news.example.edu/list.htm"] = errors.New("503 from upstream")

	spider, store := newTestSpider(t, fetcher, &stubEmbedder{}, &stubIndex{})

	stats := spider.Run(context.Background(), Params{RunID: "run-7"})
	require.Equal(t, state.RunStatusFailed, stats.Status)
	require.NotEmpty(t, stats.Errors)

	st := store.Load()
	require.Len(t, st.History, 1)
	require.Equal(t, state.RunStatusFailed, st.History[0].Status)
	require.Empty(t, st.LastSyncDate)
}

func TestSpiderSkipsShortContent(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/a1.htm", title: "tiny", date: "2024-06-01"},
	)
	fetcher.responses["https://news.example.edu/a1.htm"] = detailHTML("tiny", "短", "2024-06-01")

	spider, _ := newTestSpider(t, fetcher, &stubEmbedder{}, &stubIndex{})

	stats := spider.Run(context.Background(), Params{RunID: "run-8"})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Zero(t, stats.IngestedCount)
	require.Equal(t, 1, stats.SkippedCount)
}

func TestSpiderEmbedFailureCountsErrorAndContinues(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.responses["https://news.example.edu/list.htm"] = listHTML(
		listItem{href: "/a1.htm", title: "first", date: "2024-06-02"},
		listItem{href: "/a2.htm", title: "second", date: "2024-06-01"},
	)
	fetcher.responses["https://news.example.edu/a1.htm"] = detailHTML("first", longText(5), "2024-06-02")
	fetcher.responses["https://news.example.edu/a2.htm"] = detailHTML("second", longText(5), "2024-06-01")

	spider, store := newTestSpider(t, fetcher, &stubEmbedder{err: errors.New("embedding service down")}, &stubIndex{})

	stats := spider.Run(context.Background(), Params{RunID: "run-9"})
	require.Equal(t, state.RunStatusCompleted, stats.Status)
	require.Zero(t, stats.IngestedCount)
	require.Equal(t, 2, stats.ErrorCount)

	st := store.Load()
	require.False(t, st.HasSeen(sha1.Sum("https://news.example.edu/a1.htm")))
}

func TestRunnerRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fetcher := &gatedFetcher{gate: gate}
	spider, _ := newTestSpider(t, fetcher, &stubEmbedder{}, &stubIndex{})
	runner := NewRunner(spider, zap.NewNop())

	id, err := runner.Start(context.Background(), Params{Mode: state.ModeIncremental})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.True(t, runner.Running())

	_, err = runner.Start(context.Background(), Params{})
	require.ErrorIs(t, err, ErrRunInProgress)

	last := runner.LastRun()
	require.NotNil(t, last)
	require.Equal(t, id, last.RunID)
	require.Equal(t, state.RunStatusRunning, last.Status)

	close(gate)
	require.Eventually(t, func() bool { return !runner.Running() }, 2*time.Second, 10*time.Millisecond)

	last = runner.LastRun()
	require.Equal(t, state.RunStatusCompleted, last.Status)

	_, err = runner.Start(context.Background(), Params{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !runner.Running() }, 2*time.Second, 10*time.Millisecond)
}

type gatedFetcher struct {
	gate <-chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, _ string, _ bool) ([]byte, error) {
	select {
	case <-f.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}
