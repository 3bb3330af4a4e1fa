package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/embed"
	"github.com/wfan24990-glitch/rag-fastapi/internal/vectorindex"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

type stubSearcher struct {
	results  []vectorindex.SearchResult
	err      error
	gotTopK  int
	gotQuery []float32
}

func (s *stubSearcher) Search(query []float32, topK int) ([]vectorindex.SearchResult, error) {
	s.gotQuery = query
	s.gotTopK = topK
	return s.results, s.err
}

type stubReranker struct {
	ranked []embed.RankedDoc
	err    error
	called bool
}

func (r *stubReranker) Rerank(_ context.Context, _ string, _ []string) ([]embed.RankedDoc, error) {
	r.called = true
	return r.ranked, r.err
}

type stubGenerator struct {
	answer    string
	err       error
	called    bool
	gotSystem string
	gotUser   string
}

func (g *stubGenerator) Generate(_ context.Context, system, user string) (string, error) {
	g.called = true
	g.gotSystem = system
	g.gotUser = user
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func candidate(id, source, text string) vectorindex.SearchResult {
	return vectorindex.SearchResult{
		Meta: vectorindex.Meta{ID: id, Source: source, Text: text},
	}
}

func TestAnswerEmptyRetrievalShortCircuits(t *testing.T) {
	t.Parallel()

	reranker := &stubReranker{}
	gen := &stubGenerator{}
	o := New(Config{}, &stubEmbedder{vec: []float32{1}}, &stubSearcher{}, reranker, gen, zap.NewNop())

	res, err := o.Answer(context.Background(), "anything", 0, 0)
	require.NoError(t, err)
	require.Equal(t, NoContentAnswer, res.Answer)
	require.NotNil(t, res.Sources)
	require.Empty(t, res.Sources)
	require.False(t, reranker.called)
	require.False(t, gen.called)
}

func TestAnswerRemapsMetadataByOriginalRank(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: []vectorindex.SearchResult{
		candidate("a_0", "news", "alpha text"),
		candidate("b_0", "news", "beta text"),
		candidate("c_0", "315.json", "gamma text"),
	}}
	// Reranker promotes the third retrieval candidate to the top.
	reranker := &stubReranker{ranked: []embed.RankedDoc{
		{Index: 2, Text: "gamma text", Score: 0.9},
		{Index: 0, Text: "alpha text", Score: 0.5},
		{Index: 1, Text: "beta text", Score: 0.1},
	}}
	gen := &stubGenerator{answer: "the answer"}

	o := New(Config{ContextDocs: 2}, &stubEmbedder{vec: []float32{1}}, searcher, reranker, gen, zap.NewNop())
	res, err := o.Answer(context.Background(), "q", 20, 0)
	require.NoError(t, err)

	require.Equal(t, "the answer", res.Answer)
	require.Len(t, res.Sources, 2)
	require.Equal(t, "c_0", res.Sources[0].ID)
	require.Equal(t, "315.json", res.Sources[0].Source)
	require.InDelta(t, 0.9, res.Sources[0].Score, 1e-9)
	require.Equal(t, "a_0", res.Sources[1].ID)

	require.Contains(t, gen.gotUser, `<snippet id="c_0" source="315.json">`)
	require.Contains(t, gen.gotUser, "gamma text")
	require.NotContains(t, gen.gotUser, "beta text")
	require.Contains(t, gen.gotSystem, "[source:source_name#id]")
}

func TestAnswerUsesConfiguredDefaults(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: []vectorindex.SearchResult{candidate("a_0", "news", "text")}}
	reranker := &stubReranker{ranked: []embed.RankedDoc{{Index: 0, Text: "text", Score: 1}}}
	o := New(Config{TopK: 7, ContextDocs: 3}, &stubEmbedder{vec: []float32{1}}, searcher, reranker, &stubGenerator{answer: "ok"}, zap.NewNop())

	_, err := o.Answer(context.Background(), "q", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 7, searcher.gotTopK)
}

func TestAnswerTruncatesLongSnippets(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("长", 1500)
	searcher := &stubSearcher{results: []vectorindex.SearchResult{candidate("a_0", "news", long)}}
	reranker := &stubReranker{ranked: []embed.RankedDoc{{Index: 0, Text: long, Score: 1}}}
	gen := &stubGenerator{answer: "ok"}

	o := New(Config{}, &stubEmbedder{vec: []float32{1}}, searcher, reranker, gen, zap.NewNop())
	res, err := o.Answer(context.Background(), "q", 0, 0)
	require.NoError(t, err)

	require.Contains(t, gen.gotUser, strings.Repeat("长", 1200)+"...")
	require.NotContains(t, gen.gotUser, strings.Repeat("长", 1201))
	// The returned source keeps the full text; only the prompt is capped.
	require.Equal(t, long, res.Sources[0].Text)
}

func TestAnswerGenerationFailurePropagates(t *testing.T) {
	t.Parallel()

	searcher := &stubSearcher{results: []vectorindex.SearchResult{candidate("a_0", "news", "text")}}
	reranker := &stubReranker{ranked: []embed.RankedDoc{{Index: 0, Text: "text", Score: 1}}}
	gen := &stubGenerator{err: errors.New("all generation providers failed")}

	o := New(Config{}, &stubEmbedder{vec: []float32{1}}, searcher, reranker, gen, zap.NewNop())
	_, err := o.Answer(context.Background(), "q", 0, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "generate")
}

func TestAnswerEmbedFailurePropagates(t *testing.T) {
	t.Parallel()

	o := New(Config{}, &stubEmbedder{err: errors.New("down")}, &stubSearcher{}, &stubReranker{}, &stubGenerator{}, zap.NewNop())
	_, err := o.Answer(context.Background(), "q", 0, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "embed query")
}

func TestBuildPromptTagsSnippets(t *testing.T) {
	t.Parallel()

	system, user := BuildPrompt("什么是图书馆开放时间?", []Snippet{
		{ID: "h_0", Source: "news", Text: "图书馆每天8点开放。"},
		{ID: "h_1", Source: "news", Text: "周末闭馆。"},
	})

	require.Contains(t, system, "ONLY on the provided context")
	require.Contains(t, system, "I cannot answer this question based on the provided documents.")
	require.Contains(t, user, "User Question: 什么是图书馆开放时间?")
	require.Contains(t, user, `<snippet id="h_0" source="news">`)
	require.Contains(t, user, `<snippet id="h_1" source="news">`)
	require.Contains(t, user, "图书馆每天8点开放。")
}
