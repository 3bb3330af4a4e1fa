package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const listHTML = `
<html><body>
<ul class="news_list">
  <li>
    <span class="top"></span>
    <a href="/info/1001/100.htm" title="Pinned announcement">Pinned announcement</a>
    <span class="date">2024-01-02</span>
  </li>
  <li>
    <a href="/info/1001/101.htm">Second article</a>
    <span class="Article_PublishDate">2024-05-10</span>
  </li>
  <li>
    <a href="https://other.example.com/abs.htm" title="Absolute link">Absolute link</a>
    published 2024-05-09 by staff
  </li>
  <li><span>no link here</span></li>
</ul>
</body></html>`

func TestListPage(t *testing.T) {
	t.Parallel()

	articles, err := ListPage(listHTML, "https://is.nju.edu.cn/57162/list.htm")
	require.NoError(t, err)
	require.Len(t, articles, 3)

	require.Equal(t, "https://is.nju.edu.cn/info/1001/100.htm", articles[0].URL)
	require.Equal(t, "Pinned announcement", articles[0].Title)
	require.Equal(t, "2024-01-02", articles[0].Date)
	require.True(t, articles[0].IsTop)

	require.Equal(t, "Second article", articles[1].Title)
	require.Equal(t, "2024-05-10", articles[1].Date)
	require.False(t, articles[1].IsTop)

	// Date pulled from free text via regex when no date node exists.
	require.Equal(t, "https://other.example.com/abs.htm", articles[2].URL)
	require.Equal(t, "2024-05-09", articles[2].Date)
}

func TestListPageUnrecognizedLayout(t *testing.T) {
	t.Parallel()

	articles, err := ListPage("<html><body><p>nothing</p></body></html>", "https://is.nju.edu.cn/")
	require.NoError(t, err)
	require.Empty(t, articles)
}

func TestDetailPage(t *testing.T) {
	t.Parallel()

	html := `
<html><body>
<h1 class="arti_title"> Research colloquium </h1>
<div class="arti_metas">发布时间：2024-05-10 浏览次数: 12</div>
<div class="arti_content">
  <script>track()</script>
  <p>First paragraph of the talk.</p>
  <p>Second paragraph.</p>
</div>
</body></html>`

	d, err := DetailPage(html)
	require.NoError(t, err)
	require.Equal(t, "Research colloquium", d.Title)
	require.Equal(t, "2024-05-10", d.PublishDate)
	require.Contains(t, d.ContentHTML, "First paragraph")
	require.NotContains(t, d.ContentHTML, "track()")
}

func TestDetailPageFallbackContainer(t *testing.T) {
	t.Parallel()

	html := `<div class="wp_articlecontent"><p>Body text</p></div>`
	d, err := DetailPage(html)
	require.NoError(t, err)
	require.Contains(t, d.ContentHTML, "Body text")
	require.Empty(t, d.Title)
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	html := `
<div>
  <script>var x = 1;</script>
  <div class="nav">Home | About</div>
  <p>Keep this line.</p>
  <div class="footer">copyright</div>
  <p>  And   this one. </p>
</div>`

	text := CleanText(html)
	require.Contains(t, text, "Keep this line.")
	require.NotContains(t, text, "var x")
	require.NotContains(t, text, "Home | About")
	require.NotContains(t, text, "copyright")

	require.Empty(t, CleanText(""))
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	base := "https://is.nju.edu.cn/57162/list.htm"
	require.Equal(t, "", NormalizeURL(base, ""))
	require.Equal(t, "https://x.example/a", NormalizeURL(base, "https://x.example/a"))
	require.Equal(t, "https://is.nju.edu.cn/info/1.htm", NormalizeURL(base, "/info/1.htm"))
	require.Equal(t, "https://is.nju.edu.cn/57162/2.htm", NormalizeURL(base, "2.htm"))
}
