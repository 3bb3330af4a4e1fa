// Package parse extracts article listings and detail content from
// WebPLUS-style news pages.
package parse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ArticleMeta describes one entry on a listing page. IsTop marks pinned
// articles, which are exempt from the incremental date cutoff.
type ArticleMeta struct {
	URL   string
	Title string
	Date  string
	IsTop bool
}

// Detail is the extracted content of an article page.
type Detail struct {
	Title       string
	ContentHTML string
	PublishDate string
	MetaText    string
}

var dateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// ListPage parses a listing page into its articles, in page order. An
// unrecognized page yields an empty slice, which callers treat as
// end-of-pages.
func ListPage(html, baseURL string) ([]ArticleMeta, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse list page: %w", err)
	}

	container := doc.Find(".news_list").First()
	if container.Length() == 0 {
		container = doc.Find(".wp_article_list").First()
	}
	if container.Length() == 0 {
		return nil, nil
	}

	var articles []ArticleMeta
	container.Find("li").Each(func(_ int, item *goquery.Selection) {
		link := item.Find("a").First()
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		articleURL := NormalizeURL(baseURL, href)
		title := strings.TrimSpace(link.AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}

		date := ""
		dateSel := item.Find(".Article_PublishDate, .news_meta, span.date").First()
		if dateSel.Length() > 0 {
			date = strings.TrimSpace(dateSel.Text())
		} else if m := dateRe.FindString(item.Text()); m != "" {
			date = m
		}

		isTop := item.Find(".top").Length() > 0 || item.Find(`img[src*="top"]`).Length() > 0

		if articleURL != "" && title != "" {
			articles = append(articles, ArticleMeta{
				URL:   articleURL,
				Title: title,
				Date:  date,
				IsTop: isTop,
			})
		}
	})
	return articles, nil
}

// DetailPage extracts the title, content node and publish date from an
// article page.
func DetailPage(html string) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detail{}, fmt.Errorf("parse detail page: %w", err)
	}

	var d Detail
	d.Title = strings.TrimSpace(doc.Find(".arti_title").First().Text())

	content := doc.Find(".arti_content").First()
	if content.Length() == 0 {
		content = doc.Find(".wp_articlecontent").First()
	}
	if content.Length() > 0 {
		content.Find("script, style").Remove()
		if h, err := goquery.OuterHtml(content); err == nil {
			d.ContentHTML = h
		}
	}

	meta := doc.Find(".arti_metas").First()
	if meta.Length() == 0 {
		meta = doc.Find(".arti_update").First()
	}
	if meta.Length() > 0 {
		d.MetaText = strings.TrimSpace(meta.Text())
		d.PublishDate = dateRe.FindString(d.MetaText)
	}
	return d, nil
}

// NormalizeURL resolves link against base. Absolute links pass through.
func NormalizeURL(base, link string) string {
	if link == "" {
		return ""
	}
	if strings.HasPrefix(link, "http") {
		return link
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}
