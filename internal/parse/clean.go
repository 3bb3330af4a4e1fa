package parse

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var noiseSelectors = []string{
	".header", ".footer", ".nav", ".sidebar", ".menu",
	".breadcrumb", ".pagination", ".prev-next", ".related-posts",
	"#header", "#footer", "#nav", "#sidebar",
}

// CleanText reduces an HTML fragment to plain text suitable for
// embedding: scripts, styles, navigation chrome and known noise blocks are
// dropped and whitespace is normalized to single newlines.
func CleanText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, iframe, noscript").Remove()
	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	text := selectionText(doc.Selection)

	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			if p := strings.TrimSpace(phrase); p != "" {
				out = append(out, p)
			}
		}
	}
	return strings.Join(out, "\n")
}

// selectionText extracts text with newline separators between elements,
// so block boundaries survive the flattening.
func selectionText(s *goquery.Selection) string {
	var b strings.Builder
	s.Find("*").Each(func(_ int, el *goquery.Selection) {
		if el.Children().Length() == 0 {
			if t := strings.TrimSpace(el.Text()); t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
	})
	if b.Len() == 0 {
		return s.Text()
	}
	return b.String()
}
