package fetch

import (
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DecodeText converts raw response bytes to a UTF-8 string using
// best-effort charset detection. Undecodable bytes are replaced rather
// than failing; an unrecognized charset falls back to lossy UTF-8.
func DecodeText(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	detector := chardet.NewHtmlDetector()
	best, err := detector.DetectBest(body)
	if err == nil && best != nil && best.Charset != "" {
		if enc := lookupEncoding(best.Charset); enc != nil && enc != unicode.UTF8 {
			if decoded, err := enc.NewDecoder().Bytes(body); err == nil {
				return string(decoded)
			}
		}
	}
	return strings.ToValidUTF8(string(body), "�")
}

// lookupEncoding resolves a detector charset name to an encoding. Detector
// names do not always match WHATWG labels (e.g. "GB-18030" vs "gb18030"),
// so a hyphen-stripped lookup is tried second.
func lookupEncoding(name string) encoding.Encoding {
	label := strings.ToLower(name)
	if enc, err := htmlindex.Get(label); err == nil {
		return enc
	}
	if enc, err := htmlindex.Get(strings.ReplaceAll(label, "-", "")); err == nil {
		return enc
	}
	return nil
}
