// Package sanitize cleans free text submitted through public forms.
package sanitize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	htmlTagRegex   = regexp.MustCompile(`<[^>]*>`)
	spaceRunRegex  = regexp.MustCompile(`[ \t]+`)
	entityReplacer = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"", "&#39;", "'")
)

// StripHTML removes tags, decodes the common entities and strips again so
// encoded tags do not survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = entityReplacer.Replace(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text strips markup, folds full-width ASCII and half-width katakana with
// NFKC, and collapses runs of spaces. Newlines are kept for notes.
func Text(s string) string {
	result := norm.NFKC.String(StripHTML(s))
	result = strings.ReplaceAll(result, "\r\n", "\n")
	result = spaceRunRegex.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}
