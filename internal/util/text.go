package util

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// markup matches the fragments the forum emits when a post carries HTML:
// line breaks, paragraphs, links and entity references.
var markup = regexp.MustCompile(`(?i)<br\s*/?>|</?p[\s>]|<a\s|&(?:#[0-9]+|#x[0-9a-f]+|[a-z][a-z0-9]*);`)

// PlainText flattens an HTML fragment to text: entities are decoded, <br>
// becomes a newline and tags are dropped. Plain text, including text with a
// bare < or &, is returned as is.
func PlainText(s string) string {
	if !markup.MatchString(s) {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return doc.Find("body").Text()
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
