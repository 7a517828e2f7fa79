// Package normalizer converts article HTML into the markdown text that gets chunked.
package normalizer

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/xhad/devrag/internal/apperr"
)

var converter = md.NewConverter("", true, &md.Options{
	HeadingStyle:     "atx",
	HorizontalRule:   "---",
	BulletListMarker: "-",
	CodeBlockStyle:   "fenced",
	Fence:            "```",
	EmDelimiter:      "*",
	StrongDelimiter:  "**",
	LinkStyle:        "inlined",
})

// Normalize renders HTML as ATX-style markdown and drops whitespace-only lines.
// Empty input yields an empty string.
func Normalize(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", apperr.ErrValidation, err)
	}
	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	return removeBlankLines(converter.Convert(root)), nil
}

func removeBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}
