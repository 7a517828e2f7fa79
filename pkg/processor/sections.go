package processor

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type heading struct {
	offset int
	title  string
}

// sectionIndex lists markdown headings by byte offset.
type sectionIndex []heading

func findSections(content string) sectionIndex {
	source := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var index sectionIndex
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		title := headingText(h, source)
		if title != "" {
			index = append(index, heading{offset: h.Lines().At(0).Start, title: title})
		}
		return ast.WalkSkipChildren, nil
	})
	return index
}

// at returns the last heading at or before start, or the first heading
// before end when none precedes it.
func (s sectionIndex) at(start, end int) string {
	section := ""
	for _, h := range s {
		if h.offset > start {
			if section == "" && h.offset < end {
				return h.title
			}
			break
		}
		section = h.title
	}
	return section
}

func headingText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := c.(*ast.Text); ok {
				sb.Write(t.Segment.Value(source))
				if t.SoftLineBreak() {
					sb.WriteByte(' ')
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
