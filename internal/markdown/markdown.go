// Package markdown renders the Markdown that ticket, story, and PRD
// descriptions may carry down to plain text, for contexts that can't
// show HTML: a tmux session prompt, a Slack message.
package markdown

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// htmlTag strips the tags goldmark's HTML renderer produces, the same
// regexp-based approach the teacher's dashboard templates use for
// slugifying, applied here to turn rendered HTML back into plain text.
var htmlTag = regexp.MustCompile(`<[^>]*>`)

// ToPlainText converts Markdown to plain text by rendering it to HTML
// the same way the teacher's dashboard does, then stripping the tags
// rather than serving raw HTML to a terminal or chat message.
func ToPlainText(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return markdown
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(buf.String(), "")))
}
