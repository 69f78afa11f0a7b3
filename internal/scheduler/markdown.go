package scheduler

import "hive/internal/markdown"

// renderPlainText converts a Markdown ticket/story/PRD description into
// plain text suitable for a tmux session prompt (spec §4.2 step 4).
func renderPlainText(text string) string {
	return markdown.ToPlainText(text)
}
