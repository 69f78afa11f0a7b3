package detector

import "strings"

func init() {
	register("claude", claudeDetector{})
}

// claudeDetector recognises the Claude Code CLI's prompt glyphs, menu
// layouts, and banners.
type claudeDetector struct{}

func (claudeDetector) Classify(output string) Classification {
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "permission to"),
		strings.Contains(lower, "do you want to proceed"),
		strings.Contains(output, "❯ 1. Yes"):
		return classificationFor(PermissionReq, true)

	case strings.Contains(output, "❯") && strings.Contains(lower, "select"):
		return classificationFor(AwaitingSelection, true)

	case strings.Contains(lower, "no, and tell claude what to do differently"):
		return classificationFor(UserDeclined, true)

	case strings.Contains(lower, "?") && strings.HasSuffix(strings.TrimSpace(output), "?"):
		return classificationFor(AskingQuestion, true)

	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "please try again"):
		return classificationFor(RateLimited, false)

	case strings.Contains(lower, "interrupted by user"), strings.Contains(lower, "request cancelled"):
		return classificationFor(Interrupted, false)

	case strings.Contains(lower, "esc to interrupt"), strings.Contains(lower, "tokens") && strings.Contains(lower, "running"):
		return classificationFor(ToolRunning, false)

	case strings.Contains(output, "> "):
		trimmed := strings.TrimSpace(output)
		if strings.HasSuffix(trimmed, ">") {
			return classificationFor(IdleAtPrompt, false)
		}
		return classificationFor(Typing, false)

	case strings.Contains(lower, "work complete"), strings.Contains(lower, "all done"):
		return classificationFor(WorkComplete, false)
	}

	return classificationFor(Unknown, false)
}
