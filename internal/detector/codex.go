package detector

import "strings"

func init() {
	register("codex", codexDetector{})
}

// codexDetector recognises the Codex CLI's prompt glyphs and banners.
type codexDetector struct{}

func (codexDetector) Classify(output string) Classification {
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "approve this command"),
		strings.Contains(lower, "allow codex to"):
		return classificationFor(PermissionReq, true)

	case strings.Contains(lower, "choose an option"):
		return classificationFor(AwaitingSelection, true)

	case strings.Contains(lower, "user rejected"):
		return classificationFor(UserDeclined, true)

	case strings.Contains(lower, "rate limited"), strings.Contains(lower, "429"):
		return classificationFor(RateLimited, false)

	case strings.Contains(lower, "cancelled"), strings.Contains(lower, "^c"):
		return classificationFor(Interrupted, false)

	case strings.Contains(lower, "running command"), strings.Contains(lower, "thinking"):
		return classificationFor(ToolRunning, false)

	case strings.Contains(lower, "task complete"):
		return classificationFor(WorkComplete, false)

	case strings.HasSuffix(strings.TrimSpace(output), "$") || strings.HasSuffix(strings.TrimSpace(output), "codex>"):
		return classificationFor(IdleAtPrompt, false)
	}

	return classificationFor(Unknown, false)
}
