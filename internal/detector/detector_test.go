package detector

import "testing"

func TestClaudeDetectorPermissionRequired(t *testing.T) {
	out := "Claude wants to run: rm -rf build/\nDo you want to proceed? ❯ 1. Yes"
	c, err := Classify("claude", out)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.State != PermissionReq || !c.NeedsHuman {
		t.Fatalf("expected PERMISSION_REQUIRED+needsHuman, got %+v", c)
	}
}

func TestClaudeDetectorRateLimited(t *testing.T) {
	out := "Error: rate limit exceeded, please try again in 30s"
	c, err := Classify("claude", out)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.State != RateLimited || c.NeedsHuman {
		t.Fatalf("expected RATE_LIMITED without needsHuman, got %+v", c)
	}
}

func TestCodexDetectorToolRunning(t *testing.T) {
	out := "Running command: go test ./...\n"
	c, err := Classify("codex", out)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.State != ToolRunning {
		t.Fatalf("expected TOOL_RUNNING, got %+v", c)
	}
}

func TestUnknownFlavourErrors(t *testing.T) {
	if _, err := Classify("not-a-flavour", "whatever"); err == nil {
		t.Fatalf("expected error for unregistered flavour")
	}
}

func TestGeminiDetectorIdleAtPrompt(t *testing.T) {
	out := "some earlier output\n>"
	c, err := Classify("gemini", out)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.State != IdleAtPrompt {
		t.Fatalf("expected IDLE_AT_PROMPT, got %+v", c)
	}
}
