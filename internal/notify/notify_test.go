package notify

import (
	"context"
	"testing"
)

func TestNewSlackNotifierWithoutTokenReturnsNop(t *testing.T) {
	n := NewSlackNotifier("", "#escalations")
	if _, ok := n.(NopNotifier); !ok {
		t.Fatalf("expected NopNotifier when no token configured, got %T", n)
	}
	if err := n.EscalationCreated(context.Background(), "ESC-1", "test"); err != nil {
		t.Fatalf("NopNotifier should never error, got %v", err)
	}
}
