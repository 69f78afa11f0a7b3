package session

import "testing"

func TestNewTmuxStoresPrefix(t *testing.T) {
	// ListHiveSessions/IsRunning/Kill all shell out to the real tmux
	// binary, which may not be installed in a test sandbox; this test
	// only checks that NewTmux stores the prefix ListHiveSessions filters on.
	tm := NewTmux("hive-")
	if tm.prefix != "hive-" {
		t.Fatalf("expected prefix to be stored, got %q", tm.prefix)
	}
}

func TestKillOnAbsentSessionIsNoop(t *testing.T) {
	tm := NewTmux("hive-")
	// A session name astronomically unlikely to exist; IsRunning will be
	// false (tmux absent or server not running), so Kill must not error.
	if err := tm.Kill("hive-nonexistent-session-for-test"); err != nil {
		t.Fatalf("Kill on absent session should be a no-op, got %v", err)
	}
}
