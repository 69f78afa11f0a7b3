// Package session implements the Session Supervisor: a stateless,
// process-safe wrapper over a terminal multiplexer (tmux) that creates,
// addresses, probes, and kills the long-lived sessions hosting worker
// agents' LLM CLI processes (spec §4.4).
package session

import "time"

// SessionInfo describes one live hive-managed session.
type SessionInfo struct {
	Name      string
	CreatedAt time.Time
}

// Supervisor is the abstract contract over the terminal multiplexer. It
// holds no persistent state of its own; two callers may issue
// non-destructive operations concurrently.
type Supervisor interface {
	// CreateSession starts a new named session running argv in workDir.
	// Fails if a session by that name already exists.
	CreateSession(name, workDir string, argv []string, env map[string]string) error

	// SendMessage appends text to the session without pressing enter, so
	// messages can be staged before a separate SendEnter.
	SendMessage(name, text string) error

	// SendEnter presses enter in the named session.
	SendEnter(name string) error

	// SendMessageWithConfirmation sends text, presses enter, and reports
	// whether the visible output changed within a short bounded wait.
	SendMessageWithConfirmation(name, text string, wait time.Duration) (bool, error)

	// CapturePane returns the last n lines of visible output.
	CapturePane(name string, lines int) (string, error)

	// IsRunning reports whether the named session still exists.
	IsRunning(name string) bool

	// ListHiveSessions returns every session recognised as hive-managed.
	ListHiveSessions() ([]SessionInfo, error)

	// Kill terminates the named session.
	Kill(name string) error
}
