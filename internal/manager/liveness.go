package manager

import (
	"context"
	"time"
)

// checkLiveness implements spec §4.3.1: compare every live agent's
// last_seen against StaleThreshold and reconcile against the Session
// Supervisor's live-session set. Its only effect is dropping the in-memory
// stuck-check tracker of an agent whose session has vanished; the agent
// row is left for the orphan-cleanup check (4.3.8), and a stale agent
// whose session is still live is not acted on.
func (d *Daemon) checkLiveness(ctx context.Context) error {
	agents, err := d.store.ListLiveAgents(ctx)
	if err != nil {
		return err
	}

	live, err := d.liveSessionSet(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range agents {
		if a.SessionName == "" {
			continue
		}
		stale := now.Sub(a.LastSeen) > d.cfg.StaleThreshold
		sessionGone := !live[a.SessionName]

		if !stale && !sessionGone {
			continue
		}

		// Drop the in-memory tracker only when the session is gone;
		// stuck-check bookkeeping for it is meaningless then.
		if sessionGone {
			delete(d.sessions, a.SessionName)
		}
	}

	return nil
}
