package manager

import (
	"context"

	"hive/internal/store"
)

// checkOrphanedReviewer implements spec §4.3.6: a PR left `reviewing`
// whose recorded reviewer's session is gone, or whose agent has been
// terminated, is reset to queued so a fresh QA can claim it.
func (d *Daemon) checkOrphanedReviewer(ctx context.Context) error {
	reviewing, err := d.store.ListPRsByStatus(ctx, "", store.PRReviewing)
	if err != nil {
		return err
	}
	if len(reviewing) == 0 {
		return nil
	}

	live, err := d.liveSessionSet(ctx)
	if err != nil {
		return err
	}

	for _, pr := range reviewing {
		if pr.ReviewerID == "" {
			continue
		}
		reviewer, err := d.store.GetAgent(ctx, pr.ReviewerID)
		if err != nil {
			d.log.Warn("orphaned reviewer check: get agent failed", "pr", pr.ID, "error", err)
			continue
		}

		orphaned := reviewer.IsTerminated() || reviewer.SessionName == "" || !live[reviewer.SessionName]
		if !orphaned {
			continue
		}

		if err := d.store.UpdatePRStatus(ctx, pr.ID, store.PRQueued, ""); err != nil {
			d.log.Warn("orphaned reviewer check: reset to queued failed", "pr", pr.ID, "error", err)
		}
	}

	return nil
}
