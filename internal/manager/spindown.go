package manager

import (
	"context"
	"time"

	"hive/internal/store"
)

// checkSpinDown implements spec §4.3.4: retire agents whose work is done,
// and workers left idle once the board is dry.
func (d *Daemon) checkSpinDown(ctx context.Context) error {
	if err := d.spinDownMergedStories(ctx); err != nil {
		return err
	}
	return d.spinDownIdleWorkers(ctx)
}

// spinDownMergedStories handles merged-story spin-down: an agent whose
// assigned story just merged, and who has no other non-{merged,draft}
// work, is told it's done and terminated; an agent with other active
// work merely sheds the merged assignment.
func (d *Daemon) spinDownMergedStories(ctx context.Context) error {
	merged, err := d.store.ListStoriesByStatus(ctx, "", store.StoryMerged)
	if err != nil {
		return err
	}

	for _, s := range merged {
		if s.AssignedAgentID == "" {
			continue
		}
		agent, err := d.store.GetAgent(ctx, s.AssignedAgentID)
		if err != nil {
			d.log.Warn("spin-down: get agent failed", "agent", s.AssignedAgentID, "error", err)
			continue
		}
		if agent.IsTerminated() {
			continue
		}

		remaining, err := d.store.CountAssignedStories(ctx, agent.ID, s.ID)
		if err != nil {
			d.log.Warn("spin-down: count assigned failed", "agent", agent.ID, "error", err)
			continue
		}

		if remaining > 0 {
			if err := d.store.ClearStoryAssignment(ctx, s.ID); err != nil {
				d.log.Warn("spin-down: clear assignment failed", "story", s.ID, "error", err)
			}
			continue
		}

		d.drainAndTerminate(ctx, agent, "congratulations, spinning down")
	}
	return nil
}

// spinDownIdleWorkers handles idle-worker spin-down: once nothing remains
// in an active story status, a working non-tech-lead is drained and
// terminated.
func (d *Daemon) spinDownIdleWorkers(ctx context.Context) error {
	activeStatuses := []store.StoryStatus{
		store.StoryPlanned, store.StoryInProgress, store.StoryReview,
		store.StoryQA, store.StoryQAFailed, store.StoryPRSubmitted,
	}
	for _, status := range activeStatuses {
		stories, err := d.store.ListStoriesByStatus(ctx, "", status)
		if err != nil {
			return err
		}
		if len(stories) > 0 {
			return nil // board is not dry; nothing to spin down
		}
	}

	agents, err := d.store.ListLiveAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.Role == store.RoleTechLead || a.Status != store.AgentWorking {
			continue
		}
		d.drainAndTerminate(ctx, &a, "board is clear, spinning down")
	}
	return nil
}

func (d *Daemon) drainAndTerminate(ctx context.Context, agent *store.Agent, message string) {
	if agent.SessionName != "" && d.supervisor.IsRunning(agent.SessionName) {
		if err := d.supervisor.SendMessage(agent.SessionName, message); err != nil {
			d.log.Warn("spin-down: send message failed", "session", agent.SessionName, "error", err)
		}
		_ = d.supervisor.SendEnter(agent.SessionName)

		time.Sleep(d.cfg.DrainInterval)

		if err := d.supervisor.Kill(agent.SessionName); err != nil {
			d.log.Warn("spin-down: kill session failed", "session", agent.SessionName, "error", err)
		}
	}

	if err := d.store.TerminateAgent(ctx, agent.ID, message); err != nil {
		d.log.Warn("spin-down: terminate agent failed", "agent", agent.ID, "error", err)
	}
}
