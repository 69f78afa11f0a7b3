package manager

import (
	"context"
	"fmt"
	"time"

	"hive/internal/store"
)

// checkStalledPlanningHandoff implements spec §4.3.3: stories stuck in
// estimated past stuck_threshold_ms indicate the Tech Lead never closed
// the handoff to planned. Grouped per requirement, a two-stage policy
// first nudges, then -- if the same group signature persists past
// HandoffRetryDelay -- the manager promotes the group itself.
func (d *Daemon) checkStalledPlanningHandoff(ctx context.Context) error {
	estimated, err := d.store.ListStoriesByStatus(ctx, "", store.StoryEstimated)
	if err != nil {
		return err
	}

	byReq := groupByRequirement(estimated)
	now := time.Now().UTC()

	for reqID, stories := range byReq {
		latest := latestUpdate(stories)
		if now.Sub(latest) < d.cfg.StuckThreshold {
			continue
		}

		sig := fmt.Sprintf("%d:%s", len(stories), latest.Format(time.RFC3339Nano))

		d.mu.Lock()
		track, ok := d.handoffs[reqID]
		if !ok || track.signature != sig {
			track = &handoffTrack{signature: sig, firstSeen: now, nudged: true}
			d.handoffs[reqID] = track
			d.mu.Unlock()

			if err := d.nudgeTechLead(ctx, reqID); err != nil {
				d.log.Warn("planning handoff: nudge failed", "requirement", reqID, "error", err)
			}
			continue
		}

		alreadyNudged := track.nudged
		retryDue := now.Sub(track.firstSeen) >= d.cfg.HandoffRetryDelay
		d.mu.Unlock()

		if !alreadyNudged {
			if err := d.nudgeTechLead(ctx, reqID); err != nil {
				d.log.Warn("planning handoff: nudge failed", "requirement", reqID, "error", err)
			}
			d.mu.Lock()
			track.nudged = true
			d.mu.Unlock()
			continue
		}

		if !retryDue {
			continue
		}

		if err := d.promoteHandoffGroup(ctx, reqID, stories); err != nil {
			d.log.Warn("planning handoff: auto-promote failed", "requirement", reqID, "error", err)
			continue
		}

		d.mu.Lock()
		delete(d.handoffs, reqID)
		d.mu.Unlock()
	}

	return nil
}

func groupByRequirement(stories []store.Story) map[string][]store.Story {
	out := make(map[string][]store.Story)
	for _, s := range stories {
		out[s.RequirementID] = append(out[s.RequirementID], s)
	}
	return out
}

func latestUpdate(stories []store.Story) time.Time {
	var latest time.Time
	for _, s := range stories {
		if s.UpdatedAt.After(latest) {
			latest = s.UpdatedAt
		}
	}
	return latest
}

func (d *Daemon) nudgeTechLead(ctx context.Context, reqID string) error {
	agents, err := d.store.ListAgentsByRole(ctx, store.RoleTechLead)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.SessionName == "" || !d.supervisor.IsRunning(a.SessionName) {
			continue
		}
		return d.nudge(ctx, a.SessionName, fmt.Sprintf("requirement %s has stories stuck in estimated; please finish planning and hand off", reqID))
	}
	return nil
}

// promoteHandoffGroup is the manager's own recovery action: promote every
// story in the group to planned, flip the requirement to planned, emit
// PLANNING_COMPLETED, and re-run the scheduler's scaling/assign sequence.
// Assignment errors are folded into one escalation rather than aborting
// the recovery (spec §4.3.3).
func (d *Daemon) promoteHandoffGroup(ctx context.Context, reqID string, stories []store.Story) error {
	for _, s := range stories {
		if err := d.store.UpdateStoryStatus(ctx, s.ID, store.StoryPlanned, false, "auto-promoted after stalled planning handoff"); err != nil {
			return err
		}
	}

	if err := d.store.UpdateRequirementStatus(ctx, reqID, store.ReqPlanned); err != nil {
		return err
	}
	if err := d.store.AppendLog(ctx, "", "", store.EventPlanningCompleted, fmt.Sprintf("requirement %s auto-promoted out of stalled handoff", reqID), nil); err != nil {
		d.log.Warn("planning handoff: log failed", "error", err)
	}

	if d.scheduler == nil {
		return nil
	}
	if err := d.scheduler.CheckScaling(ctx); err != nil {
		d.log.Warn("planning handoff: checkScaling failed", "error", err)
	}
	if err := d.scheduler.CheckMergeQueue(ctx); err != nil {
		d.log.Warn("planning handoff: checkMergeQueue failed", "error", err)
	}
	result, err := d.scheduler.AssignStories(ctx)
	if err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		esc := &store.Escalation{
			Reason: fmt.Sprintf("auto-assignment after handoff recovery for %s had %d error(s): %v", reqID, len(result.Errors), result.Errors),
		}
		created, err := d.store.CreateEscalation(ctx, esc, d.cfg.EscalationCooldown)
		if err != nil {
			d.log.Warn("planning handoff: escalation create failed", "error", err)
		} else if created {
			if nerr := d.notifier.EscalationCreated(ctx, esc.ID, esc.Reason); nerr != nil {
				d.log.Warn("planning handoff: notify failed", "error", nerr)
			}
		}
	}
	return nil
}
