package manager

import (
	"context"
	"fmt"
	"strings"

	"hive/internal/store"
)

const (
	signoffPassMarker = "E2E tests PASSED"
	signoffFailMarker = "E2E tests FAILED"
)

// checkFeatureSignOff implements spec §4.3.7: once every story of an
// in_progress requirement has merged, spawn a feature_test agent against
// its integration branch; once that agent's session reports a verdict,
// act on it exactly once.
func (d *Daemon) checkFeatureSignOff(ctx context.Context) error {
	if err := d.triggerSignOffs(ctx); err != nil {
		return err
	}
	return d.collectSignOffResults(ctx)
}

func (d *Daemon) triggerSignOffs(ctx context.Context) error {
	inProgress, err := d.store.ListRequirementsByStatus(ctx, store.ReqInProgress)
	if err != nil {
		return err
	}

	for _, req := range inProgress {
		branch := req.FeatureBranch
		if branch == "" {
			branch = req.TargetBranch
		}
		if branch == "" || branch == "main" {
			continue // no non-default integration branch; sign-off not applicable
		}

		stories, err := d.store.ListStoriesByRequirement(ctx, req.ID)
		if err != nil {
			d.log.Warn("sign-off: list stories failed", "requirement", req.ID, "error", err)
			continue
		}
		if len(stories) == 0 || !allMerged(stories) {
			continue
		}

		if err := d.store.UpdateRequirementStatus(ctx, req.ID, store.ReqSignOff); err != nil {
			d.log.Warn("sign-off: transition to sign_off failed", "requirement", req.ID, "error", err)
			continue
		}

		if d.scheduler == nil {
			continue
		}
		team, err := d.resolveTeamForRequirement(ctx, stories)
		if err != nil {
			d.log.Warn("sign-off: resolve team failed", "requirement", req.ID, "error", err)
			_ = d.store.UpdateRequirementStatus(ctx, req.ID, store.ReqInProgress)
			continue
		}

		if _, err := d.scheduler.SpawnFeatureTest(ctx, team, branch, req.ID, ""); err != nil {
			d.log.Warn("sign-off: feature_test spawn failed, reverting", "requirement", req.ID, "error", err)
			_ = d.store.UpdateRequirementStatus(ctx, req.ID, store.ReqInProgress)
			continue
		}
		if err := d.store.AppendLog(ctx, "", "", store.EventFeatureSignOffTriggered,
			fmt.Sprintf("requirement %s: feature_test agent spawned against %s", req.ID, branch), nil); err != nil {
			d.log.Warn("sign-off: log failed", "requirement", req.ID, "error", err)
		}
	}
	return nil
}

func allMerged(stories []store.Story) bool {
	for _, s := range stories {
		if s.Status != store.StoryMerged {
			return false
		}
	}
	return true
}

func (d *Daemon) resolveTeamForRequirement(ctx context.Context, stories []store.Story) (store.Team, error) {
	team, err := d.store.GetTeam(ctx, stories[0].TeamID)
	if err != nil {
		return store.Team{}, err
	}
	return *team, nil
}

// collectSignOffResults reads the one verdict each live feature_test
// agent ever emits, acting on it once: pass merges to main via the VCS
// connector and marks sign_off_passed; fail marks sign_off_failed and
// leaves it for a human.
func (d *Daemon) collectSignOffResults(ctx context.Context) error {
	agents, err := d.store.ListLiveAgents(ctx)
	if err != nil {
		return err
	}

	for _, a := range agents {
		if a.Role != store.RoleFeatureTest || a.SessionName == "" {
			continue
		}

		d.mu.Lock()
		already := d.signoffs[a.ID]
		d.mu.Unlock()
		if already {
			continue
		}

		output, err := d.supervisor.CapturePane(a.SessionName, d.cfg.CaptureLines)
		if err != nil {
			d.log.Warn("sign-off: capture failed", "session", a.SessionName, "error", err)
			continue
		}

		switch {
		case strings.Contains(output, signoffPassMarker):
			d.markSignOffHandled(a.ID)
			if err := d.handleSignOffPass(ctx, a); err != nil {
				d.log.Warn("sign-off: pass handling failed", "agent", a.ID, "error", err)
			}
		case strings.Contains(output, signoffFailMarker):
			d.markSignOffHandled(a.ID)
			if err := d.handleSignOffFail(ctx, a); err != nil {
				d.log.Warn("sign-off: fail handling failed", "agent", a.ID, "error", err)
			}
		}
	}
	return nil
}

func (d *Daemon) markSignOffHandled(agentID string) {
	d.mu.Lock()
	d.signoffs[agentID] = true
	d.mu.Unlock()
}

func (d *Daemon) handleSignOffPass(ctx context.Context, a store.Agent) error {
	requirementID := a.CurrentStoryID // feature_test agents record requirement id in current_story_id
	req, err := d.store.GetRequirement(ctx, requirementID)
	if err != nil {
		return err
	}

	if d.vcs != nil {
		stories, err := d.store.ListStoriesByRequirement(ctx, requirementID)
		if err == nil && len(stories) > 0 {
			team, terr := d.store.GetTeam(ctx, stories[0].TeamID)
			if terr == nil {
				branch := req.FeatureBranch
				if branch == "" {
					branch = req.TargetBranch
				}
				if err := d.vcs.MergeBranch(ctx, team.RepoPath, branch, "main"); err != nil {
					d.log.Warn("sign-off pass: merge to main failed", "requirement", requirementID, "error", err)
				}
			}
		}
	}

	if err := d.store.UpdateRequirementStatus(ctx, requirementID, store.ReqSignOffPassed); err != nil {
		return err
	}
	d.postSignOffReport(ctx, *req, "PASSED")
	return d.store.AppendLog(ctx, a.ID, "", store.EventFeatureSignOffPassed,
		fmt.Sprintf("requirement %s: feature sign-off passed", requirementID), nil)
}

func (d *Daemon) handleSignOffFail(ctx context.Context, a store.Agent) error {
	requirementID := a.CurrentStoryID
	req, err := d.store.GetRequirement(ctx, requirementID)
	if err != nil {
		return err
	}
	if err := d.store.UpdateRequirementStatus(ctx, requirementID, store.ReqSignOffFailed); err != nil {
		return err
	}
	d.postSignOffReport(ctx, *req, "FAILED")
	if err := d.store.AppendLog(ctx, a.ID, "", store.EventFeatureSignOffFailed,
		fmt.Sprintf("requirement %s: feature sign-off failed", requirementID), nil); err != nil {
		d.log.Warn("sign-off fail: log failed", "requirement", requirementID, "error", err)
	}
	if err := d.notifier.SignOffFailed(ctx, requirementID); err != nil {
		d.log.Warn("sign-off fail: notify failed", "requirement", requirementID, "error", err)
	}
	return nil
}

// postSignOffReport relays a feature sign-off's verdict to the PM
// provider's epic as a comment (spec §4.6's PostSignOffReport), when a PM
// connector is configured and the requirement has an epic to post against.
func (d *Daemon) postSignOffReport(ctx context.Context, req store.Requirement, verdict string) {
	if d.pm == nil || req.ExternalEpic == "" {
		return
	}
	report := fmt.Sprintf("feature sign-off %s for requirement %s (%s)", verdict, req.ID, req.Title)
	if err := d.pm.PostSignOffReport(ctx, req.ExternalEpic, report); err != nil {
		d.log.Warn("sign-off: post report failed", "requirement", req.ID, "error", err)
	}
}
