package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"hive/git"
	"hive/internal/store"
)

// checkApprovedPRMerge implements spec §4.3.5: squash-merge every
// approved pull request via the VCS connector, falling back to a local
// git merge of the branch onto the team's base branch when no VCS
// connector is configured or the pull request carries no external number
// (the "local-only fallback path" spec §4.3.5
// and `git.WorktreeManager.MergeStoryBranch` both describe).
func (d *Daemon) checkApprovedPRMerge(ctx context.Context) error {
	approved, err := d.store.ListPRsByStatus(ctx, "", store.PRApproved)
	if err != nil {
		return err
	}

	for _, pr := range approved {
		team, err := d.store.GetTeam(ctx, pr.TeamID)
		if err != nil {
			d.log.Warn("merge check: get team failed", "pr", pr.ID, "error", err)
			continue
		}

		if d.vcs != nil && pr.ExternalNo != 0 {
			if err := d.vcs.MergePR(ctx, team.RepoPath, pr.ExternalNo, true, true); err != nil {
				d.log.Warn("merge check: VCS merge failed, will retry next tick", "pr", pr.ID, "error", err)
				continue
			}
		} else {
			if err := d.mergeLocally(team, pr); err != nil {
				d.log.Warn("merge check: local merge failed, will retry next tick", "pr", pr.ID, "error", err)
				continue
			}
		}

		if err := d.store.MergePR(ctx, pr.ID, pr.StoryID); err != nil {
			d.log.Warn("merge check: store merge failed after VCS merge succeeded", "pr", pr.ID, "error", err)
			continue
		}

		if d.pm != nil {
			story, err := d.store.GetStory(ctx, pr.StoryID)
			if err == nil && story.ExternalIssueKey != "" {
				if err := d.pm.TransitionStory(ctx, story.ExternalIssueKey, string(store.StoryMerged), storyStatusMapping); err != nil {
					d.log.Warn("merge check: PM sync failed", "story", story.ID, "error", err)
				}
			}
		}

		if d.metrics != nil {
			d.metrics.MergeQueueDepth.WithLabelValues(pr.TeamID).Dec()
		}
	}

	return nil
}

// mergeLocally lands an approved PullRequest's branch with a plain git
// squash-merge and pushes the result, for teams with no VCS connector
// configured to do it through a hosted merge API.
func (d *Daemon) mergeLocally(team store.Team, pr store.PullRequest) error {
	if pr.Branch == "" {
		return fmt.Errorf("pr %s has no recorded branch", pr.ID)
	}
	repoRoot := filepath.Join(d.cfg.WorktreeRoot, team.RepoPath)
	wm := git.NewWorktreeManager(repoRoot, ".worktrees", "main")
	if err := wm.MergeStoryBranch(pr.Branch, fmt.Sprintf("merge %s", pr.Branch)); err != nil {
		return err
	}
	return wm.PushBaseBranch()
}
