package manager

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"hive/git"
	"hive/internal/store"
)

// OrphanedWorktree is a worktree the scan found with no in-flight story
// referencing its branch, paired with the repo root a WorktreeManager
// needs to remove it.
type OrphanedWorktree struct {
	Path     string
	RepoRoot string
}

// OrphanReport lists resources the orphan-cleanup scan found unreferenced
// (spec §4.3.8). Nothing is removed until Clean is called with explicit
// confirmation.
type OrphanReport struct {
	StaleLockFiles    []string
	OrphanedSessions  []string // live sessions with no matching agent row
	OrphanedStoryRows []string // story ids assigned to a terminated agent
	OrphanedWorktrees []OrphanedWorktree
}

// checkOrphanCleanup is the tick-scheduled half of spec §4.3.8: it scans
// and logs what it finds every tick, but never removes anything itself --
// removal requires the explicit confirmation only the `cleanup` CLI verb
// or an operator-invoked Clean call can give.
func (d *Daemon) checkOrphanCleanup(ctx context.Context) error {
	report, err := d.ScanOrphans(ctx, d.cfg.WorktreeRoot)
	if err != nil {
		return err
	}
	if len(report.OrphanedSessions)+len(report.StaleLockFiles)+len(report.OrphanedStoryRows)+len(report.OrphanedWorktrees) == 0 {
		return nil
	}
	d.log.Info("orphan scan found unreferenced resources",
		"orphaned_sessions", len(report.OrphanedSessions),
		"stale_locks", len(report.StaleLockFiles),
		"orphaned_story_rows", len(report.OrphanedStoryRows),
		"orphaned_worktrees", len(report.OrphanedWorktrees))
	return nil
}

// ScanOrphans implements the read side of spec §4.3.8: worktrees under
// the repository area not referenced by any agent, lock files older than
// the stale threshold, terminal sessions with no matching agent row, and
// story rows pointing at a terminated agent.
func (d *Daemon) ScanOrphans(ctx context.Context, worktreeRoot string) (OrphanReport, error) {
	var report OrphanReport

	live, err := d.liveSessionSet(ctx)
	if err != nil {
		return report, err
	}

	agents, err := d.store.ListLiveAgents(ctx)
	if err != nil {
		return report, err
	}
	sessionOwners := make(map[string]bool, len(agents))
	for _, a := range agents {
		if a.SessionName != "" {
			sessionOwners[a.SessionName] = true
		}
	}
	for name := range live {
		if !sessionOwners[name] {
			report.OrphanedSessions = append(report.OrphanedSessions, name)
		}
	}

	for _, status := range allStoryStatuses() {
		stories, err := d.store.ListStoriesByStatus(ctx, "", status)
		if err != nil {
			return report, err
		}
		for _, s := range stories {
			if s.AssignedAgentID == "" {
				continue
			}
			agent, err := d.store.GetAgent(ctx, s.AssignedAgentID)
			if err != nil {
				continue
			}
			if agent.IsTerminated() {
				report.OrphanedStoryRows = append(report.OrphanedStoryRows, s.ID)
			}
		}
	}

	report.StaleLockFiles = scanStaleLocks(worktreeRoot, d.store.Lock())

	worktrees, err := d.scanOrphanWorktrees(ctx, worktreeRoot)
	if err != nil {
		d.log.Warn("orphan scan: worktree scan failed", "error", err)
	} else {
		report.OrphanedWorktrees = worktrees
	}

	return report, nil
}

// scanOrphanWorktrees lists every Team's git worktrees and reports the
// ones whose branch no in-flight Story references any more (spec
// §4.3.8's "git worktrees under the repository area not referenced by
// any agent"). A worktree outlives the agent that created it whenever a
// Story is merged, abandoned, or its agent terminated without a clean
// spin-down.
func (d *Daemon) scanOrphanWorktrees(ctx context.Context, worktreeRoot string) ([]OrphanedWorktree, error) {
	if worktreeRoot == "" {
		return nil, nil
	}
	teams, err := d.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]map[string]bool, len(teams)) // teamID -> branch -> referenced
	for _, status := range inFlightStoryStatuses() {
		stories, err := d.store.ListStoriesByStatus(ctx, "", status)
		if err != nil {
			return nil, err
		}
		for _, s := range stories {
			if s.Branch == "" {
				continue
			}
			if referenced[s.TeamID] == nil {
				referenced[s.TeamID] = make(map[string]bool)
			}
			referenced[s.TeamID][s.Branch] = true
		}
	}

	var orphaned []OrphanedWorktree
	for _, team := range teams {
		repoRoot := filepath.Join(worktreeRoot, team.RepoPath)
		wm := git.NewWorktreeManager(repoRoot, ".worktrees", "main")
		worktrees, err := wm.ListWorktrees()
		if err != nil {
			d.log.Warn("orphan scan: list worktrees failed", "team", team.ID, "error", err)
			continue
		}
		for _, wt := range worktrees {
			if wt.Bare || wt.Branch == "" || wt.Branch == "main" {
				continue
			}
			if referenced[team.ID][wt.Branch] {
				continue
			}
			if dirty, err := wm.HasUncommittedChanges(wt.Path); err != nil {
				d.log.Warn("orphan scan: status check failed", "worktree", wt.Path, "error", err)
				continue
			} else if dirty {
				d.log.Warn("orphan scan: skipping worktree with uncommitted changes", "worktree", wt.Path)
				continue
			}
			orphaned = append(orphaned, OrphanedWorktree{Path: wt.Path, RepoRoot: repoRoot})
		}
	}
	return orphaned, nil
}

// inFlightStoryStatuses are the statuses whose worktree must stay alive;
// a merged or draft story has either already landed or never claimed one.
func inFlightStoryStatuses() []store.StoryStatus {
	return []store.StoryStatus{
		store.StoryInProgress, store.StoryReview, store.StoryPRSubmitted,
		store.StoryQAFailed, store.StoryQA,
	}
}

func allStoryStatuses() []store.StoryStatus {
	return []store.StoryStatus{
		store.StoryDraft, store.StoryEstimated, store.StoryPlanned, store.StoryInProgress,
		store.StoryReview, store.StoryPRSubmitted, store.StoryQAFailed, store.StoryQA, store.StoryMerged,
	}
}

// scanStaleLocks walks worktreeRoot for *.lock files older than the
// store's own stale-lock threshold (spec §4.1, §4.3.8 share one notion of
// staleness).
func scanStaleLocks(root string, _ *store.FileLock) []string {
	var stale []string
	if root == "" {
		return stale
	}
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".lock" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if time.Since(info.ModTime()) > store.StaleLockThreshold {
			stale = append(stale, path)
		}
		return nil
	})
	return stale
}

// Clean removes exactly the resources named in report, requiring the
// caller to have already obtained explicit confirmation (spec §4.3.8:
// "with explicit confirmation each is removed").
func (d *Daemon) Clean(ctx context.Context, report OrphanReport) []error {
	var errs []error

	for _, name := range report.OrphanedSessions {
		if err := d.supervisor.Kill(name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, path := range report.StaleLockFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	for _, storyID := range report.OrphanedStoryRows {
		if err := d.store.ClearStoryAssignment(ctx, storyID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, wt := range report.OrphanedWorktrees {
		wm := git.NewWorktreeManager(wt.RepoRoot, ".worktrees", "main")
		if err := wm.RemoveWorktree(wt.Path, true); err != nil {
			errs = append(errs, err)
			continue
		}
		_ = wm.PruneWorktrees()
	}

	return errs
}
