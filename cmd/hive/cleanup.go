package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"hive/internal/manager"
	"hive/internal/metrics"
	"hive/internal/notify"
	"hive/internal/scheduler"
	"hive/internal/session"
)

// cmdCleanup implements `hive cleanup`: runs the same orphan scan the
// Manager Daemon's tick performs, but only removes what it finds when the
// operator explicitly confirms (spec §4.3.8 — the tick logs, it never
// deletes).
func cmdCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report what would be removed without removing it")
	force := fs.Bool("force", false, "skip the confirmation prompt")
	worktrees := fs.Bool("worktrees", true, "include stale worktrees/lock files")
	sessions := fs.Bool("sessions", true, "include orphaned sessions")
	assignments := fs.Bool("assignments", true, "include story rows orphaned by a terminated agent")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		sup := session.NewTmux("hive")
		sched := scheduler.New(h.store, sup, h.cfg.schedulerConfig(h.root), h.log)
		mcfg := h.cfg.managerConfig(h.root)
		d := manager.New(h.store, sup, sched, nil, nil, metrics.New(), notify.NopNotifier{}, mcfg, h.log)

		report, err := d.ScanOrphans(ctx, mcfg.WorktreeRoot)
		if err != nil {
			return exitErr{code: 2, err: err}
		}
		if !*worktrees {
			report.StaleLockFiles = nil
			report.OrphanedWorktrees = nil
		}
		if !*sessions {
			report.OrphanedSessions = nil
		}
		if !*assignments {
			report.OrphanedStoryRows = nil
		}

		total := len(report.StaleLockFiles) + len(report.OrphanedSessions) + len(report.OrphanedStoryRows) + len(report.OrphanedWorktrees)
		if total == 0 {
			fmt.Println("nothing to clean up")
			return nil
		}

		fmt.Printf("found %d orphaned resources:\n", total)
		for _, p := range report.StaleLockFiles {
			fmt.Printf("  stale lock:    %s\n", p)
		}
		for _, s := range report.OrphanedSessions {
			fmt.Printf("  orphan session: %s\n", s)
		}
		for _, s := range report.OrphanedStoryRows {
			fmt.Printf("  orphan story:   %s\n", s)
		}
		for _, w := range report.OrphanedWorktrees {
			fmt.Printf("  orphan worktree: %s\n", w.Path)
		}

		if *dryRun {
			return nil
		}
		if !*force && !confirm(fmt.Sprintf("remove these %d resources?", total)) {
			fmt.Println("aborted")
			return nil
		}

		errs := d.Clean(ctx, report)
		for _, e := range errs {
			h.log.Warn("cleanup: removal failed", "error", e)
		}
		fmt.Printf("removed %d resources (%d failures)\n", total-len(errs), len(errs))
		return nil
	})
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}
