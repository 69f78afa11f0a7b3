package main

import (
	"context"
	"flag"
	"fmt"

	"hive/internal/scheduler"
	"hive/internal/session"
	"hive/internal/store"
)

// cmdAssign implements `hive assign`: a single invocation of the
// scheduler's assignStories pass (spec §4.2), normally also triggered by
// the Manager Daemon's tick but callable on demand.
func cmdAssign(args []string) error {
	fs := flag.NewFlagSet("assign", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report what would be assigned without spawning or claiming anything")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		sup := session.NewTmux("hive")
		sched := scheduler.New(h.store, sup, h.cfg.schedulerConfig(h.root), h.log)

		if *dryRun {
			candidates, err := h.store.ListStoriesByStatus(ctx, "", store.StoryPlanned)
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			fmt.Printf("%d stories are ready for assignment\n", len(candidates))
			for _, st := range candidates {
				fmt.Printf("  %s\t%s\n", st.ID, st.Title)
			}
			return nil
		}

		result, err := sched.AssignStories(ctx)
		if err != nil {
			return exitErr{code: 2, err: err}
		}
		fmt.Printf("assigned %d stories (%d duplicate attempts blocked)\n", result.Assigned, result.PreventedDuplicates)
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}

		if err := sched.CheckScaling(ctx); err != nil {
			h.log.Warn("assign: scaling check failed", "error", err)
		}
		if err := sched.CheckMergeQueue(ctx); err != nil {
			h.log.Warn("assign: merge queue check failed", "error", err)
		}
		return nil
	})
}
