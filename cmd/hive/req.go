package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"hive/internal/scheduler"
	"hive/internal/session"
	"hive/internal/store"
)

// cmdReq implements `hive req`: submits a requirement and, if no Tech Lead
// is currently live, spawns one to start planning (spec §6).
func cmdReq(args []string) error {
	fs := flag.NewFlagSet("req", flag.ContinueOnError)
	submitter := fs.String("submitter", "", "who submitted this requirement")
	epic := fs.String("epic", "", "external epic key, if importing")
	target := fs.String("target-branch", "main", "default integration branch for this requirement's stories")
	feature := fs.String("feature-branch", "", "integration branch all of this requirement's stories merge into, if not target")
	godmode := fs.Bool("godmode", false, "force the premium model for every agent working this requirement")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if fs.NArg() != 1 {
		return exitErr{code: 1, err: fmt.Errorf(`usage: hive req "<text>" or hive req <epic-url>`)}
	}
	text := fs.Arg(0)

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()

		title, description, epicKey := text, text, *epic
		if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
			issue, err := importEpic(ctx, h, text)
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			title, description, epicKey = issue.Title, issue.Key, issue.Key
		} else if idx := strings.Index(text, "\n"); idx > 0 {
			title = text[:idx]
		} else if len(title) > 80 {
			title = title[:80]
		}

		r := &store.Requirement{
			Title:         title,
			Description:   description,
			Submitter:     *submitter,
			ExternalEpic:  epicKey,
			FeatureBranch: *feature,
			TargetBranch:  *target,
			Godmode:       *godmode,
		}
		if err := h.store.CreateRequirement(ctx, r); err != nil {
			return exitErr{code: 2, err: err}
		}
		if err := h.store.UpdateRequirementStatus(ctx, r.ID, store.ReqPlanning); err != nil {
			return exitErr{code: 2, err: err}
		}
		if epicKey != "" && epicKey == *epic {
			// an already-known epic key was passed directly (not fetched via
			// importEpic's URL path), so record it as ingested rather than created.
			if err := h.store.AppendLog(ctx, "", "", store.EventJiraEpicIngested,
				fmt.Sprintf("requirement %s: epic %s ingested", r.ID, epicKey), nil); err != nil {
				h.log.Warn("req: log failed", "error", err)
			}
		} else if epicKey != "" {
			if err := h.store.AppendLog(ctx, "", "", store.EventJiraEpicIngested,
				fmt.Sprintf("requirement %s: epic %s imported from %s", r.ID, epicKey, text), nil); err != nil {
				h.log.Warn("req: log failed", "error", err)
			}
		}

		fmt.Printf("created requirement %s: %s\n", r.ID, title)

		if err := ensureTechLead(ctx, h, r.ID, description); err != nil {
			h.log.Warn("req: could not ensure a live tech lead", "error", err)
		}
		return nil
	})
}

// ensureTechLead spawns the process-wide Tech Lead singleton if none is
// currently live (spec §3: "one tech_lead exists process-wide"), handing
// it the requirement it is about to plan.
func ensureTechLead(ctx context.Context, h *hiveCtx, requirementID, description string) error {
	agents, err := h.store.ListAgentsByRole(ctx, store.RoleTechLead)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.SessionName != "" {
			return nil // already live; nothing to do
		}
	}

	teams, err := h.store.ListTeams(ctx)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		return fmt.Errorf("no teams registered; run 'hive add-repo' first")
	}

	sup := session.NewTmux("hive")
	sched := scheduler.New(h.store, sup, h.cfg.schedulerConfig(h.root), slog.Default())
	_, err = sched.SpawnTechLead(ctx, teams[0], requirementID, description)
	return err
}
