package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"hive/internal/store"
)

// cmdApprovals implements `hive approvals list|show|approve|deny`, the
// human side of resolving escalations (spec §4.3.2, §6).
func cmdApprovals(args []string) error {
	if len(args) == 0 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive approvals <list|show|approve|deny> ...")}
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return approvalsList(rest)
	case "show":
		return approvalsShow(rest)
	case "approve":
		return approvalsResolve(rest, "approved")
	case "deny":
		return approvalsResolve(rest, "denied")
	default:
		return exitErr{code: 1, err: fmt.Errorf("unknown approvals subcommand %q", sub)}
	}
}

func approvalsList(args []string) error {
	fs := flag.NewFlagSet("approvals list", flag.ContinueOnError)
	all := fs.Bool("all", false, "include agent-targeted messages alongside human escalations")
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		pending, err := h.store.ListPendingEscalations(ctx)
		if err != nil {
			return exitErr{code: 2, err: err}
		}

		var filtered []store.Escalation
		for _, e := range pending {
			if !*all && !e.IsHumanTargeted() {
				continue
			}
			filtered = append(filtered, e)
		}

		if *asJSON {
			enc, err := json.MarshalIndent(filtered, "", "  ")
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			fmt.Println(string(enc))
			return nil
		}
		for _, e := range filtered {
			fmt.Printf("%s\tfrom=%s\tstory=%s\t%s\n", e.ID, e.FromAgentID, e.StoryID, e.Reason)
		}
		return nil
	})
}

func approvalsShow(args []string) error {
	if len(args) != 1 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive approvals show <escalation-id>")}
	}
	id := args[0]

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		pending, err := h.store.ListPendingEscalations(ctx)
		if err != nil {
			return exitErr{code: 2, err: err}
		}
		for _, e := range pending {
			if e.ID == id {
				fmt.Printf("id:       %s\nstory:    %s\nfrom:     %s\nto:       %s\nreason:   %s\nstatus:   %s\n",
					e.ID, e.StoryID, e.FromAgentID, e.ToAgentID, e.Reason, e.Status)
				return nil
			}
		}
		return exitErr{code: 1, err: fmt.Errorf("no pending escalation %q", id)}
	})
}

func approvalsResolve(args []string, resolution string) error {
	fs := flag.NewFlagSet("approvals "+resolution, flag.ContinueOnError)
	note := fs.String("note", "", "resolution note appended to the recorded resolution")
	unblockAgent := fs.String("unblock-agent", "", "agent id to return to idle after resolving (e.g. a blocked Tech Lead)")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if fs.NArg() != 1 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive approvals %s <escalation-id>", resolution)}
	}
	id := fs.Arg(0)

	text := resolution
	if *note != "" {
		text = resolution + ": " + *note
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		if err := h.store.ResolveEscalation(ctx, id, text); err != nil {
			return exitErr{code: 2, err: err}
		}
		if *unblockAgent != "" {
			if err := h.store.UpdateAgentStatus(ctx, *unblockAgent, store.AgentIdle); err != nil {
				h.log.Warn("approvals resolve: unblock failed", "agent", *unblockAgent, "error", err)
			}
		}
		fmt.Printf("%s %s\n", id, resolution)
		return nil
	})
}
