package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"hive/git"
	"hive/internal/store"
)

// agentBySession resolves the calling agent from the tmux session name its
// own prompt told it (the only identity an agent-facing command has to
// go on -- spec §6's `my-stories [session]`).
func agentBySession(ctx context.Context, h *hiveCtx, sessionName string) (*store.Agent, error) {
	agents, err := h.store.ListLiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if agents[i].SessionName == sessionName {
			return &agents[i], nil
		}
	}
	return nil, fmt.Errorf("no live agent with session %q", sessionName)
}

// cmdMyStories implements `hive my-stories` both as a listing (the calling
// agent's session name is a required positional arg; there is no form
// without it) and as the claim|complete|refactor agent-facing transitions
// (spec §6).
func cmdMyStories(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "claim":
			return myStoriesTransition(args[1:], store.StoryInProgress, false, "claimed by agent", true)
		case "complete":
			return myStoriesTransition(args[1:], store.StoryReview, false, "marked complete by agent", false)
		case "refactor":
			return myStoriesTransition(args[1:], store.StoryInProgress, true, "picked up for refactor after qa failure", false)
		}
	}
	return cmdMyStoriesList(args)
}

func cmdMyStoriesList(args []string) error {
	fs := flag.NewFlagSet("my-stories", flag.ContinueOnError)
	all := fs.Bool("all", false, "include merged and draft stories")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	var positional []string
	for fs.NArg() > 0 {
		positional = append(positional, fs.Arg(0))
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return exitErr{code: 1, err: err}
		}
	}
	if len(positional) != 1 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive my-stories <session> [--all]")}
	}
	session := positional[0]

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		agent, err := agentBySession(ctx, h, session)
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		stories, err := h.store.ListStoriesForAgent(ctx, agent.ID)
		if err != nil {
			return exitErr{code: 2, err: err}
		}
		for _, st := range stories {
			if !*all && (st.Status == store.StoryMerged || st.Status == store.StoryDraft) {
				continue
			}
			fmt.Printf("%s\t%s\t%s\n", st.ID, st.Status, st.Title)
		}
		return nil
	})
}

func myStoriesTransition(args []string, to store.StoryStatus, allowBackward bool, note string, claim bool) error {
	fs := flag.NewFlagSet("my-stories "+string(to), flag.ContinueOnError)
	sessionName := fs.String("session", "", "the calling agent's tmux session name")
	storyID := fs.String("story", "", "story id")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if *sessionName == "" || *storyID == "" {
		return exitErr{code: 1, err: fmt.Errorf("--session and --story are required")}
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		agent, err := agentBySession(ctx, h, *sessionName)
		if err != nil {
			return exitErr{code: 1, err: err}
		}

		if claim {
			claimed, err := h.store.ClaimStory(ctx, *storyID, agent.ID)
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			if !claimed {
				return exitErr{code: 1, err: fmt.Errorf("story %s is no longer available to claim", *storyID)}
			}

			story, err := h.store.GetStory(ctx, *storyID)
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			if err := createStoryWorktree(h, story); err != nil {
				h.log.Warn("claim: worktree creation failed", "story", *storyID, "error", err)
			}

			fmt.Printf("claimed %s\n", *storyID)
			return nil
		}

		if err := h.store.UpdateStoryStatus(ctx, *storyID, to, allowBackward, note); err != nil {
			return exitErr{code: 2, err: err}
		}
		fmt.Printf("%s -> %s\n", *storyID, to)
		return nil
	})
}

// cmdProgress implements `hive progress <story> -m ... [--done]`.
func cmdProgress(args []string) error {
	fs := flag.NewFlagSet("progress", flag.ContinueOnError)
	message := fs.String("m", "", "progress update text")
	done := fs.Bool("done", false, "also move the story to review")
	sessionName := fs.String("session", "", "the calling agent's tmux session name")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	var positional []string
	for fs.NArg() > 0 {
		positional = append(positional, fs.Arg(0))
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return exitErr{code: 1, err: err}
		}
	}
	if len(positional) != 1 || *message == "" {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive progress <story> -m \"...\" [--done]")}
	}
	storyID := positional[0]

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		var agentID string
		if *sessionName != "" {
			if agent, err := agentBySession(ctx, h, *sessionName); err == nil {
				agentID = agent.ID
			}
		}
		if err := h.store.AppendLog(ctx, agentID, storyID, store.EventStoryProgressUpdate, *message, nil); err != nil {
			return exitErr{code: 2, err: err}
		}
		if *done {
			if err := h.store.UpdateStoryStatus(ctx, storyID, store.StoryReview, false, *message); err != nil {
				return exitErr{code: 2, err: err}
			}
		}
		fmt.Println("progress recorded")
		return nil
	})
}

// cmdApproach implements `hive approach <story> ...`, recording an
// implementation-approach note before work starts.
func cmdApproach(args []string) error {
	fs := flag.NewFlagSet("approach", flag.ContinueOnError)
	sessionName := fs.String("session", "", "the calling agent's tmux session name")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if fs.NArg() < 2 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive approach <story> <description...>")}
	}
	storyID := fs.Arg(0)
	text := joinArgs(fs.Args()[1:])

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		var agentID string
		if *sessionName != "" {
			if agent, err := agentBySession(ctx, h, *sessionName); err == nil {
				agentID = agent.ID
			}
		}
		if err := h.store.AppendLog(ctx, agentID, storyID, store.EventStoryStarted, text, nil); err != nil {
			return exitErr{code: 2, err: err}
		}
		fmt.Println("approach recorded")
		return nil
	})
}

// createStoryWorktree gives a freshly-claimed story its own git worktree
// and records the resulting branch name, so parallel agents on the same
// team never collide in a shared working tree (spec §4.2).
func createStoryWorktree(h *hiveCtx, story *store.Story) error {
	team, err := h.store.GetTeam(context.Background(), story.TeamID)
	if err != nil {
		return err
	}
	repoRoot := filepath.Join(h.root, h.cfg.ReposDir, team.RepoPath)
	wm := git.NewWorktreeManager(repoRoot, ".worktrees", "main")

	branch := git.GenerateBranchName("story/", story.ID, story.Title)
	path, err := wm.CreateStoryWorktree(story.ID, branch)
	if err != nil {
		return err
	}
	// A re-claim (e.g. refactor after qa_failed) reuses the same worktree;
	// bring it up to date with the base branch before the agent resumes.
	if err := wm.UpdateWorktree(path); err != nil {
		h.log.Warn("claim: worktree rebase onto base failed", "story", story.ID, "error", err)
	}
	return h.store.UpdateStoryBranch(context.Background(), story.ID, branch)
}

func joinArgs(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

// cmdMsg implements `hive msg send|outbox`, reusing the Escalation table's
// from/to-agent columns for agent-to-agent messages: a message is an
// escalation whose ToAgentID is set (so IsHumanTargeted is false), kept
// distinct from `hive escalate`'s human-targeted rows.
func cmdMsg(args []string) error {
	if len(args) == 0 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive msg <send|outbox> ...")}
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "send":
		fs := flag.NewFlagSet("msg send", flag.ContinueOnError)
		from := fs.String("session", "", "the sending agent's tmux session name")
		to := fs.String("to", "", "recipient agent id")
		if err := fs.Parse(rest); err != nil {
			return exitErr{code: 1, err: err}
		}
		if fs.NArg() != 1 || *to == "" {
			return exitErr{code: 1, err: fmt.Errorf("usage: hive msg send --to <agent-id> \"text\"")}
		}
		text := fs.Arg(0)

		return withHiveContext(func(h *hiveCtx) error {
			ctx := context.Background()
			var fromID string
			if *from != "" {
				if agent, err := agentBySession(ctx, h, *from); err == nil {
					fromID = agent.ID
				}
			}
			esc := &store.Escalation{FromAgentID: fromID, ToAgentID: *to, Reason: text}
			if _, err := h.store.CreateEscalation(ctx, esc, 0); err != nil {
				return exitErr{code: 2, err: err}
			}
			fmt.Println("sent")
			return nil
		})

	case "outbox":
		fs := flag.NewFlagSet("msg outbox", flag.ContinueOnError)
		sessionName := fs.String("session", "", "the calling agent's tmux session name")
		if err := fs.Parse(rest); err != nil {
			return exitErr{code: 1, err: err}
		}

		return withHiveContext(func(h *hiveCtx) error {
			ctx := context.Background()
			var agentID string
			if *sessionName != "" {
				if agent, err := agentBySession(ctx, h, *sessionName); err == nil {
					agentID = agent.ID
				}
			}
			pending, err := h.store.ListPendingEscalations(ctx)
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			for _, e := range pending {
				if e.IsHumanTargeted() {
					continue
				}
				if agentID != "" && e.ToAgentID != agentID {
					continue
				}
				fmt.Printf("%s\tfrom=%s\t%s\n", e.ID, e.FromAgentID, e.Reason)
			}
			return nil
		})

	default:
		return exitErr{code: 1, err: fmt.Errorf("unknown msg subcommand %q", sub)}
	}
}

// cmdEscalateAgent implements `hive escalate`, an agent-originated
// human-targeted escalation.
func cmdEscalateAgent(args []string) error {
	fs := flag.NewFlagSet("escalate", flag.ContinueOnError)
	sessionName := fs.String("session", "", "the calling agent's tmux session name")
	storyID := fs.String("story", "", "story id, if this escalation concerns one")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if fs.NArg() != 1 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive escalate \"reason\"")}
	}
	reason := fs.Arg(0)

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		var agentID string
		if *sessionName != "" {
			if agent, err := agentBySession(ctx, h, *sessionName); err == nil {
				agentID = agent.ID
			}
		}
		esc := &store.Escalation{FromAgentID: agentID, StoryID: *storyID, Reason: reason}
		created, err := h.store.CreateEscalation(ctx, esc, 0)
		if err != nil {
			return exitErr{code: 2, err: err}
		}
		if !created {
			fmt.Println("an escalation from this agent is already pending (cooldown)")
			return nil
		}
		fmt.Println("escalated")
		return nil
	})
}
