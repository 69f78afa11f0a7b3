package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"hive/git"
	"hive/internal/store"
)

// cmdPR implements `hive pr submit|queue|review|show|approve|reject|sync`,
// the merge-queue operations of spec §6/§4.3.5.
func cmdPR(args []string) error {
	if len(args) == 0 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive pr <submit|queue|review|show|approve|reject|sync> ...")}
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "submit":
		return prSubmit(rest)
	case "queue":
		return prQueue(rest)
	case "review":
		return prReview(rest)
	case "show":
		return prShow(rest)
	case "approve":
		return prResolve(rest, store.PRApproved)
	case "reject":
		return prResolve(rest, store.PRRejected)
	case "sync":
		return prSync(rest)
	default:
		return exitErr{code: 1, err: fmt.Errorf("unknown pr subcommand %q", sub)}
	}
}

func prSubmit(args []string) error {
	fs := flag.NewFlagSet("pr submit", flag.ContinueOnError)
	storyID := fs.String("story", "", "story id")
	sessionName := fs.String("session", "", "the submitting agent's tmux session name")
	title := fs.String("title", "", "pull request title")
	body := fs.String("body", "", "pull request body")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if *storyID == "" {
		return exitErr{code: 1, err: fmt.Errorf("--story is required")}
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		story, err := h.store.GetStory(ctx, *storyID)
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		team, err := h.store.GetTeam(ctx, story.TeamID)
		if err != nil {
			return exitErr{code: 1, err: err}
		}

		var agentID string
		if *sessionName != "" {
			if agent, err := agentBySession(ctx, h, *sessionName); err == nil {
				agentID = agent.ID
			}
		}

		if story.Branch != "" {
			if err := pushStoryBranch(h, team, story.Branch); err != nil {
				return exitErr{code: 2, err: err}
			}
		}

		pr := &store.PullRequest{
			StoryID:     *storyID,
			TeamID:      story.TeamID,
			Branch:      story.Branch,
			SubmitterID: agentID,
		}

		vcs, err := h.vcsConnector()
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		if vcs != nil {
			ttl := *title
			if ttl == "" {
				ttl = story.Title
			}
			ref, err := vcs.SubmitPR(ctx, team.RepoPath, story.Branch, "main", ttl, *body)
			if err != nil {
				return exitErr{code: 2, err: fmt.Errorf("submit PR to VCS: %w", err)}
			}
			pr.ExternalNo, pr.ExternalURL = ref.Number, ref.URL
		}

		if err := h.store.CreatePR(ctx, pr); err != nil {
			return exitErr{code: 2, err: err}
		}
		fmt.Printf("submitted PR %s for story %s\n", pr.ID, *storyID)
		return nil
	})
}

func prQueue(args []string) error {
	fs := flag.NewFlagSet("pr queue", flag.ContinueOnError)
	team := fs.String("team", "", "limit to one team")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		teamID := ""
		if *team != "" {
			t, err := h.store.GetTeamByName(ctx, *team)
			if err != nil {
				return exitErr{code: 1, err: err}
			}
			teamID = t.ID
		}
		for _, status := range []store.PRStatus{store.PRQueued, store.PRReviewing, store.PRApproved} {
			prs, err := h.store.ListPRsByStatus(ctx, teamID, status)
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			for _, pr := range prs {
				fmt.Printf("%s\t%s\t%s\t%s\n", pr.ID, pr.Status, pr.StoryID, pr.Branch)
			}
		}
		return nil
	})
}

func prReview(args []string) error {
	fs := flag.NewFlagSet("pr review", flag.ContinueOnError)
	reviewer := fs.String("reviewer", "", "reviewer agent id")
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
		return exitErr{code: 1, err: fmt.Errorf("usage: hive pr review <pr-id> --reviewer <agent-id>")}
	}
	prID := positional[0]

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		if err := h.store.UpdatePRStatus(ctx, prID, store.PRReviewing, *reviewer); err != nil {
			return exitErr{code: 2, err: err}
		}
		if err := h.store.AppendLog(ctx, *reviewer, "", store.EventPRReviewStarted, fmt.Sprintf("review started on %s", prID), nil); err != nil {
			h.log.Warn("pr review: log failed", "error", err)
		}
		fmt.Printf("%s -> reviewing\n", prID)
		return nil
	})
}

func prShow(args []string) error {
	if len(args) != 1 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive pr show <pr-id>")}
	}
	prID := args[0]

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		pr, err := h.store.GetPR(ctx, prID)
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		fmt.Printf("id:       %s\nstory:    %s\nbranch:   %s\nstatus:   %s\nexternal: %s\nnotes:    %s\n",
			pr.ID, pr.StoryID, pr.Branch, pr.Status, pr.ExternalURL, pr.ReviewNotes)

		if commit, err := worktreeLatestCommit(h, pr); err == nil {
			fmt.Printf("commit:   %s\n", commit)
		}
		return nil
	})
}

func prResolve(args []string, status store.PRStatus) error {
	fs := flag.NewFlagSet("pr "+string(status), flag.ContinueOnError)
	notes := fs.String("notes", "", "review notes")
	squash := fs.Bool("squash", true, "accepted but not used by this command")
	deleteBranch := fs.Bool("delete-branch", true, "accepted but not used by this command")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if fs.NArg() != 1 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive pr %s <pr-id>", status)}
	}
	prID := fs.Arg(0)

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		pr, err := h.store.GetPR(ctx, prID)
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		team, err := h.store.GetTeam(ctx, pr.TeamID)
		if err != nil {
			return exitErr{code: 1, err: err}
		}

		vcs, err := h.vcsConnector()
		if err != nil {
			return exitErr{code: 1, err: err}
		}

		if status == store.PRApproved {
			if vcs != nil {
				if err := vcs.ApprovePR(ctx, team.RepoPath, pr.ExternalNo, *notes); err != nil {
					return exitErr{code: 2, err: err}
				}
			}
			if err := h.store.UpdatePRStatus(ctx, prID, store.PRApproved, pr.ReviewerID); err != nil {
				return exitErr{code: 2, err: err}
			}
			if err := h.store.AppendLog(ctx, pr.ReviewerID, pr.StoryID, store.EventPRApproved, *notes, nil); err != nil {
				h.log.Warn("pr approve: log failed", "error", err)
			}
			fmt.Printf("%s -> approved\n", prID)
			return nil
		}

		if err := h.store.UpdatePRStatus(ctx, prID, store.PRRejected, pr.ReviewerID); err != nil {
			return exitErr{code: 2, err: err}
		}
		if err := h.store.AppendLog(ctx, pr.ReviewerID, pr.StoryID, store.EventPRRejected, *notes, nil); err != nil {
			h.log.Warn("pr reject: log failed", "error", err)
		}
		if err := h.store.UpdateStoryStatus(ctx, pr.StoryID, store.StoryInProgress, true, "PR rejected, back to in progress"); err != nil {
			h.log.Warn("pr reject: story revert failed", "error", err)
		}
		_ = squash
		_ = deleteBranch
		fmt.Printf("%s -> rejected\n", prID)
		return nil
	})
}

func prSync(args []string) error {
	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		vcs, err := h.vcsConnector()
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		if vcs == nil {
			return exitErr{code: 1, err: fmt.Errorf("no vcs_provider configured")}
		}

		teams, err := h.store.ListTeams(ctx)
		if err != nil {
			return exitErr{code: 2, err: err}
		}
		synced := 0
		for _, team := range teams {
			open, err := vcs.ListOpenPRs(ctx, team.RepoPath)
			if err != nil {
				h.log.Warn("pr sync: list open PRs failed", "team", team.Name, "error", err)
				continue
			}
			for _, ref := range open {
				sync := store.IntegrationSync{
					EntityType: "pull_request",
					EntityID:   fmt.Sprintf("%d", ref.Number),
					Provider:   h.cfg.VCSProvider,
					ExternalID: ref.URL,
				}
				if err := h.store.UpsertSync(ctx, sync); err != nil {
					h.log.Warn("pr sync: upsert failed", "error", err)
					continue
				}
				synced++
			}
		}
		fmt.Printf("synced %d open pull requests\n", synced)
		return nil
	})
}

// worktreeLatestCommit reports the HEAD commit of a PullRequest's worktree,
// so `hive pr show` reflects what's actually sitting on disk rather than
// only the snapshot recorded at submit time.
func worktreeLatestCommit(h *hiveCtx, pr *store.PullRequest) (string, error) {
	team, err := h.store.GetTeam(context.Background(), pr.TeamID)
	if err != nil {
		return "", err
	}
	repoRoot := filepath.Join(h.root, h.cfg.ReposDir, team.RepoPath)
	wm := git.NewWorktreeManager(repoRoot, ".worktrees", "main")
	path, err := wm.WorktreePath(pr.Branch)
	if err != nil {
		return "", err
	}
	return wm.GetLatestCommit(path)
}

// pushStoryBranch pushes a story's worktree branch to origin before a PR
// is submitted against it, refusing if the worktree still has
// uncommitted changes rather than submitting a PR the agent hasn't
// actually finished (spec §4.2: the agent "submits a pull request ...
// when the acceptance criteria pass").
func pushStoryBranch(h *hiveCtx, team *store.Team, branch string) error {
	repoRoot := filepath.Join(h.root, h.cfg.ReposDir, team.RepoPath)
	wm := git.NewWorktreeManager(repoRoot, ".worktrees", "main")

	path, err := wm.WorktreePath(branch)
	if err != nil {
		return err
	}
	dirty, err := wm.HasUncommittedChanges(path)
	if err != nil {
		return fmt.Errorf("check worktree status: %w", err)
	}
	if dirty {
		return fmt.Errorf("worktree for branch %s has uncommitted changes, commit before submitting", branch)
	}
	if err := wm.Push(path); err != nil {
		return fmt.Errorf("push branch %s: %w", branch, err)
	}
	return nil
}
