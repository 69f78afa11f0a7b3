package main

import (
	"context"
	"flag"
	"fmt"

	"hive/internal/store"
)

// cmdAddRepo implements `hive add-repo`: registers a team and its
// repository, the unit the Scheduler spawns agents against (spec §4.2).
func cmdAddRepo(args []string) error {
	fs := flag.NewFlagSet("add-repo", flag.ContinueOnError)
	url := fs.String("url", "", "repository URL")
	team := fs.String("team", "", "team name")
	branch := fs.String("branch", "main", "default integration branch (echoed in the output; not stored on the team)")
	path := fs.String("path", "", "local working-tree path, relative to the repos directory (defaults to the team name)")
	juniorMax := fs.Int("junior-max", 2, "maximum concurrent junior agents")
	intermediateMax := fs.Int("intermediate-max", 2, "maximum concurrent intermediate agents")
	seniorMax := fs.Int("senior-max", 1, "maximum concurrent senior agents")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}
	if *url == "" || *team == "" {
		return exitErr{code: 1, err: fmt.Errorf("--url and --team are required")}
	}

	repoPath := *path
	if repoPath == "" {
		repoPath = *team
	}

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		if existing, err := h.store.GetTeamByName(ctx, *team); err == nil && existing != nil {
			return exitErr{code: 1, err: fmt.Errorf("team %q already registered", *team)}
		}

		t := &store.Team{
			Name:            *team,
			RepoURL:         *url,
			RepoPath:        repoPath,
			JuniorMax:       *juniorMax,
			IntermediateMax: *intermediateMax,
			SeniorMax:       *seniorMax,
		}
		if err := h.store.CreateTeam(ctx, t); err != nil {
			return exitErr{code: 2, err: err}
		}

		fmt.Printf("registered team %s (%s), default branch %s\n", t.Name, t.RepoURL, *branch)
		return nil
	})
}
