package main

import (
	"context"
	"flag"
	"fmt"
	"path"
	"strings"

	"hive/internal/connectors"
)

// importEpic fetches an externally-hosted epic by URL through the
// workspace's configured PM connector, deriving the provider key from the
// URL's final path segment (e.g. ".../browse/PROJ-123" -> "PROJ-123").
func importEpic(ctx context.Context, h *hiveCtx, epicURL string) (connectors.Issue, error) {
	pm, err := h.pmConnector()
	if err != nil {
		return connectors.Issue{}, fmt.Errorf("pm connector: %w", err)
	}
	if pm == nil {
		return connectors.Issue{}, fmt.Errorf("no pm_provider configured; set one in %s or pass plain text instead of a URL", configFileName)
	}
	key := strings.TrimSuffix(path.Base(epicURL), "/")
	if key == "" {
		return connectors.Issue{}, fmt.Errorf("could not derive an issue key from %q", epicURL)
	}
	return pm.FetchEpic(ctx, key)
}

// cmdAuth implements `hive auth`: this build carries no interactive OAuth
// flow (spec's Non-goals exclude a credential-management UI); it builds the
// configured (or --provider) PM connector from config and reports whether
// that succeeded. It does not contact the provider and does not list
// missing config keys.
func cmdAuth(args []string) error {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	provider := fs.String("provider", "", "check this provider instead of the configured one")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}

	return withHiveContext(func(h *hiveCtx) error {
		name := h.cfg.PMProvider
		cfg := h.cfg.PMConfig
		if *provider != "" {
			name = *provider
		}
		if name == "" {
			fmt.Println("no pm_provider configured")
			return nil
		}
		pm, err := connectors.NewPM(name, cfg)
		if err != nil {
			return exitErr{code: 1, err: fmt.Errorf("provider %q is not wired or misconfigured: %w", name, err)}
		}
		fmt.Printf("pm provider %q is configured\n", pm.Name())
		return nil
	})
}

// cmdPM implements `hive pm search|fetch`, the narrow read-only surface
// agents and humans use to look up PM issues outside of the automatic
// sync performed by the Manager Daemon's pm_sync check (spec §4.3.9).
func cmdPM(args []string) error {
	if len(args) == 0 {
		return exitErr{code: 1, err: fmt.Errorf("usage: hive pm <search|fetch> ...")}
	}
	sub, rest := args[0], args[1:]

	return withHiveContext(func(h *hiveCtx) error {
		ctx := context.Background()
		pm, err := h.pmConnector()
		if err != nil {
			return exitErr{code: 1, err: err}
		}
		if pm == nil {
			return exitErr{code: 1, err: fmt.Errorf("no pm_provider configured")}
		}

		switch sub {
		case "search":
			fs := flag.NewFlagSet("pm search", flag.ContinueOnError)
			if err := fs.Parse(rest); err != nil {
				return exitErr{code: 1, err: err}
			}
			if fs.NArg() != 1 {
				return exitErr{code: 1, err: fmt.Errorf("usage: hive pm search <query>")}
			}
			issues, err := pm.SearchIssues(ctx, fs.Arg(0))
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			for _, iss := range issues {
				fmt.Printf("%s\t%s\t%s\n", iss.Key, iss.Status, iss.Title)
			}
			return nil

		case "fetch":
			fs := flag.NewFlagSet("pm fetch", flag.ContinueOnError)
			if err := fs.Parse(rest); err != nil {
				return exitErr{code: 1, err: err}
			}
			if fs.NArg() != 1 {
				return exitErr{code: 1, err: fmt.Errorf("usage: hive pm fetch <key>")}
			}
			iss, err := pm.GetIssue(ctx, fs.Arg(0))
			if err != nil {
				return exitErr{code: 2, err: err}
			}
			fmt.Printf("%s\t%s\t%s\n", iss.Key, iss.Status, iss.Title)
			return nil

		default:
			return exitErr{code: 1, err: fmt.Errorf("unknown pm subcommand %q", sub)}
		}
	})
}
