package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"hive/internal/store"
)

// cmdInit implements `hive init`: creates the workspace directory layout
// (spec §6's filesystem layout) and an empty, migrated database.
func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "reinitialize an existing workspace")
	fs.Bool("non-interactive", true, "accepted for CLI-contract compatibility; hive init is always non-interactive")
	if err := fs.Parse(args); err != nil {
		return exitErr{code: 1, err: err}
	}

	root, err := os.Getwd()
	if err != nil {
		return exitErr{code: 2, err: err}
	}

	configPath := filepath.Join(root, configFileName)
	if _, err := os.Stat(configPath); err == nil && !*force {
		return exitErr{code: 1, err: fmt.Errorf("%s already exists; pass --force to reinitialize", configFileName)}
	}

	cfg := DefaultConfig()
	for _, dir := range []string{cfg.LogDir, cfg.MemoryDir, cfg.ReposDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return exitErr{code: 2, err: fmt.Errorf("create %s: %w", dir, err)}
		}
	}

	if err := saveConfig(configPath, cfg); err != nil {
		return exitErr{code: 2, err: err}
	}

	db, err := store.Open(filepath.Join(root, cfg.DBPath))
	if err != nil {
		return exitErr{code: 2, err: fmt.Errorf("open database: %w", err)}
	}
	defer db.Close()

	fmt.Printf("initialized hive workspace in %s\n", root)
	return nil
}
