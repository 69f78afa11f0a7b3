package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hive/internal/connectors"
	_ "hive/internal/connectors/github"
	_ "hive/internal/connectors/jira"
	_ "hive/internal/connectors/linear"
	"hive/internal/store"
)

// lockWait bounds how long a command waits to acquire the workspace's file
// lock before giving up (spec §5).
const lockWait = 10 * time.Second

// hiveCtx is the scope every state-mutating verb runs inside: it locates
// the workspace, opens the store under the file lock, and closes
// deterministically on every exit path (spec §6's "withHiveContext").
type hiveCtx struct {
	root  string
	cfg   Config
	store *store.Store
	db    *store.DB
	lock  *store.FileLock
	log   *slog.Logger
}

func findWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, configFileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found in %s or any parent directory; run 'hive init' first", configFileName, dir)
		}
		dir = parent
	}
}

// withHiveContext opens the workspace, runs fn, and always closes the
// store and releases the lock afterward, regardless of fn's outcome.
func withHiveContext(fn func(h *hiveCtx) error) error {
	root, err := findWorkspaceRoot()
	if err != nil {
		return exitErr{code: 1, err: err}
	}

	cfg, err := loadConfig(filepath.Join(root, configFileName))
	if err != nil {
		return exitErr{code: 1, err: err}
	}

	lock := store.NewFileLock(filepath.Join(root, ".hive.lock"))
	if lock.IsStale() {
		_ = lock.Reclaim()
	}
	if err := lock.Lock(lockWait); err != nil {
		return exitErr{code: 2, err: fmt.Errorf("acquire workspace lock: %w", err)}
	}
	defer lock.Unlock()

	db, err := store.Open(filepath.Join(root, cfg.DBPath))
	if err != nil {
		return exitErr{code: 2, err: fmt.Errorf("open database: %w", err)}
	}
	defer db.Close()

	h := &hiveCtx{
		root:  root,
		cfg:   cfg,
		store: store.New(db, lock),
		db:    db,
		lock:  lock,
		log:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}

	return fn(h)
}

// exitErr carries a process exit code alongside an error, per spec §6:
// exit 0 success, 1 user/config error, 2 internal failure.
type exitErr struct {
	code int
	err  error
}

func (e exitErr) Error() string { return e.err.Error() }

// vcsConnector builds the configured VCS connector, or nil if none is set.
func (h *hiveCtx) vcsConnector() (connectors.VCS, error) {
	if h.cfg.VCSProvider == "" {
		return nil, nil
	}
	return connectors.NewVCS(h.cfg.VCSProvider, h.cfg.VCSConfig)
}

// pmConnector builds the configured PM connector, or nil if none is set.
func (h *hiveCtx) pmConnector() (connectors.PM, error) {
	if h.cfg.PMProvider == "" {
		return nil, nil
	}
	return connectors.NewPM(h.cfg.PMProvider, h.cfg.PMConfig)
}
