package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates a sqlite database at the given path and runs any
// pending migrations.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{DB: sqlDB, path: dbPath}

	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// migrate applies pending numbered migrations. Each migration is idempotent
// and advances the stored schema version by exactly one.
func (d *DB) migrate() error {
	_, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var version int
	row := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1},
		{2, migration2},
		{3, migration3},
		{4, migration4},
		{5, migration5},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Migration 1: teams, requirements, stories.
const migration1 = `
CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	repo_url TEXT NOT NULL,
	repo_path TEXT NOT NULL,
	junior_max INTEGER DEFAULT 2,
	intermediate_max INTEGER DEFAULT 2,
	senior_max INTEGER DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS requirements (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	submitter TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	external_epic TEXT,
	feature_branch TEXT,
	target_branch TEXT,
	godmode INTEGER DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS stories (
	id TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL,
	team_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	acceptance TEXT,
	complexity INTEGER DEFAULT 1,
	points INTEGER DEFAULT 0,
	dependencies TEXT,
	assigned_agent_id TEXT,
	branch TEXT,
	status TEXT NOT NULL DEFAULT 'draft',
	external_issue_key TEXT,
	external_subtask_key TEXT,
	external_project_key TEXT,
	external_provider TEXT,
	in_sprint INTEGER DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (requirement_id) REFERENCES requirements(id),
	FOREIGN KEY (team_id) REFERENCES teams(id)
);

CREATE INDEX IF NOT EXISTS idx_stories_requirement_id ON stories(requirement_id);
CREATE INDEX IF NOT EXISTS idx_stories_team_id ON stories(team_id);
CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status);
CREATE INDEX IF NOT EXISTS idx_stories_assigned_agent_id ON stories(assigned_agent_id);
`

// Migration 2: agents.
const migration2 = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	team_id TEXT,
	session_name TEXT,
	cli_flavour TEXT,
	status TEXT NOT NULL DEFAULT 'idle',
	current_story_id TEXT,
	memory_snapshot BLOB,
	last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (team_id) REFERENCES teams(id)
);

CREATE INDEX IF NOT EXISTS idx_agents_team_id ON agents(team_id);
CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
CREATE INDEX IF NOT EXISTS idx_agents_role ON agents(role);
`

// Migration 3: pull requests and the merge queue.
const migration3 = `
CREATE TABLE IF NOT EXISTS pull_requests (
	id TEXT PRIMARY KEY,
	story_id TEXT NOT NULL,
	team_id TEXT NOT NULL,
	branch TEXT NOT NULL,
	external_no INTEGER DEFAULT 0,
	external_url TEXT,
	status TEXT NOT NULL DEFAULT 'queued',
	submitter_id TEXT,
	reviewer_id TEXT,
	review_notes TEXT,
	close_reason TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (story_id) REFERENCES stories(id)
);

CREATE INDEX IF NOT EXISTS idx_pr_story_id ON pull_requests(story_id);
CREATE INDEX IF NOT EXISTS idx_pr_team_id_status ON pull_requests(team_id, status);
`

// Migration 4: escalations and the append-only event log.
const migration4 = `
CREATE TABLE IF NOT EXISTS escalations (
	id TEXT PRIMARY KEY,
	story_id TEXT,
	from_agent_id TEXT,
	to_agent_id TEXT,
	reason TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	resolution TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);
CREATE INDEX IF NOT EXISTS idx_escalations_story_id ON escalations(story_id);

CREATE TABLE IF NOT EXISTS log_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT,
	story_id TEXT,
	event_type TEXT NOT NULL,
	message TEXT,
	metadata TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_log_story_id ON log_entries(story_id);
CREATE INDEX IF NOT EXISTS idx_log_event_type ON log_entries(event_type);
`

// Migration 5: integration-sync links to external PM/VCS identities.
const migration5 = `
CREATE TABLE IF NOT EXISTS integration_syncs (
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (entity_type, entity_id, provider)
);
`
