package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store implements the transactional state store over sqlite.
type Store struct {
	db   *DB
	lock *FileLock
}

// New wraps an opened DB and its companion advisory lock.
func New(db *DB, lock *FileLock) *Store {
	return &Store{db: db, lock: lock}
}

// Lock exposes the store's advisory file lock for callers that need to
// wrap a read-I/O-write sequence spanning more than one transaction (the
// Manager Daemon's phase1/phase2/phase3 pattern, spec §5).
func (s *Store) Lock() *FileLock { return s.lock }

// NewID generates an opaque id with the given type prefix, e.g. NewID("STORY").
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNullable(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// --- Teams ---

// CreateTeam inserts a new team row. Teams are never mutated after
// creation (spec §3).
func (s *Store) CreateTeam(ctx context.Context, t *Team) error {
	if t.ID == "" {
		t.ID = NewID("team")
	}
	if t.JuniorMax == 0 {
		t.JuniorMax = 2
	}
	if t.IntermediateMax == 0 {
		t.IntermediateMax = 2
	}
	if t.SeniorMax == 0 {
		t.SeniorMax = 1
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, repo_url, repo_path, junior_max, intermediate_max, senior_max, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.RepoURL, t.RepoPath, t.JuniorMax, t.IntermediateMax, t.SeniorMax, t.CreatedAt)
	if err != nil {
		return Conflict("CreateTeam", err)
	}
	return nil
}

func scanTeam(row interface{ Scan(...any) error }) (*Team, error) {
	var t Team
	err := row.Scan(&t.ID, &t.Name, &t.RepoURL, &t.RepoPath, &t.JuniorMax, &t.IntermediateMax, &t.SeniorMax, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const teamCols = "id, name, repo_url, repo_path, junior_max, intermediate_max, senior_max, created_at"

// GetTeam retrieves a team by id.
func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+teamCols+" FROM teams WHERE id = ?", id)
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("GetTeam", err)
	}
	if err != nil {
		return nil, newErr(KindInternal, "GetTeam", err)
	}
	return t, nil
}

// GetTeamByName retrieves a team by its unique display name.
func (s *Store) GetTeamByName(ctx context.Context, name string) (*Team, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+teamCols+" FROM teams WHERE name = ?", name)
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("GetTeamByName", err)
	}
	if err != nil {
		return nil, newErr(KindInternal, "GetTeamByName", err)
	}
	return t, nil
}

// ListTeams returns every registered team.
func (s *Store) ListTeams(ctx context.Context) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+teamCols+" FROM teams ORDER BY created_at")
	if err != nil {
		return nil, newErr(KindInternal, "ListTeams", err)
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListTeams", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// --- Requirements ---

// CreateRequirement inserts a new requirement in status 'pending'.
func (s *Store) CreateRequirement(ctx context.Context, r *Requirement) error {
	if r.ID == "" {
		r.ID = NewID("REQ")
	}
	if r.Status == "" {
		r.Status = ReqPending
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requirements (id, title, description, submitter, status, external_epic, feature_branch, target_branch, godmode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Title, r.Description, r.Submitter, string(r.Status), r.ExternalEpic, r.FeatureBranch, r.TargetBranch, r.Godmode, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return Conflict("CreateRequirement", err)
	}
	return nil
}

const reqCols = "id, title, description, submitter, status, external_epic, feature_branch, target_branch, godmode, created_at, updated_at"

func scanRequirement(row interface{ Scan(...any) error }) (*Requirement, error) {
	var r Requirement
	var status string
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Submitter, &status, &r.ExternalEpic, &r.FeatureBranch, &r.TargetBranch, &r.Godmode, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = RequirementStatus(status)
	return &r, nil
}

// GetRequirement retrieves a requirement by id.
func (s *Store) GetRequirement(ctx context.Context, id string) (*Requirement, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+reqCols+" FROM requirements WHERE id = ?", id)
	r, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("GetRequirement", err)
	}
	if err != nil {
		return nil, newErr(KindInternal, "GetRequirement", err)
	}
	return r, nil
}

// ListRequirementsByStatus returns requirements in the given status.
func (s *Store) ListRequirementsByStatus(ctx context.Context, status RequirementStatus) ([]Requirement, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+reqCols+" FROM requirements WHERE status = ? ORDER BY created_at", string(status))
	if err != nil {
		return nil, newErr(KindInternal, "ListRequirementsByStatus", err)
	}
	defer rows.Close()

	var out []Requirement
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListRequirementsByStatus", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRequirementStatus sets a requirement's status. It does not check
// the direction of the move: callers (the Manager's sign-off and
// planning-recovery paths among them) are trusted to have validated it.
func (s *Store) UpdateRequirementStatus(ctx context.Context, id string, status RequirementStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE requirements SET status = ?, updated_at = ? WHERE id = ?", string(status), time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "UpdateRequirementStatus", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return NotFound("UpdateRequirementStatus", fmt.Errorf("requirement %s", id))
	}
	return nil
}

// UpdateRequirementEpic records the PM provider's epic key once one has
// been created or ingested for a requirement that had none (spec §4.6).
func (s *Store) UpdateRequirementEpic(ctx context.Context, id, epicKey string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE requirements SET external_epic = ?, updated_at = ? WHERE id = ?", epicKey, time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "UpdateRequirementEpic", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return NotFound("UpdateRequirementEpic", fmt.Errorf("requirement %s", id))
	}
	return nil
}

// --- Stories ---

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// CreateStory inserts a new story row plus its STORY_CREATED log entry in
// one transaction.
func (s *Store) CreateStory(ctx context.Context, story *Story) error {
	if story.ID == "" {
		story.ID = NewID("STORY")
	}
	if story.Status == "" {
		story.Status = StoryDraft
	}
	now := time.Now().UTC()
	story.CreatedAt, story.UpdatedAt = now, now

	return s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO stories (
				id, requirement_id, team_id, title, description, acceptance, complexity, points,
				dependencies, assigned_agent_id, branch, status,
				external_issue_key, external_subtask_key, external_project_key, external_provider,
				in_sprint, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			story.ID, story.RequirementID, story.TeamID, story.Title, story.Description,
			marshalJSON(story.Acceptance), story.Complexity, story.Points,
			marshalJSON(story.Dependencies), nullable(story.AssignedAgentID), story.Branch, string(story.Status),
			story.ExternalIssueKey, story.ExternalSubtaskKey, story.ExternalProjectKey, story.ExternalProvider,
			story.InSprint, story.CreatedAt, story.UpdatedAt,
		)
		if err != nil {
			return Conflict("CreateStory", err)
		}
		return tx.appendLog(ctx, "", story.ID, EventStoryCreated, fmt.Sprintf("story %s created", story.ID), nil)
	})
}

const storyCols = `id, requirement_id, team_id, title, description, acceptance, complexity, points,
	dependencies, assigned_agent_id, branch, status,
	external_issue_key, external_subtask_key, external_project_key, external_provider,
	in_sprint, created_at, updated_at`

func scanStory(row interface{ Scan(...any) error }) (*Story, error) {
	var st Story
	var status string
	var acceptanceJSON, depsJSON string
	var assignedAgent sql.NullString
	err := row.Scan(&st.ID, &st.RequirementID, &st.TeamID, &st.Title, &st.Description,
		&acceptanceJSON, &st.Complexity, &st.Points,
		&depsJSON, &assignedAgent, &st.Branch, &status,
		&st.ExternalIssueKey, &st.ExternalSubtaskKey, &st.ExternalProjectKey, &st.ExternalProvider,
		&st.InSprint, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Status = StoryStatus(status)
	st.AssignedAgentID = fromNullable(assignedAgent)
	_ = json.Unmarshal([]byte(acceptanceJSON), &st.Acceptance)
	_ = json.Unmarshal([]byte(depsJSON), &st.Dependencies)
	return &st, nil
}

// GetStory retrieves a story by id.
func (s *Store) GetStory(ctx context.Context, id string) (*Story, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+storyCols+" FROM stories WHERE id = ?", id)
	st, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("GetStory", err)
	}
	if err != nil {
		return nil, newErr(KindInternal, "GetStory", err)
	}
	return st, nil
}

// ListStoriesByStatus returns stories in the given status, optionally
// restricted to one team (pass "" for all teams).
func (s *Store) ListStoriesByStatus(ctx context.Context, teamID string, status StoryStatus) ([]Story, error) {
	var rows *sql.Rows
	var err error
	if teamID == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT "+storyCols+" FROM stories WHERE status = ? ORDER BY created_at", string(status))
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT "+storyCols+" FROM stories WHERE status = ? AND team_id = ? ORDER BY created_at", string(status), teamID)
	}
	if err != nil {
		return nil, newErr(KindInternal, "ListStoriesByStatus", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListStoriesByStatus", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// ListStoriesByRequirement returns every story under a requirement.
func (s *Store) ListStoriesByRequirement(ctx context.Context, reqID string) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+storyCols+" FROM stories WHERE requirement_id = ? ORDER BY created_at", reqID)
	if err != nil {
		return nil, newErr(KindInternal, "ListStoriesByRequirement", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListStoriesByRequirement", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// ListStoriesForAgent returns every story currently assigned to an agent,
// whatever its status (merged and draft included).
func (s *Store) ListStoriesForAgent(ctx context.Context, agentID string) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+storyCols+" FROM stories WHERE assigned_agent_id = ?", agentID)
	if err != nil {
		return nil, newErr(KindInternal, "ListStoriesForAgent", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListStoriesForAgent", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// DependenciesMerged reports whether every dependency of story id is in
// status 'merged'. An empty dependency set is vacuously satisfied.
func (s *Store) DependenciesMerged(ctx context.Context, story *Story) (bool, error) {
	for _, depID := range story.Dependencies {
		dep, err := s.GetStory(ctx, depID)
		if err != nil {
			return false, err
		}
		if dep.Status != StoryMerged {
			return false, nil
		}
	}
	return true, nil
}

// ClaimStory atomically assigns agentID to storyID and transitions it to
// in_progress, but only if the story is still 'planned' and unassigned.
// Returns claimed=false (no error) when another caller already claimed it
// -- this is the duplicate-assignment guard of spec §4.2.
func (s *Store) ClaimStory(ctx context.Context, storyID, agentID string) (claimed bool, err error) {
	err = s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE stories SET status = ?, assigned_agent_id = ?, updated_at = ?
			WHERE id = ? AND status = ? AND assigned_agent_id IS NULL
		`, string(StoryInProgress), agentID, time.Now().UTC(), storyID, string(StoryPlanned))
		if err != nil {
			return newErr(KindInternal, "ClaimStory", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			claimed = false
			return nil
		}
		claimed = true
		return tx.appendLog(ctx, agentID, storyID, EventStoryAssigned, fmt.Sprintf("assigned to %s", agentID), nil)
	})
	return claimed, err
}

// UpdateStoryBranch records the working branch a claimed story is
// developed on, once its worktree has been created.
func (s *Store) UpdateStoryBranch(ctx context.Context, id, branch string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE stories SET branch = ?, updated_at = ? WHERE id = ?", branch, time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "UpdateStoryBranch", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return NotFound("UpdateStoryBranch", fmt.Errorf("story %s", id))
	}
	return nil
}

// UpdateStoryExternalLink records the PM provider's issue/subtask keys a
// story was pushed to or paired with (spec §4.6 parts a/b), so later sync
// ticks know the story is no longer one that needs creating or repairing.
func (s *Store) UpdateStoryExternalLink(ctx context.Context, id, issueKey, subtaskKey, projectKey, provider string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stories SET external_issue_key = ?, external_subtask_key = ?, external_project_key = ?, external_provider = ?, updated_at = ?
		WHERE id = ?
	`, issueKey, subtaskKey, projectKey, provider, time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "UpdateStoryExternalLink", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return NotFound("UpdateStoryExternalLink", fmt.Errorf("story %s", id))
	}
	return nil
}

// SetStoryInSprint records whether a story's PM-side sprint assignment has
// succeeded (spec §4.6 part c's retry loop stops once this is true).
func (s *Store) SetStoryInSprint(ctx context.Context, id string, inSprint bool) error {
	_, err := s.db.ExecContext(ctx, "UPDATE stories SET in_sprint = ?, updated_at = ? WHERE id = ?", inSprint, time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "SetStoryInSprint", err)
	}
	return nil
}

// ListStoriesWithoutExternalKey returns every story that has never been
// pushed to the PM provider (no external issue key), whether or not its
// requirement carries an external epic yet (spec §4.6 part a).
func (s *Store) ListStoriesWithoutExternalKey(ctx context.Context) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+storyCols+" FROM stories WHERE external_issue_key IS NULL OR external_issue_key = '' ORDER BY created_at")
	if err != nil {
		return nil, newErr(KindInternal, "ListStoriesWithoutExternalKey", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListStoriesWithoutExternalKey", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// ListStoriesMissingSubtask returns stories already pushed to the PM
// provider (carrying an issue key) but with no subtask created yet (spec
// §4.6 part b's assigned-but-no-subtask repair).
func (s *Store) ListStoriesMissingSubtask(ctx context.Context) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+storyCols+` FROM stories
		WHERE external_issue_key IS NOT NULL AND external_issue_key != ''
		AND (external_subtask_key IS NULL OR external_subtask_key = '')
		AND assigned_agent_id IS NOT NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, newErr(KindInternal, "ListStoriesMissingSubtask", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListStoriesMissingSubtask", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// ListStoriesNotInSprint returns stories pushed to the PM provider but not
// yet confirmed assigned to a sprint (spec §4.6 part c's retry loop).
func (s *Store) ListStoriesNotInSprint(ctx context.Context) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+storyCols+` FROM stories
		WHERE external_issue_key IS NOT NULL AND external_issue_key != '' AND in_sprint = 0
		ORDER BY created_at
	`)
	if err != nil {
		return nil, newErr(KindInternal, "ListStoriesNotInSprint", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListStoriesNotInSprint", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// UpdateStoryStatus performs a plain status transition plus its log entry
// atomically. It rejects the move when it is not forward (except the one
// explicitly permitted qa -> qa_failed backward move, handled by
// IsForwardTransition) unless allowBackward is set by the caller for an
// explicit human override.
func (s *Store) UpdateStoryStatus(ctx context.Context, id string, to StoryStatus, allowBackward bool, note string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		row := tx.tx.QueryRowContext(ctx, "SELECT status FROM stories WHERE id = ?", id)
		var from string
		if err := row.Scan(&from); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return NotFound("UpdateStoryStatus", err)
			}
			return newErr(KindInternal, "UpdateStoryStatus", err)
		}
		if !allowBackward && !IsForwardTransition(StoryStatus(from), to) {
			return InvalidState("UpdateStoryStatus", fmt.Errorf("story %s: %s -> %s is not a forward transition", id, from, to))
		}
		if _, err := tx.tx.ExecContext(ctx, "UPDATE stories SET status = ?, updated_at = ? WHERE id = ?", string(to), time.Now().UTC(), id); err != nil {
			return newErr(KindInternal, "UpdateStoryStatus", err)
		}
		return tx.appendLog(ctx, "", id, eventForStoryStatus(to), note, nil)
	})
}

// eventForStoryStatus maps a Story's target status to the log event that
// describes reaching it, so an ordinary move into review or qa is never
// mislabeled as the story's completion.
func eventForStoryStatus(to StoryStatus) EventType {
	switch to {
	case StoryInProgress:
		return EventStoryStarted
	case StoryReview:
		return EventStoryReviewRequested
	case StoryMerged:
		return EventStoryCompleted
	default:
		return EventStoryProgressUpdate
	}
}

// ClearStoryAssignment unassigns a story without changing its status
// (used when an agent with other active work sheds a merged story).
func (s *Store) ClearStoryAssignment(ctx context.Context, storyID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE stories SET assigned_agent_id = NULL, updated_at = ? WHERE id = ?", time.Now().UTC(), storyID)
	if err != nil {
		return newErr(KindInternal, "ClearStoryAssignment", err)
	}
	return nil
}

// CountAssignedStories counts non-terminated, non-terminal stories
// assigned to agentID. Used by spin-down to decide if an agent still has
// other work.
func (s *Store) CountAssignedStories(ctx context.Context, agentID string, excludeStoryID string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stories
		WHERE assigned_agent_id = ? AND id != ? AND status NOT IN (?, ?)
	`, agentID, excludeStoryID, string(StoryMerged), string(StoryDraft))
	if err := row.Scan(&n); err != nil {
		return 0, newErr(KindInternal, "CountAssignedStories", err)
	}
	return n, nil
}

// --- Agents ---

// CreateAgent inserts a new agent row plus its AGENT_SPAWNED log entry.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = NewID(string(a.Role))
	}
	if a.Status == "" {
		a.Status = AgentWorking
	}
	now := time.Now().UTC()
	a.CreatedAt, a.LastSeen = now, now

	return s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO agents (id, role, team_id, session_name, cli_flavour, status, current_story_id, memory_snapshot, last_seen, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, string(a.Role), nullable(a.TeamID), nullable(a.SessionName), a.CLIFlavour, string(a.Status), nullable(a.CurrentStoryID), a.MemorySnapshot, a.LastSeen, a.CreatedAt)
		if err != nil {
			return Conflict("CreateAgent", err)
		}
		return tx.appendLog(ctx, a.ID, "", EventAgentSpawned, fmt.Sprintf("agent %s (%s) spawned", a.ID, a.Role), nil)
	})
}

const agentCols = "id, role, team_id, session_name, cli_flavour, status, current_story_id, memory_snapshot, last_seen, created_at"

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var role, status string
	var teamID, sessionName, currentStory sql.NullString
	err := row.Scan(&a.ID, &role, &teamID, &sessionName, &a.CLIFlavour, &status, &currentStory, &a.MemorySnapshot, &a.LastSeen, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Role = AgentRole(role)
	a.Status = AgentStatus(status)
	a.TeamID = fromNullable(teamID)
	a.SessionName = fromNullable(sessionName)
	a.CurrentStoryID = fromNullable(currentStory)
	return &a, nil
}

// GetAgent retrieves an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentCols+" FROM agents WHERE id = ?", id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("GetAgent", err)
	}
	if err != nil {
		return nil, newErr(KindInternal, "GetAgent", err)
	}
	return a, nil
}

// ListAgentsByTeamRole returns live (non-terminated) agents for a team and
// role, ordered oldest-last_seen-first for round-robin fairness (spec
// §4.2 tie-break).
func (s *Store) ListAgentsByTeamRole(ctx context.Context, teamID string, role AgentRole) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentCols+` FROM agents
		WHERE team_id = ? AND role = ? AND status != ?
		ORDER BY CASE status WHEN ? THEN 0 ELSE 1 END, last_seen ASC
	`, teamID, string(role), string(AgentTerminated), string(AgentIdle))
	if err != nil {
		return nil, newErr(KindInternal, "ListAgentsByTeamRole", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListAgentsByTeamRole", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListAgentsByRole returns every non-terminated agent of a role regardless
// of team, ordered oldest-last_seen-first. Used for the process-wide
// tech_lead singleton, whose team_id is null.
func (s *Store) ListAgentsByRole(ctx context.Context, role AgentRole) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentCols+` FROM agents
		WHERE role = ? AND status != ?
		ORDER BY CASE status WHEN ? THEN 0 ELSE 1 END, last_seen ASC
	`, string(role), string(AgentTerminated), string(AgentIdle))
	if err != nil {
		return nil, newErr(KindInternal, "ListAgentsByRole", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListAgentsByRole", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListLiveAgents returns every agent whose status is not terminated.
func (s *Store) ListLiveAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentCols+" FROM agents WHERE status != ?", string(AgentTerminated))
	if err != nil {
		return nil, newErr(KindInternal, "ListLiveAgents", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListLiveAgents", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountLiveAgentsByTeamRole counts non-terminated agents of a role on a team.
func (s *Store) CountLiveAgentsByTeamRole(ctx context.Context, teamID string, role AgentRole) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents WHERE team_id = ? AND role = ? AND status != ?", teamID, string(role), string(AgentTerminated))
	if err := row.Scan(&n); err != nil {
		return 0, newErr(KindInternal, "CountLiveAgentsByTeamRole", err)
	}
	return n, nil
}

// UpdateAgentSession records the session name, CLI tool, and status after
// a spawn attempt (spec §4.2 step 5).
func (s *Store) UpdateAgentSession(ctx context.Context, id, sessionName, cliFlavour string, status AgentStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET session_name = ?, cli_flavour = ?, status = ?, last_seen = ? WHERE id = ?
	`, nullable(sessionName), cliFlavour, string(status), time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "UpdateAgentSession", err)
	}
	return nil
}

// UpdateAgentStatus sets an agent's status.
func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status AgentStatus) error {
	_, err := s.db.ExecContext(ctx, "UPDATE agents SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return newErr(KindInternal, "UpdateAgentStatus", err)
	}
	return nil
}

// SetAgentCurrentStory updates the agent's current_story_id (nullable).
func (s *Store) SetAgentCurrentStory(ctx context.Context, id, storyID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE agents SET current_story_id = ? WHERE id = ?", nullable(storyID), id)
	if err != nil {
		return newErr(KindInternal, "SetAgentCurrentStory", err)
	}
	return nil
}

// TouchLastSeen updates an agent's heartbeat timestamp (spec §4.3.1, §5).
func (s *Store) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE agents SET last_seen = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "TouchLastSeen", err)
	}
	return nil
}

// TerminateAgent marks an agent terminated and logs AGENT_TERMINATED.
func (s *Store) TerminateAgent(ctx context.Context, id, reason string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, "UPDATE agents SET status = ? WHERE id = ?", string(AgentTerminated), id); err != nil {
			return newErr(KindInternal, "TerminateAgent", err)
		}
		return tx.appendLog(ctx, id, "", EventAgentTerminated, reason, nil)
	})
}

// --- Pull requests ---

// CreatePR inserts a new PR, auto-closing any prior open PR for the same
// story (spec §3 invariant: at most one open PR per story; a duplicate
// submission auto-closes the prior — scenario 4 of spec §8).
func (s *Store) CreatePR(ctx context.Context, pr *PullRequest) error {
	if pr.ID == "" {
		pr.ID = NewID("pr")
	}
	if pr.Status == "" {
		pr.Status = PRQueued
	}
	now := time.Now().UTC()
	pr.CreatedAt, pr.UpdatedAt = now, now

	return s.WithTx(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryContext(ctx, `
			SELECT id FROM pull_requests WHERE story_id = ? AND status NOT IN (?, ?, ?)
		`, pr.StoryID, string(PRMerged), string(PRClosed), string(PRRejected))
		if err != nil {
			return newErr(KindInternal, "CreatePR", err)
		}
		var priorIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return newErr(KindInternal, "CreatePR", err)
			}
			priorIDs = append(priorIDs, id)
		}
		rows.Close()

		for _, id := range priorIDs {
			if _, err := tx.tx.ExecContext(ctx, "UPDATE pull_requests SET status = ?, close_reason = ?, updated_at = ? WHERE id = ?",
				string(PRClosed), "duplicate", now, id); err != nil {
				return newErr(KindInternal, "CreatePR", err)
			}
			if err := tx.appendLog(ctx, pr.SubmitterID, pr.StoryID, EventPRClosed, "superseded by duplicate submission", nil); err != nil {
				return err
			}
		}

		_, err = tx.tx.ExecContext(ctx, `
			INSERT INTO pull_requests (id, story_id, team_id, branch, external_no, external_url, status, submitter_id, reviewer_id, review_notes, close_reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, pr.ID, pr.StoryID, pr.TeamID, pr.Branch, pr.ExternalNo, pr.ExternalURL, string(pr.Status), pr.SubmitterID, nullable(pr.ReviewerID), pr.ReviewNotes, pr.CloseReason, pr.CreatedAt, pr.UpdatedAt)
		if err != nil {
			return Conflict("CreatePR", err)
		}

		if _, err := tx.tx.ExecContext(ctx, "UPDATE stories SET status = ?, updated_at = ? WHERE id = ?", string(StoryPRSubmitted), now, pr.StoryID); err != nil {
			return newErr(KindInternal, "CreatePR", err)
		}

		return tx.appendLog(ctx, pr.SubmitterID, pr.StoryID, EventPRSubmitted, fmt.Sprintf("PR %s submitted for %s", pr.ID, pr.StoryID), nil)
	})
}

const prCols = "id, story_id, team_id, branch, external_no, external_url, status, submitter_id, reviewer_id, review_notes, close_reason, created_at, updated_at"

func scanPR(row interface{ Scan(...any) error }) (*PullRequest, error) {
	var pr PullRequest
	var status string
	var reviewer sql.NullString
	err := row.Scan(&pr.ID, &pr.StoryID, &pr.TeamID, &pr.Branch, &pr.ExternalNo, &pr.ExternalURL, &status, &pr.SubmitterID, &reviewer, &pr.ReviewNotes, &pr.CloseReason, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pr.Status = PRStatus(status)
	pr.ReviewerID = fromNullable(reviewer)
	return &pr, nil
}

// GetPR retrieves a pull request by id.
func (s *Store) GetPR(ctx context.Context, id string) (*PullRequest, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+prCols+" FROM pull_requests WHERE id = ?", id)
	pr, err := scanPR(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("GetPR", err)
	}
	if err != nil {
		return nil, newErr(KindInternal, "GetPR", err)
	}
	return pr, nil
}

// ListPRsByStatus returns pull requests for a team in the given status
// (pass "" for all teams), oldest first -- the merge queue's FIFO order.
func (s *Store) ListPRsByStatus(ctx context.Context, teamID string, status PRStatus) ([]PullRequest, error) {
	var rows *sql.Rows
	var err error
	if teamID == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT "+prCols+" FROM pull_requests WHERE status = ? ORDER BY created_at", string(status))
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT "+prCols+" FROM pull_requests WHERE status = ? AND team_id = ? ORDER BY created_at", string(status), teamID)
	}
	if err != nil {
		return nil, newErr(KindInternal, "ListPRsByStatus", err)
	}
	defer rows.Close()

	var out []PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListPRsByStatus", err)
		}
		out = append(out, *pr)
	}
	return out, rows.Err()
}

// UpdatePRStatus transitions a PR's status (and, for reviewing, optionally
// sets the reviewer id).
func (s *Store) UpdatePRStatus(ctx context.Context, id string, status PRStatus, reviewerID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE pull_requests SET status = ?, reviewer_id = ?, updated_at = ? WHERE id = ?",
		string(status), nullable(reviewerID), time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "UpdatePRStatus", err)
	}
	return nil
}

// MergePR atomically marks a PR merged and its owning story merged,
// logging PR_MERGED (spec §4.3.5).
func (s *Store) MergePR(ctx context.Context, prID, storyID string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		now := time.Now().UTC()
		if _, err := tx.tx.ExecContext(ctx, "UPDATE pull_requests SET status = ?, updated_at = ? WHERE id = ?", string(PRMerged), now, prID); err != nil {
			return newErr(KindInternal, "MergePR", err)
		}
		if _, err := tx.tx.ExecContext(ctx, "UPDATE stories SET status = ?, updated_at = ? WHERE id = ?", string(StoryMerged), now, storyID); err != nil {
			return newErr(KindInternal, "MergePR", err)
		}
		return tx.appendLog(ctx, "", storyID, EventPRMerged, fmt.Sprintf("PR %s merged", prID), nil)
	})
}

// --- Escalations ---

// CreateEscalation inserts a pending escalation unless a matching pending
// one from the same agent already exists within cooldown (spec §4.3.2
// dedup-on-session rule).
func (s *Store) CreateEscalation(ctx context.Context, e *Escalation, cooldown time.Duration) (created bool, err error) {
	err = s.WithTx(ctx, func(tx *Tx) error {
		row := tx.tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM escalations
			WHERE from_agent_id = ? AND status = ? AND created_at > ?
		`, e.FromAgentID, string(EscalationPending), time.Now().UTC().Add(-cooldown))
		var n int
		if err := row.Scan(&n); err != nil {
			return newErr(KindInternal, "CreateEscalation", err)
		}
		if n > 0 {
			created = false
			return nil
		}

		if e.ID == "" {
			e.ID = NewID("ESC")
		}
		if e.Status == "" {
			e.Status = EscalationPending
		}
		now := time.Now().UTC()
		e.CreatedAt, e.UpdatedAt = now, now

		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO escalations (id, story_id, from_agent_id, to_agent_id, reason, status, resolution, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, nullable(e.StoryID), nullable(e.FromAgentID), nullable(e.ToAgentID), e.Reason, string(e.Status), e.Resolution, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return Conflict("CreateEscalation", err)
		}
		created = true
		return tx.appendLog(ctx, e.FromAgentID, e.StoryID, EventEscalationCreated, e.Reason, nil)
	})
	return created, err
}

const escCols = "id, story_id, from_agent_id, to_agent_id, reason, status, resolution, created_at, updated_at"

func scanEscalation(row interface{ Scan(...any) error }) (*Escalation, error) {
	var e Escalation
	var status string
	var storyID, fromAgent, toAgent sql.NullString
	err := row.Scan(&e.ID, &storyID, &fromAgent, &toAgent, &e.Reason, &status, &e.Resolution, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = EscalationStatus(status)
	e.StoryID = fromNullable(storyID)
	e.FromAgentID = fromNullable(fromAgent)
	e.ToAgentID = fromNullable(toAgent)
	return &e, nil
}

// ListPendingEscalations returns every unresolved escalation, human- or
// agent-targeted.
func (s *Store) ListPendingEscalations(ctx context.Context) ([]Escalation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+escCols+" FROM escalations WHERE status = ? ORDER BY created_at", string(EscalationPending))
	if err != nil {
		return nil, newErr(KindInternal, "ListPendingEscalations", err)
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, newErr(KindInternal, "ListPendingEscalations", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ResolveEscalation marks an escalation resolved with the given resolution text.
func (s *Store) ResolveEscalation(ctx context.Context, id, resolution string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE escalations SET status = ?, resolution = ?, updated_at = ? WHERE id = ?",
		string(EscalationResolved), resolution, time.Now().UTC(), id)
	if err != nil {
		return newErr(KindInternal, "ResolveEscalation", err)
	}
	return nil
}

// --- Log entries ---

// appendLog writes a log entry sharing tx's atomicity (spec §4.1: log
// writes never fail the enclosing business transaction on their own --
// they are part of it).
func (t *Tx) appendLog(ctx context.Context, agentID, storyID string, eventType EventType, message string, metadata map[string]any) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO log_entries (agent_id, story_id, event_type, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, nullable(agentID), nullable(storyID), string(eventType), message, marshalJSON(metadata), time.Now().UTC())
	if err != nil {
		return newErr(KindInternal, "appendLog", err)
	}
	return nil
}

// AppendLog writes a standalone log entry outside any other transaction
// (used by callers, e.g. connectors, that are not otherwise mutating
// story/agent rows).
func (s *Store) AppendLog(ctx context.Context, agentID, storyID string, eventType EventType, message string, metadata map[string]any) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.appendLog(ctx, agentID, storyID, eventType, message, metadata)
	})
}

// ListLogsForStory returns every log entry for a story, oldest first.
func (s *Store) ListLogsForStory(ctx context.Context, storyID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, story_id, event_type, message, metadata, created_at
		FROM log_entries WHERE story_id = ? ORDER BY created_at
	`, storyID)
	if err != nil {
		return nil, newErr(KindInternal, "ListLogsForStory", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var le LogEntry
		var agentID, storyIDCol sql.NullString
		var metaJSON string
		if err := rows.Scan(&le.ID, &agentID, &storyIDCol, &le.EventType, &le.Message, &metaJSON, &le.CreatedAt); err != nil {
			return nil, newErr(KindInternal, "ListLogsForStory", err)
		}
		le.AgentID = fromNullable(agentID)
		le.StoryID = fromNullable(storyIDCol)
		_ = json.Unmarshal([]byte(metaJSON), &le.Metadata)
		out = append(out, le)
	}
	return out, rows.Err()
}

// --- Integration sync ---

// UpsertSync records or updates the external id mapped to a local entity
// under the given provider (spec §3: one row per entity/provider).
func (s *Store) UpsertSync(ctx context.Context, sync IntegrationSync) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_syncs (entity_type, entity_id, provider, external_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id, provider) DO UPDATE SET external_id = excluded.external_id, updated_at = excluded.updated_at
	`, sync.EntityType, sync.EntityID, sync.Provider, sync.ExternalID, time.Now().UTC())
	if err != nil {
		return newErr(KindInternal, "UpsertSync", err)
	}
	return nil
}

// GetSync retrieves the external id for a local entity under a provider.
func (s *Store) GetSync(ctx context.Context, entityType, entityID, provider string) (*IntegrationSync, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, provider, external_id, updated_at
		FROM integration_syncs WHERE entity_type = ? AND entity_id = ? AND provider = ?
	`, entityType, entityID, provider)

	var sync IntegrationSync
	err := row.Scan(&sync.EntityType, &sync.EntityID, &sync.Provider, &sync.ExternalID, &sync.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("GetSync", err)
	}
	if err != nil {
		return nil, newErr(KindInternal, "GetSync", err)
	}
	return &sync, nil
}
