// Package scheduler turns planned stories into work on live agents and
// grows or shrinks the worker pool as the queue demands (spec §4.2). It is
// invoked both interactively (the `assign` CLI verb) and from the Manager
// Daemon's reconciliation loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"hive/internal/session"
	"hive/internal/store"
)

// roleForComplexity implements the complexity -> role routing table of
// spec §4.2.
func roleForComplexity(complexity int) store.AgentRole {
	switch {
	case complexity <= 3:
		return store.RoleJunior
	case complexity <= 5:
		return store.RoleIntermediate
	default:
		return store.RoleSenior
	}
}

// higherRoles lists the roles that may take over a story when its target
// role is at cap, in escalating order (spec §4.2: "a higher role may take
// the story; a lower role may not").
var higherRoles = map[store.AgentRole][]store.AgentRole{
	store.RoleJunior:       {store.RoleIntermediate, store.RoleSenior},
	store.RoleIntermediate: {store.RoleSenior},
	store.RoleSenior:       {},
}

// Config carries the scheduler's per-team-independent tunables.
type Config struct {
	CLICommand  map[string]string // cli flavour -> argv[0], e.g. "claude" -> "claude"
	Model       map[string]string // cli flavour -> model flag value
	PromptsDir  string
	SessionRoot string // working directory root each team's repo is checked out under
}

// Scheduler implements assignStories/checkScaling/checkMergeQueue/
// spawnFeatureTest over a Store and a Session Supervisor.
type Scheduler struct {
	store      *store.Store
	supervisor session.Supervisor
	cfg        Config
	log        *slog.Logger
}

// New builds a Scheduler.
func New(st *store.Store, sup session.Supervisor, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: st, supervisor: sup, cfg: cfg, log: log}
}

// AssignResult is the return value of AssignStories.
type AssignResult struct {
	Assigned            int
	PreventedDuplicates int
	Errors              []string
}

// AssignStories turns every eligible planned story into in_progress work
// on a live agent (spec §4.2). It is idempotent under retry: a story
// claimed by a concurrent caller is counted as PreventedDuplicates, not an
// error.
func (s *Scheduler) AssignStories(ctx context.Context) (AssignResult, error) {
	var result AssignResult

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return result, err
	}

	for _, team := range teams {
		planned, err := s.store.ListStoriesByStatus(ctx, team.ID, store.StoryPlanned)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("team %s: list planned stories: %v", team.ID, err))
			continue
		}

		for _, story := range planned {
			ok, err := s.store.DependenciesMerged(ctx, &story)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("story %s: dependency check: %v", story.ID, err))
				continue
			}
			if !ok {
				continue // dependencies not yet merged; leave planned
			}

			agentID, err := s.selectOrSpawnWorker(ctx, team, story.Complexity)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("story %s: %v", story.ID, err))
				continue
			}
			if agentID == "" {
				// At cap with no eligible worker; record and move on,
				// never block (spec §4.2).
				result.Errors = append(result.Errors, fmt.Sprintf("story %s: no eligible worker and team at role cap", story.ID))
				continue
			}

			claimed, err := s.store.ClaimStory(ctx, story.ID, agentID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("story %s: claim: %v", story.ID, err))
				continue
			}
			if !claimed {
				result.PreventedDuplicates++
				continue
			}
			if err := s.store.SetAgentCurrentStory(ctx, agentID, story.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("story %s: set current story: %v", story.ID, err))
			}
			result.Assigned++
		}
	}

	return result, nil
}

// selectOrSpawnWorker picks the best eligible live worker on the team for
// complexity, spawning one if capacity allows and none is idle/available.
// Returns "" when the role is at cap and no higher role is available
// either.
func (s *Scheduler) selectOrSpawnWorker(ctx context.Context, team store.Team, complexity int) (string, error) {
	targetRole := roleForComplexity(complexity)

	for _, role := range append([]store.AgentRole{targetRole}, higherRoles[targetRole]...) {
		agents, err := s.store.ListAgentsByTeamRole(ctx, team.ID, role)
		if err != nil {
			return "", err
		}
		if len(agents) > 0 {
			// ListAgentsByTeamRole already orders idle-before-working,
			// oldest-last_seen-first (spec §4.2 tie-break).
			return agents[0].ID, nil
		}
	}

	// Nobody eligible is alive. Spawn one of the target role if under cap.
	cap, err := s.roleCap(team, targetRole)
	if err != nil {
		return "", err
	}
	count, err := s.store.CountLiveAgentsByTeamRole(ctx, team.ID, targetRole)
	if err != nil {
		return "", err
	}
	if count >= cap {
		return "", nil
	}

	agent, err := s.SpawnAgent(ctx, team, targetRole)
	if err != nil {
		return "", err
	}
	return agent.ID, nil
}

func (s *Scheduler) roleCap(team store.Team, role store.AgentRole) (int, error) {
	switch role {
	case store.RoleJunior:
		return team.JuniorMax, nil
	case store.RoleIntermediate:
		return team.IntermediateMax, nil
	case store.RoleSenior:
		return team.SeniorMax, nil
	default:
		return 0, fmt.Errorf("role %s has no configured cap", role)
	}
}

// CheckScaling spawns a senior for every team that has planned work and no
// live senior (spec §4.2). It spawns no workers of any other role and no
// second senior.
func (s *Scheduler) CheckScaling(ctx context.Context) error {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return err
	}

	for _, team := range teams {
		planned, err := s.store.ListStoriesByStatus(ctx, team.ID, store.StoryPlanned)
		if err != nil {
			return err
		}
		if len(planned) == 0 {
			continue
		}

		seniors, err := s.store.CountLiveAgentsByTeamRole(ctx, team.ID, store.RoleSenior)
		if err != nil {
			return err
		}
		if seniors == 0 {
			if _, err := s.SpawnAgent(ctx, team, store.RoleSenior); err != nil {
				s.log.Warn("checkScaling: failed to spawn senior", "team", team.ID, "error", err)
			}
		}
	}
	return nil
}

// CheckMergeQueue ensures at least one live qa agent exists per team that
// has queued pull requests (spec §4.2).
func (s *Scheduler) CheckMergeQueue(ctx context.Context) error {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return err
	}

	for _, team := range teams {
		queued, err := s.store.ListPRsByStatus(ctx, team.ID, store.PRQueued)
		if err != nil {
			return err
		}
		if len(queued) == 0 {
			continue
		}

		qas, err := s.store.CountLiveAgentsByTeamRole(ctx, team.ID, store.RoleQA)
		if err != nil {
			return err
		}
		if qas == 0 {
			if _, err := s.SpawnAgent(ctx, team, store.RoleQA); err != nil {
				s.log.Warn("checkMergeQueue: failed to spawn qa", "team", team.ID, "error", err)
			}
		}
	}
	return nil
}

// SpawnFeatureTest creates a one-shot feature_test agent to drive
// end-to-end tests against an integration branch (spec §4.2, §4.3.7).
func (s *Scheduler) SpawnFeatureTest(ctx context.Context, team store.Team, branch, requirementID, e2eTestsPath string) (*store.Agent, error) {
	agent, err := s.spawnAgent(ctx, team, store.RoleFeatureTest, map[string]any{
		"Branch":        branch,
		"RequirementID": requirementID,
		"E2ETestsPath":  e2eTestsPath,
	})
	if err != nil {
		return nil, err
	}
	// feature_test agents carry no story of their own; current_story_id
	// is repurposed to hold the requirement id so the Manager Daemon can
	// find its way back from a finished session to the requirement
	// awaiting a sign-off verdict (spec §4.3.7).
	if err := s.store.SetAgentCurrentStory(ctx, agent.ID, requirementID); err != nil {
		s.log.Warn("SpawnFeatureTest: failed to record requirement id", "error", err)
	}
	agent.CurrentStoryID = requirementID
	if err := s.store.AppendLog(ctx, agent.ID, "", store.EventFeatureTestSpawned, fmt.Sprintf("feature test spawned for %s on %s", requirementID, branch), nil); err != nil {
		s.log.Warn("SpawnFeatureTest: failed to log event", "error", err)
	}
	return agent, nil
}

// SpawnAgent is the public entry point for spawning a role-scoped worker
// with no extra template data.
func (s *Scheduler) SpawnAgent(ctx context.Context, team store.Team, role store.AgentRole) (*store.Agent, error) {
	return s.spawnAgent(ctx, team, role, nil)
}

// SpawnTechLead spawns the process-wide tech_lead singleton with the
// requirement it is about to plan handed straight to its first prompt,
// Markdown rendered to plain text (spec §4.2, §9).
func (s *Scheduler) SpawnTechLead(ctx context.Context, team store.Team, requirementID, description string) (*store.Agent, error) {
	return s.spawnAgent(ctx, team, store.RoleTechLead, map[string]any{
		"RequirementID": requirementID,
		"Description":   description,
	})
}

var slugPattern = regexp.MustCompile(`[^a-z0-9-]+`)

func slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	s = slugPattern.ReplaceAllString(s, "")
	return strings.Trim(s, "-")
}
