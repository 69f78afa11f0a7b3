package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"hive/internal/store"
)

// titleCase renders a role or status word the way the teacher's own prompt
// templates do: "senior" -> "Senior".
var titleCase = cases.Title(language.English).String

// PromptData parameterises a role's system-prompt template (spec §4.2
// step 4: "parameterised by team name, repo URL, repo path, session name,
// target branch, and whether progress updates are enabled").
type PromptData struct {
	TeamName        string
	RepoURL         string
	RepoPath        string
	SessionName     string
	TargetBranch    string
	ProgressEnabled bool

	Role          store.AgentRole
	AgentID       string
	Branch        string
	RequirementID string
	E2ETestsPath  string
	Description   string
}

// spawnAgent implements the agent-spawn protocol of spec §4.2:
//  1. insert an agent row (status working)
//  2. compute a session name, resolving collisions with a numeric suffix
//  3. ask the Session Supervisor to create the session
//  4. compose and deliver the role-specific first prompt
//  5. record session/cli/status, or mark terminated on any failure
func (s *Scheduler) spawnAgent(ctx context.Context, team store.Team, role store.AgentRole, extra map[string]any) (*store.Agent, error) {
	agent := &store.Agent{
		Role:       role,
		TeamID:     team.ID,
		Status:     store.AgentWorking,
		CLIFlavour: s.defaultFlavour(),
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("insert agent row: %w", err)
	}

	sessionName, err := s.uniqueSessionName(role, team.Name)
	if err != nil {
		_ = s.store.TerminateAgent(ctx, agent.ID, fmt.Sprintf("spawn failed: %v", err))
		return nil, err
	}

	argv := s.argvFor(agent.CLIFlavour)
	workDir := s.cfg.SessionRoot + "/" + team.RepoPath

	if err := s.supervisor.CreateSession(sessionName, workDir, argv, nil); err != nil {
		_ = s.store.TerminateAgent(ctx, agent.ID, fmt.Sprintf("session create failed: %v", err))
		_ = s.store.AppendLog(ctx, agent.ID, "", store.EventAgentSpawned, "spawn failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("create session %s: %w", sessionName, err)
	}

	prompt, err := s.composePrompt(role, PromptData{
		TeamName:        team.Name,
		RepoURL:         team.RepoURL,
		RepoPath:        team.RepoPath,
		SessionName:     sessionName,
		TargetBranch:    "main",
		ProgressEnabled: true,
		Role:            role,
		AgentID:         agent.ID,
		Branch:          stringValue(extra, "Branch"),
		RequirementID:   stringValue(extra, "RequirementID"),
		E2ETestsPath:    stringValue(extra, "E2ETestsPath"),
		Description:     renderPlainText(stringValue(extra, "Description")),
	})
	if err != nil {
		_ = s.store.TerminateAgent(ctx, agent.ID, fmt.Sprintf("prompt template failed: %v", err))
		return nil, err
	}

	if err := s.supervisor.SendMessage(sessionName, prompt); err != nil {
		_ = s.store.TerminateAgent(ctx, agent.ID, fmt.Sprintf("send prompt failed: %v", err))
		return nil, err
	}
	if err := s.supervisor.SendEnter(sessionName); err != nil {
		_ = s.store.TerminateAgent(ctx, agent.ID, fmt.Sprintf("send enter failed: %v", err))
		return nil, err
	}

	if err := s.store.UpdateAgentSession(ctx, agent.ID, sessionName, agent.CLIFlavour, store.AgentWorking); err != nil {
		_ = s.store.TerminateAgent(ctx, agent.ID, fmt.Sprintf("record session failed: %v", err))
		return nil, fmt.Errorf("record session on agent row: %w", err)
	}
	agent.SessionName = sessionName

	return agent, nil
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// uniqueSessionName computes hive-<role>-<teamSlug>[-n] (spec §4.2 step 2).
func (s *Scheduler) uniqueSessionName(role store.AgentRole, teamName string) (string, error) {
	base := fmt.Sprintf("hive-%s-%s", role, slugify(teamName))
	name := base
	for n := 1; n <= 100; n++ {
		if !s.supervisor.IsRunning(name) {
			return name, nil
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("exhausted session name suffixes for %s", base)
}

func (s *Scheduler) defaultFlavour() string {
	for flavour := range s.cfg.CLICommand {
		return flavour
	}
	return "claude"
}

func (s *Scheduler) argvFor(flavour string) []string {
	cmd, ok := s.cfg.CLICommand[flavour]
	if !ok || cmd == "" {
		cmd = flavour
	}
	argv := []string{cmd}
	if model, ok := s.cfg.Model[flavour]; ok && model != "" {
		argv = append(argv, "--model", model)
	}
	return argv
}

func (s *Scheduler) composePrompt(role store.AgentRole, data PromptData) (string, error) {
	tmplText, ok := rolePrompts[role]
	if !ok {
		tmplText = rolePrompts[store.RoleSenior]
	}
	tmpl, err := template.New(string(role)).Funcs(template.FuncMap{"title": titleCase}).Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parse prompt template for role %s: %w", role, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute prompt template for role %s: %w", role, err)
	}
	return buf.String(), nil
}

// SessionIdleTimeout bounds how long a spawn waits for confirmation the
// session accepted its first prompt, for callers that want it.
const SessionIdleTimeout = 5 * time.Second
