package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hive/internal/session"
	"hive/internal/store"
)

// fakeSupervisor tracks session operations for testing without shelling
// out to a real terminal multiplexer.
type fakeSupervisor struct {
	mu       sync.Mutex
	sessions map[string]bool
	messages map[string][]string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{sessions: make(map[string]bool), messages: make(map[string][]string)}
}

func (f *fakeSupervisor) CreateSession(name, workDir string, argv []string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[name] {
		return errAlreadyExists(name)
	}
	f.sessions[name] = true
	return nil
}

func (f *fakeSupervisor) SendMessage(name, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[name] = append(f.messages[name], text)
	return nil
}

func (f *fakeSupervisor) SendEnter(name string) error { return nil }

func (f *fakeSupervisor) SendMessageWithConfirmation(name, text string, wait time.Duration) (bool, error) {
	return true, f.SendMessage(name, text)
}

func (f *fakeSupervisor) CapturePane(name string, lines int) (string, error) { return "", nil }

func (f *fakeSupervisor) IsRunning(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

func (f *fakeSupervisor) ListHiveSessions() ([]session.SessionInfo, error) { return nil, nil }

func (f *fakeSupervisor) Kill(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	return nil
}

type sessionExistsError string

func (e sessionExistsError) Error() string { return string(e) + " already exists" }
func errAlreadyExists(name string) error   { return sessionExistsError(name) }

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *fakeSupervisor) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "hive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db, store.NewFileLock(filepath.Join(dir, "hive.lock")))
	sup := newFakeSupervisor()
	cfg := Config{CLICommand: map[string]string{"claude": "claude"}, SessionRoot: dir}
	return New(st, sup, cfg, nil), st, sup
}

func TestAssignStoriesRoutesByComplexity(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "git@example.com:b.git", RepoPath: "b", JuniorMax: 1, IntermediateMax: 1, SeniorMax: 1}
	if err := st.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	req := &store.Requirement{Title: "Req"}
	st.CreateRequirement(ctx, req)

	complexities := []int{2, 4, 6, 13}
	var storyIDs []string
	for _, c := range complexities {
		s := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "story", Complexity: c, Status: store.StoryPlanned}
		if err := st.CreateStory(ctx, s); err != nil {
			t.Fatalf("CreateStory: %v", err)
		}
		storyIDs = append(storyIDs, s.ID)
	}

	result, err := sched.AssignStories(ctx)
	if err != nil {
		t.Fatalf("AssignStories: %v", err)
	}
	if result.Assigned != 4 {
		t.Fatalf("expected 4 stories assigned, got %d (errors=%v)", result.Assigned, result.Errors)
	}

	roles := map[string]store.AgentRole{}
	for _, id := range storyIDs {
		s, err := st.GetStory(ctx, id)
		if err != nil {
			t.Fatalf("GetStory: %v", err)
		}
		if s.AssignedAgentID == "" {
			t.Fatalf("story %s was not assigned", id)
		}
		agent, err := st.GetAgent(ctx, s.AssignedAgentID)
		if err != nil {
			t.Fatalf("GetAgent: %v", err)
		}
		roles[id] = agent.Role
	}

	if roles[storyIDs[0]] != store.RoleJunior {
		t.Errorf("complexity 2 expected junior, got %s", roles[storyIDs[0]])
	}
	if roles[storyIDs[1]] != store.RoleIntermediate {
		t.Errorf("complexity 4 expected intermediate, got %s", roles[storyIDs[1]])
	}
	if roles[storyIDs[2]] != store.RoleSenior {
		t.Errorf("complexity 6 expected senior, got %s", roles[storyIDs[2]])
	}
	if roles[storyIDs[3]] != store.RoleSenior {
		t.Errorf("complexity 13 expected senior, got %s", roles[storyIDs[3]])
	}
	// Cap is senior_max=1: both complexity 6 and 13 must pile onto the
	// same senior agent (spec §8 scenario 3).
	seniorAgent6, _ := st.GetStory(ctx, storyIDs[2])
	seniorAgent13, _ := st.GetStory(ctx, storyIDs[3])
	if seniorAgent6.AssignedAgentID != seniorAgent13.AssignedAgentID {
		t.Errorf("expected both senior-routed stories on the same agent, got %s and %s", seniorAgent6.AssignedAgentID, seniorAgent13.AssignedAgentID)
	}
}

func TestAssignStoriesIsIdempotent(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "git@example.com:b.git", RepoPath: "b"}
	st.CreateTeam(ctx, team)
	req := &store.Requirement{Title: "Req"}
	st.CreateRequirement(ctx, req)
	s := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "story", Complexity: 2, Status: store.StoryPlanned}
	st.CreateStory(ctx, s)

	r1, err := sched.AssignStories(ctx)
	if err != nil {
		t.Fatalf("AssignStories 1: %v", err)
	}
	if r1.Assigned != 1 {
		t.Fatalf("expected 1 assignment, got %d", r1.Assigned)
	}

	r2, err := sched.AssignStories(ctx)
	if err != nil {
		t.Fatalf("AssignStories 2: %v", err)
	}
	if r2.Assigned != 0 {
		t.Fatalf("expected zero additional assignments on rerun, got %d", r2.Assigned)
	}
}

func TestAssignStoriesSkipsUnmetDependencies(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()

	team := &store.Team{Name: "Frontend", RepoURL: "git@example.com:f.git", RepoPath: "f"}
	st.CreateTeam(ctx, team)
	req := &store.Requirement{Title: "Req"}
	st.CreateRequirement(ctx, req)

	dep := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "dep", Status: store.StoryInProgress}
	st.CreateStory(ctx, dep)
	blocked := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "blocked", Status: store.StoryPlanned, Dependencies: []string{dep.ID}}
	st.CreateStory(ctx, blocked)

	result, err := sched.AssignStories(ctx)
	if err != nil {
		t.Fatalf("AssignStories: %v", err)
	}
	if result.Assigned != 0 {
		t.Fatalf("expected no assignment while dependency unmerged, got %d", result.Assigned)
	}

	got, _ := st.GetStory(ctx, blocked.ID)
	if got.Status != store.StoryPlanned {
		t.Fatalf("expected story to remain planned, got %s", got.Status)
	}
}
