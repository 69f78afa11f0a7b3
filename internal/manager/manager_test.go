package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hive/internal/connectors"
	"hive/internal/session"
	"hive/internal/store"
)

// --- fakes ---

type fakeSupervisor struct {
	running map[string]bool
	panes   map[string]string
	sent    map[string][]string
	killed  []string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{running: map[string]bool{}, panes: map[string]string{}, sent: map[string][]string{}}
}

func (f *fakeSupervisor) CreateSession(name, workDir string, argv []string, env map[string]string) error {
	f.running[name] = true
	return nil
}
func (f *fakeSupervisor) SendMessage(name, text string) error {
	f.sent[name] = append(f.sent[name], text)
	return nil
}
func (f *fakeSupervisor) SendEnter(name string) error { return nil }
func (f *fakeSupervisor) SendMessageWithConfirmation(name, text string, wait time.Duration) (bool, error) {
	return true, f.SendMessage(name, text)
}
func (f *fakeSupervisor) CapturePane(name string, lines int) (string, error) { return f.panes[name], nil }
func (f *fakeSupervisor) IsRunning(name string) bool                        { return f.running[name] }
func (f *fakeSupervisor) ListHiveSessions() ([]session.SessionInfo, error) {
	var out []session.SessionInfo
	for name, up := range f.running {
		if up {
			out = append(out, session.SessionInfo{Name: name})
		}
	}
	return out, nil
}
func (f *fakeSupervisor) Kill(name string) error {
	delete(f.running, name)
	f.killed = append(f.killed, name)
	return nil
}

type fakeVCS struct {
	merged []int
}

func (f *fakeVCS) SubmitPR(ctx context.Context, repoPath, branch, base, title, body string) (connectors.PullRequestRef, error) {
	return connectors.PullRequestRef{}, nil
}
func (f *fakeVCS) ApprovePR(ctx context.Context, repoPath string, number int, notes string) error {
	return nil
}
func (f *fakeVCS) MergePR(ctx context.Context, repoPath string, number int, squash, deleteBranch bool) error {
	f.merged = append(f.merged, number)
	return nil
}
func (f *fakeVCS) ListOpenPRs(ctx context.Context, repoPath string) ([]connectors.PullRequestRef, error) {
	return nil, nil
}
func (f *fakeVCS) CreateBranch(ctx context.Context, repoPath, branch, base string) error { return nil }
func (f *fakeVCS) MergeBranch(ctx context.Context, repoPath, branch, base string) error  { return nil }
func (f *fakeVCS) NotifyReviewer(ctx context.Context, session, text string) error        { return nil }

func newTestDaemon(t *testing.T) (*Daemon, *store.Store, *fakeSupervisor, *fakeVCS) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "hive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db, store.NewFileLock(filepath.Join(dir, "hive.lock")))
	sup := newFakeSupervisor()
	vcs := &fakeVCS{}
	cfg := DefaultConfig()
	cfg.StaticInactivityMs = 0
	cfg.NudgeCooldown = 0
	cfg.DrainInterval = 0
	d := New(st, sup, nil, vcs, nil, nil, nil, cfg, nil)
	return d, st, sup, vcs
}

func TestCheckStuckNudgeEscalateCreatesHumanEscalation(t *testing.T) {
	d, st, sup, _ := newTestDaemon(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	st.CreateTeam(ctx, team)
	agent := &store.Agent{TeamID: team.ID, Role: store.RoleSenior, CLIFlavour: "claude"}
	st.CreateAgent(ctx, agent)
	st.UpdateAgentSession(ctx, agent.ID, "hive-senior-backend", "claude", store.AgentWorking)

	sup.running["hive-senior-backend"] = true
	sup.panes["hive-senior-backend"] = "Do you want to proceed?\n❯ 1. Yes"

	if err := d.checkStuckNudgeEscalate(ctx); err != nil {
		t.Fatalf("checkStuckNudgeEscalate: %v", err)
	}

	escalations, err := st.ListPendingEscalations(ctx)
	if err != nil {
		t.Fatalf("ListPendingEscalations: %v", err)
	}
	if len(escalations) != 1 {
		t.Fatalf("expected 1 pending escalation, got %d", len(escalations))
	}
	if escalations[0].FromAgentID != agent.ID {
		t.Errorf("escalation from_agent_id = %q, want %q", escalations[0].FromAgentID, agent.ID)
	}
	if !escalations[0].IsHumanTargeted() {
		t.Errorf("expected escalation to be human-targeted")
	}
}

func TestCheckStuckNudgeEscalateRateLimitedSendsRecovery(t *testing.T) {
	d, st, sup, _ := newTestDaemon(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	st.CreateTeam(ctx, team)
	agent := &store.Agent{TeamID: team.ID, Role: store.RoleJunior, CLIFlavour: "claude"}
	st.CreateAgent(ctx, agent)
	st.UpdateAgentSession(ctx, agent.ID, "hive-junior-backend", "claude", store.AgentWorking)

	sup.running["hive-junior-backend"] = true
	sup.panes["hive-junior-backend"] = "rate limit exceeded, please try again later"

	if err := d.checkStuckNudgeEscalate(ctx); err != nil {
		t.Fatalf("checkStuckNudgeEscalate: %v", err)
	}

	sent := sup.sent["hive-junior-backend"]
	if len(sent) != 1 {
		t.Fatalf("expected 1 recovery message sent, got %d", len(sent))
	}

	got, err := st.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Status == store.AgentBlocked {
		t.Errorf("rate-limited agent must not be marked blocked")
	}
}

func TestSpinDownMergedStoryTerminatesAgentWithNoOtherWork(t *testing.T) {
	d, st, sup, _ := newTestDaemon(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	st.CreateTeam(ctx, team)
	req := &store.Requirement{Title: "r"}
	st.CreateRequirement(ctx, req)
	agent := &store.Agent{TeamID: team.ID, Role: store.RoleSenior}
	st.CreateAgent(ctx, agent)
	st.UpdateAgentSession(ctx, agent.ID, "hive-senior-backend", "claude", store.AgentWorking)
	sup.running["hive-senior-backend"] = true

	s := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "s", Status: store.StoryInProgress, AssignedAgentID: agent.ID}
	st.CreateStory(ctx, s)
	if err := st.UpdateStoryStatus(ctx, s.ID, store.StoryMerged, true, "merged"); err != nil {
		t.Fatalf("UpdateStoryStatus: %v", err)
	}

	if err := d.checkSpinDown(ctx); err != nil {
		t.Fatalf("checkSpinDown: %v", err)
	}

	got, err := st.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if !got.IsTerminated() {
		t.Errorf("expected agent to be terminated after its only story merged")
	}
	if sup.running["hive-senior-backend"] {
		t.Errorf("expected session to be killed")
	}
}

func TestCheckApprovedPRMergeInvokesVCSAndMarksStoryMerged(t *testing.T) {
	d, st, _, vcs := newTestDaemon(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "owner/repo"}
	st.CreateTeam(ctx, team)
	req := &store.Requirement{Title: "r"}
	st.CreateRequirement(ctx, req)
	s := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "s", Status: store.StoryReview}
	st.CreateStory(ctx, s)

	pr := &store.PullRequest{StoryID: s.ID, TeamID: team.ID, Branch: "feature/x", SubmitterID: "a", ExternalNo: 42}
	st.CreatePR(ctx, pr)
	st.UpdatePRStatus(ctx, pr.ID, store.PRApproved, "")

	if err := d.checkApprovedPRMerge(ctx); err != nil {
		t.Fatalf("checkApprovedPRMerge: %v", err)
	}

	if len(vcs.merged) != 1 || vcs.merged[0] != 42 {
		t.Fatalf("expected VCS.MergePR called with 42, got %v", vcs.merged)
	}

	gotStory, err := st.GetStory(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if gotStory.Status != store.StoryMerged {
		t.Errorf("story status = %s, want merged", gotStory.Status)
	}
}

func TestCheckOrphanedReviewerResetsToQueued(t *testing.T) {
	d, st, sup, _ := newTestDaemon(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	st.CreateTeam(ctx, team)
	req := &store.Requirement{Title: "r"}
	st.CreateRequirement(ctx, req)
	s := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "s", Status: store.StoryReview}
	st.CreateStory(ctx, s)

	reviewer := &store.Agent{TeamID: team.ID, Role: store.RoleQA}
	st.CreateAgent(ctx, reviewer)
	st.UpdateAgentSession(ctx, reviewer.ID, "hive-qa-backend", "claude", store.AgentWorking)
	sup.running["hive-qa-backend"] = false // session gone

	pr := &store.PullRequest{StoryID: s.ID, TeamID: team.ID, Branch: "feature/x", SubmitterID: "a"}
	st.CreatePR(ctx, pr)
	st.UpdatePRStatus(ctx, pr.ID, store.PRReviewing, reviewer.ID)

	if err := d.checkOrphanedReviewer(ctx); err != nil {
		t.Fatalf("checkOrphanedReviewer: %v", err)
	}

	got, err := st.GetPR(ctx, pr.ID)
	if err != nil {
		t.Fatalf("GetPR: %v", err)
	}
	if got.Status != store.PRQueued {
		t.Errorf("PR status = %s, want queued", got.Status)
	}
	if got.ReviewerID != "" {
		t.Errorf("expected reviewer cleared, got %q", got.ReviewerID)
	}
}

func TestStalledPlanningHandoffPromotesOnSecondDetection(t *testing.T) {
	d, st, _, _ := newTestDaemon(t)
	d.cfg.StuckThreshold = 0
	d.cfg.HandoffRetryDelay = 0
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	st.CreateTeam(ctx, team)
	req := &store.Requirement{Title: "r", Status: store.ReqPlanning}
	st.CreateRequirement(ctx, req)
	s := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "s", Status: store.StoryEstimated}
	st.CreateStory(ctx, s)

	if err := d.checkStalledPlanningHandoff(ctx); err != nil {
		t.Fatalf("first detection: %v", err)
	}
	got, _ := st.GetStory(ctx, s.ID)
	if got.Status != store.StoryEstimated {
		t.Fatalf("expected story to remain estimated after first detection, got %s", got.Status)
	}

	if err := d.checkStalledPlanningHandoff(ctx); err != nil {
		t.Fatalf("second detection: %v", err)
	}
	got, _ = st.GetStory(ctx, s.ID)
	if got.Status != store.StoryPlanned {
		t.Fatalf("expected story promoted to planned on second detection, got %s", got.Status)
	}

	gotReq, _ := st.GetRequirement(ctx, req.ID)
	if gotReq.Status != store.ReqPlanned {
		t.Errorf("requirement status = %s, want planned", gotReq.Status)
	}
}
