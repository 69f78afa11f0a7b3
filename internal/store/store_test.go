package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "hive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	lock := NewFileLock(filepath.Join(dir, "hive.lock"))
	return New(db, lock)
}

func seedTeam(t *testing.T, s *Store) *Team {
	t.Helper()
	team := &Team{Name: "Backend", RepoURL: "git@example.com:backend.git", RepoPath: "backend"}
	if err := s.CreateTeam(context.Background(), team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	return team
}

func TestCreateAndGetStory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := seedTeam(t, s)

	req := &Requirement{Title: "User CRUD"}
	if err := s.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("CreateRequirement: %v", err)
	}

	story := &Story{RequirementID: req.ID, TeamID: team.ID, Title: "User CRUD API", Complexity: 8, Status: StoryPlanned}
	if err := s.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	got, err := s.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.Title != "User CRUD API" || got.Status != StoryPlanned {
		t.Fatalf("unexpected story: %+v", got)
	}

	logs, err := s.ListLogsForStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("ListLogsForStory: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != EventStoryCreated {
		t.Fatalf("expected one STORY_CREATED log entry, got %+v", logs)
	}
}

func TestClaimStoryPreventsDuplicateAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := seedTeam(t, s)
	req := &Requirement{Title: "Req"}
	s.CreateRequirement(ctx, req)
	story := &Story{RequirementID: req.ID, TeamID: team.ID, Title: "S1", Status: StoryPlanned}
	s.CreateStory(ctx, story)

	claimed1, err := s.ClaimStory(ctx, story.ID, "agent-1")
	if err != nil {
		t.Fatalf("ClaimStory 1: %v", err)
	}
	if !claimed1 {
		t.Fatalf("expected first claim to succeed")
	}

	claimed2, err := s.ClaimStory(ctx, story.ID, "agent-2")
	if err != nil {
		t.Fatalf("ClaimStory 2: %v", err)
	}
	if claimed2 {
		t.Fatalf("expected second claim to be prevented")
	}

	got, _ := s.GetStory(ctx, story.ID)
	if got.AssignedAgentID != "agent-1" {
		t.Fatalf("story should remain assigned to agent-1, got %q", got.AssignedAgentID)
	}
	if got.Status != StoryInProgress {
		t.Fatalf("story should be in_progress, got %s", got.Status)
	}
}

func TestUpdateStoryStatusRejectsBackwardTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := seedTeam(t, s)
	req := &Requirement{Title: "Req"}
	s.CreateRequirement(ctx, req)
	story := &Story{RequirementID: req.ID, TeamID: team.ID, Title: "S1", Status: StoryReview}
	s.CreateStory(ctx, story)

	if err := s.UpdateStoryStatus(ctx, story.ID, StoryDraft, false, "oops"); err == nil {
		t.Fatalf("expected backward transition to be rejected")
	} else if KindOf(err) != KindInvalidState {
		t.Fatalf("expected KindInvalidState, got %v", KindOf(err))
	}

	// qa -> qa_failed is the one explicitly permitted backward move.
	story2 := &Story{RequirementID: req.ID, TeamID: team.ID, Title: "S2", Status: StoryQA}
	s.CreateStory(ctx, story2)
	if err := s.UpdateStoryStatus(ctx, story2.ID, StoryQAFailed, false, "failed qa"); err != nil {
		t.Fatalf("qa -> qa_failed should be permitted: %v", err)
	}
}

func TestCreatePRAutoClosesDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := seedTeam(t, s)
	req := &Requirement{Title: "Req"}
	s.CreateRequirement(ctx, req)
	story := &Story{RequirementID: req.ID, TeamID: team.ID, Title: "S1", Status: StoryInProgress}
	s.CreateStory(ctx, story)

	prA := &PullRequest{StoryID: story.ID, TeamID: team.ID, Branch: "feat/a", SubmitterID: "agent-1"}
	if err := s.CreatePR(ctx, prA); err != nil {
		t.Fatalf("CreatePR A: %v", err)
	}
	prB := &PullRequest{StoryID: story.ID, TeamID: team.ID, Branch: "feat/a-v2", SubmitterID: "agent-1"}
	if err := s.CreatePR(ctx, prB); err != nil {
		t.Fatalf("CreatePR B: %v", err)
	}

	gotA, _ := s.GetPR(ctx, prA.ID)
	if gotA.Status != PRClosed || gotA.CloseReason != "duplicate" {
		t.Fatalf("expected PR A closed as duplicate, got %+v", gotA)
	}
	gotB, _ := s.GetPR(ctx, prB.ID)
	if gotB.Status != PRQueued {
		t.Fatalf("expected PR B queued, got %s", gotB.Status)
	}
	story, _ = s.GetStory(ctx, story.ID)
	if story.Status != StoryPRSubmitted {
		t.Fatalf("expected story pr_submitted, got %s", story.Status)
	}
}

func TestEscalationDedupWithinCooldown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := &Escalation{FromAgentID: "agent-1", Reason: "ambiguous requirement"}
	created1, err := s.CreateEscalation(ctx, e1, 0)
	if err != nil || !created1 {
		t.Fatalf("expected first escalation created, err=%v created=%v", err, created1)
	}

	e2 := &Escalation{FromAgentID: "agent-1", Reason: "ambiguous requirement again"}
	created2, err := s.CreateEscalation(ctx, e2, 10000000000)
	if err != nil {
		t.Fatalf("CreateEscalation 2: %v", err)
	}
	if created2 {
		t.Fatalf("expected duplicate escalation within cooldown to be suppressed")
	}
}

func TestDependenciesMerged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	team := seedTeam(t, s)
	req := &Requirement{Title: "Req"}
	s.CreateRequirement(ctx, req)

	dep := &Story{RequirementID: req.ID, TeamID: team.ID, Title: "dep", Status: StoryInProgress}
	s.CreateStory(ctx, dep)

	story := &Story{RequirementID: req.ID, TeamID: team.ID, Title: "main", Status: StoryPlanned, Dependencies: []string{dep.ID}}
	s.CreateStory(ctx, story)

	ok, err := s.DependenciesMerged(ctx, story)
	if err != nil {
		t.Fatalf("DependenciesMerged: %v", err)
	}
	if ok {
		t.Fatalf("expected dependency not yet merged")
	}

	s.UpdateStoryStatus(ctx, dep.ID, StoryReview, true, "fast-forward for test")
	s.UpdateStoryStatus(ctx, dep.ID, StoryMerged, true, "merged for test")

	ok, err = s.DependenciesMerged(ctx, story)
	if err != nil {
		t.Fatalf("DependenciesMerged: %v", err)
	}
	if !ok {
		t.Fatalf("expected dependency merged to satisfy gate")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
