package scheduler

import (
	"context"
	"testing"

	"hive/internal/store"
)

func TestSubmitPlanCreatesStoriesAndPromotesToPlanned(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "git@example.com:b.git", RepoPath: "b"}
	if err := st.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	req := &store.Requirement{Title: "Req"}
	if err := st.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("CreateRequirement: %v", err)
	}
	techLead := &store.Agent{Role: store.RoleTechLead, Status: store.AgentWorking}
	if err := st.CreateAgent(ctx, techLead); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	plan := PlanResult{
		Stories: []PlanStory{
			{TeamName: "Backend", Title: "Design schema", Complexity: 2, Acceptance: []string{"schema reviewed"}},
			{TeamName: "Backend", Title: "Implement endpoint", Complexity: 4, DependsOn: []int{0}},
		},
	}

	n, err := sched.SubmitPlan(ctx, req.ID, techLead.ID, plan)
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stories created, got %d", n)
	}

	stories, err := st.ListStoriesByRequirement(ctx, req.ID)
	if err != nil {
		t.Fatalf("ListStoriesByRequirement: %v", err)
	}
	if len(stories) != 2 {
		t.Fatalf("expected 2 stories, got %d", len(stories))
	}
	for _, s := range stories {
		if s.Status != store.StoryPlanned {
			t.Errorf("story %s: expected status planned, got %s", s.ID, s.Status)
		}
	}

	var dependent *store.Story
	for i := range stories {
		if len(stories[i].Dependencies) > 0 {
			dependent = &stories[i]
		}
	}
	if dependent == nil {
		t.Fatalf("expected one story to carry a dependency")
	}
	if dependent.Dependencies[0] == dependent.ID {
		t.Fatalf("dependency resolved to self")
	}

	req2, err := st.GetRequirement(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequirement: %v", err)
	}
	if req2.Status != store.ReqPlanned {
		t.Fatalf("expected requirement planned, got %s", req2.Status)
	}
}

func TestSubmitPlanEscalatesOnAmbiguity(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()

	req := &store.Requirement{Title: "Req"}
	if err := st.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("CreateRequirement: %v", err)
	}
	techLead := &store.Agent{Role: store.RoleTechLead, Status: store.AgentWorking}
	if err := st.CreateAgent(ctx, techLead); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	plan := PlanResult{NeedsHumanInput: true, Reason: "acceptance criteria conflict with existing story"}
	n, err := sched.SubmitPlan(ctx, req.ID, techLead.ID, plan)
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no stories created, got %d", n)
	}

	agent, err := st.GetAgent(ctx, techLead.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if agent.Status != store.AgentBlocked {
		t.Fatalf("expected tech lead blocked, got %s", agent.Status)
	}

	pending, err := st.ListPendingEscalations(ctx)
	if err != nil {
		t.Fatalf("ListPendingEscalations: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending escalation, got %d", len(pending))
	}
	if !pending[0].IsHumanTargeted() {
		t.Fatalf("expected the ambiguity escalation to be human-targeted")
	}

	stories, err := st.ListStoriesByRequirement(ctx, req.ID)
	if err != nil {
		t.Fatalf("ListStoriesByRequirement: %v", err)
	}
	if len(stories) != 0 {
		t.Fatalf("expected no stories on ambiguous plan, got %d", len(stories))
	}
}

func TestSubmitPlanRejectsInvalidDependencyIndex(t *testing.T) {
	sched, st, _ := newTestScheduler(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "git@example.com:b.git", RepoPath: "b"}
	if err := st.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	req := &store.Requirement{Title: "Req"}
	if err := st.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("CreateRequirement: %v", err)
	}
	techLead := &store.Agent{Role: store.RoleTechLead, Status: store.AgentWorking}
	if err := st.CreateAgent(ctx, techLead); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	plan := PlanResult{
		Stories: []PlanStory{
			{TeamName: "Backend", Title: "Self-dependent story", Complexity: 1, DependsOn: []int{0}},
		},
	}
	if _, err := sched.SubmitPlan(ctx, req.ID, techLead.ID, plan); err == nil {
		t.Fatalf("expected an error for a self-referencing dependency")
	}
}
