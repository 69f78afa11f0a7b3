package manager

import (
	"context"
	"path/filepath"
	"testing"

	"hive/internal/connectors"
	"hive/internal/store"
)

type fakePM struct {
	epics       map[string]connectors.Issue
	createdEpic int
	stories     map[string]connectors.Issue // key -> issue
	subtasks    map[string]string            // story key -> subtask key
	issueStatus map[string]string            // key -> status name returned by GetIssue
	sprintKeys  map[string]bool              // keys SearchIssues reports back
	comments    int
	reports     []string
}

func newFakePM() *fakePM {
	return &fakePM{
		epics:       map[string]connectors.Issue{},
		stories:     map[string]connectors.Issue{},
		subtasks:    map[string]string{},
		issueStatus: map[string]string{},
		sprintKeys:  map[string]bool{},
	}
}

func (f *fakePM) Name() string { return "jira" }

func (f *fakePM) FetchEpic(ctx context.Context, key string) (connectors.Issue, error) {
	return f.epics[key], nil
}

func (f *fakePM) CreateEpic(ctx context.Context, title, description string) (connectors.Issue, error) {
	f.createdEpic++
	issue := connectors.Issue{Key: "EPIC-1", Title: title}
	f.epics[issue.Key] = issue
	return issue, nil
}

func (f *fakePM) CreateStory(ctx context.Context, epicKey, title, description string) (connectors.Issue, error) {
	issue := connectors.Issue{Key: "STORY-1", Title: title, ProjectKey: "PROJ"}
	f.stories[issue.Key] = issue
	return issue, nil
}

func (f *fakePM) TransitionStory(ctx context.Context, key, hiveStatus string, mapping connectors.StatusMapping) error {
	return nil
}

func (f *fakePM) CreateSubtask(ctx context.Context, storyKey, title string) (connectors.Issue, error) {
	issue := connectors.Issue{Key: storyKey + "-SUB"}
	f.subtasks[storyKey] = issue.Key
	return issue, nil
}

func (f *fakePM) TransitionSubtask(ctx context.Context, key, hiveStatus string, mapping connectors.StatusMapping) error {
	return nil
}

func (f *fakePM) PostComment(ctx context.Context, key, event, context string) error {
	f.comments++
	return nil
}

func (f *fakePM) PostSignOffReport(ctx context.Context, key, report string) error {
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakePM) SearchIssues(ctx context.Context, jql string) ([]connectors.Issue, error) {
	var out []connectors.Issue
	for key := range f.sprintKeys {
		out = append(out, connectors.Issue{Key: key})
	}
	return out, nil
}

func (f *fakePM) GetIssue(ctx context.Context, key string) (connectors.Issue, error) {
	return connectors.Issue{Key: key, Status: f.issueStatus[key]}, nil
}

func newTestDaemonWithPM(t *testing.T) (*Daemon, *store.Store, *fakePM) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "hive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db, store.NewFileLock(filepath.Join(dir, "hive.lock")))
	pm := newFakePM()
	cfg := DefaultConfig()
	d := New(st, newFakeSupervisor(), nil, nil, pm, nil, nil, cfg, nil)
	return d, st, pm
}

func TestPushNewStoriesCreatesEpicAndLinksStory(t *testing.T) {
	d, st, pm := newTestDaemonWithPM(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	if err := st.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	req := &store.Requirement{Title: "req"}
	if err := st.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("CreateRequirement: %v", err)
	}
	story := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "story"}
	if err := st.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	if err := d.pushNewStories(ctx); err != nil {
		t.Fatalf("pushNewStories: %v", err)
	}

	if pm.createdEpic != 1 {
		t.Fatalf("expected one epic created, got %d", pm.createdEpic)
	}
	got, err := st.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.ExternalIssueKey != "STORY-1" {
		t.Fatalf("expected story linked to STORY-1, got %q", got.ExternalIssueKey)
	}
	gotReq, err := st.GetRequirement(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequirement: %v", err)
	}
	if gotReq.ExternalEpic != "EPIC-1" {
		t.Fatalf("expected requirement epic EPIC-1, got %q", gotReq.ExternalEpic)
	}
}

func TestPullExternalStatusAppliesForwardOnly(t *testing.T) {
	d, st, pm := newTestDaemonWithPM(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	if err := st.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	req := &store.Requirement{Title: "req"}
	if err := st.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("CreateRequirement: %v", err)
	}
	story := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "story", Status: store.StoryInProgress, ExternalIssueKey: "STORY-9"}
	if err := st.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	pm.issueStatus["STORY-9"] = "In Review"
	if err := d.pullExternalStatus(ctx); err != nil {
		t.Fatalf("pullExternalStatus: %v", err)
	}
	got, err := st.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.Status != store.StoryReview {
		t.Fatalf("expected story moved to review, got %s", got.Status)
	}

	// a provider read reporting an earlier status must never move the
	// story backward.
	pm.issueStatus["STORY-9"] = "To Do"
	if err := d.pullExternalStatus(ctx); err != nil {
		t.Fatalf("pullExternalStatus (backward attempt): %v", err)
	}
	got, err = st.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if got.Status != store.StoryReview {
		t.Fatalf("expected story to remain in review, got %s", got.Status)
	}
}

func TestRetrySprintAssignmentMarksConfirmedStories(t *testing.T) {
	d, st, pm := newTestDaemonWithPM(t)
	ctx := context.Background()

	team := &store.Team{Name: "Backend", RepoURL: "x", RepoPath: "x"}
	if err := st.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	req := &store.Requirement{Title: "req"}
	if err := st.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("CreateRequirement: %v", err)
	}
	story := &store.Story{RequirementID: req.ID, TeamID: team.ID, Title: "story", ExternalIssueKey: "STORY-5", ExternalProjectKey: "PROJ"}
	if err := st.CreateStory(ctx, story); err != nil {
		t.Fatalf("CreateStory: %v", err)
	}

	pm.sprintKeys["STORY-5"] = true
	if err := d.retrySprintAssignment(ctx); err != nil {
		t.Fatalf("retrySprintAssignment: %v", err)
	}

	got, err := st.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if !got.InSprint {
		t.Fatalf("expected story marked in_sprint")
	}
}
