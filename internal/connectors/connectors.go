// Package connectors defines the narrow, provider-agnostic interfaces the
// core calls through to externalise and synchronise state with a Git/VCS
// host and a project-management provider (spec §4.6). Implementations
// register themselves by name; the core never imports provider code
// directly (spec §9).
package connectors

import (
	"context"
	"time"
)

// DefaultTimeout bounds every connector call (spec §4.6, §5).
const DefaultTimeout = 30 * time.Second

// PullRequestRef identifies a remote pull request.
type PullRequestRef struct {
	Number int
	URL    string
}

// VCS is the narrow interface the core calls through to the Git/VCS host.
type VCS interface {
	// SubmitPR opens a pull request for branch against base.
	SubmitPR(ctx context.Context, repoPath, branch, base, title, body string) (PullRequestRef, error)
	// ApprovePR marks a PR approved on the host side.
	ApprovePR(ctx context.Context, repoPath string, number int, notes string) error
	// MergePR merges a PR, optionally squashing and deleting the branch.
	MergePR(ctx context.Context, repoPath string, number int, squash, deleteBranch bool) error
	// ListOpenPRs lists open PRs for a repository.
	ListOpenPRs(ctx context.Context, repoPath string) ([]PullRequestRef, error)
	// CreateBranch creates a new branch from base.
	CreateBranch(ctx context.Context, repoPath, branch, base string) error
	// MergeBranch merges branch directly into base without going through
	// a pull request (used for feature sign-off's final merge to main).
	MergeBranch(ctx context.Context, repoPath, branch, base string) error
	// NotifyReviewer posts text to the session/PR's designated reviewer channel.
	NotifyReviewer(ctx context.Context, session, text string) error
}

// Issue is a provider-agnostic view of a PM issue/subtask/epic.
type Issue struct {
	Key       string
	Title     string
	Status    string
	ProjectKey string
}

// StatusMapping maps a local story status to the provider's own status
// vocabulary for PM.TransitionStory's round trip.
type StatusMapping map[string]string

// PM is the narrow interface the core calls through to the project
// management provider. Every implementation registers under a name; the
// core loads the provider named in configuration and degrades silently
// (no-op) when none is configured.
type PM interface {
	FetchEpic(ctx context.Context, key string) (Issue, error)
	CreateEpic(ctx context.Context, title, description string) (Issue, error)
	CreateStory(ctx context.Context, epicKey, title, description string) (Issue, error)
	TransitionStory(ctx context.Context, key, hiveStatus string, mapping StatusMapping) error
	CreateSubtask(ctx context.Context, storyKey, title string) (Issue, error)
	TransitionSubtask(ctx context.Context, key, hiveStatus string, mapping StatusMapping) error
	PostComment(ctx context.Context, key, event, context string) error
	PostSignOffReport(ctx context.Context, key, report string) error
	SearchIssues(ctx context.Context, jql string) ([]Issue, error)
	GetIssue(ctx context.Context, key string) (Issue, error)
	// Name returns the provider's registration name.
	Name() string
}
