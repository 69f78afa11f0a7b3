// Package github implements the VCS connector against GitHub via
// google/go-github.
package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"

	"hive/internal/connectors"
)

func init() {
	connectors.RegisterVCS("github", func(cfg map[string]string) (connectors.VCS, error) {
		return New(cfg["token"]), nil
	})
}

// Connector implements connectors.VCS against the GitHub REST API.
type Connector struct {
	client *github.Client
}

// New builds a GitHub connector. An empty token yields an unauthenticated
// client, sufficient for read-only operations against public repos.
func New(token string) *Connector {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &Connector{client: client}
}

// ownerRepo splits a "owner/repo" path. repoPath is expected to carry the
// GitHub slug form regardless of local working-tree layout.
func ownerRepo(repoPath string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSuffix(repoPath, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repoPath %q is not in owner/repo form", repoPath)
	}
	return parts[0], parts[1], nil
}

// SubmitPR opens a pull request for branch against base.
func (c *Connector) SubmitPR(ctx context.Context, repoPath, branch, base, title, body string) (connectors.PullRequestRef, error) {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	owner, repo, err := ownerRepo(repoPath)
	if err != nil {
		return connectors.PullRequestRef{}, connectors.ExternalErr("SubmitPR", err)
	}

	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: &title,
		Head:  &branch,
		Base:  &base,
		Body:  &body,
	})
	if err != nil {
		return connectors.PullRequestRef{}, connectors.ExternalErr("SubmitPR", err)
	}
	return connectors.PullRequestRef{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// ApprovePR posts an approving review.
func (c *Connector) ApprovePR(ctx context.Context, repoPath string, number int, notes string) error {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	owner, repo, err := ownerRepo(repoPath)
	if err != nil {
		return connectors.ExternalErr("ApprovePR", err)
	}

	event := "APPROVE"
	_, _, err = c.client.PullRequests.CreateReview(ctx, owner, repo, number, &github.PullRequestReviewRequest{
		Body:  &notes,
		Event: &event,
	})
	if err != nil {
		return connectors.ExternalErr("ApprovePR", err)
	}
	return nil
}

// MergePR squash-merges (or merge-commits) a PR and optionally deletes
// the source branch.
func (c *Connector) MergePR(ctx context.Context, repoPath string, number int, squash, deleteBranch bool) error {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	owner, repo, err := ownerRepo(repoPath)
	if err != nil {
		return connectors.ExternalErr("MergePR", err)
	}

	method := "merge"
	if squash {
		method = "squash"
	}
	_, _, err = c.client.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{MergeMethod: method})
	if err != nil {
		return connectors.ExternalErr("MergePR", err)
	}

	if deleteBranch {
		pr, _, perr := c.client.PullRequests.Get(ctx, owner, repo, number)
		if perr == nil && pr.Head != nil && pr.Head.Ref != nil {
			_, _ = c.client.Git.DeleteRef(ctx, owner, repo, "refs/heads/"+pr.GetHead().GetRef())
		}
	}
	return nil
}

// ListOpenPRs lists open pull requests.
func (c *Connector) ListOpenPRs(ctx context.Context, repoPath string) ([]connectors.PullRequestRef, error) {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	owner, repo, err := ownerRepo(repoPath)
	if err != nil {
		return nil, connectors.ExternalErr("ListOpenPRs", err)
	}

	prs, _, err := c.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{State: "open"})
	if err != nil {
		return nil, connectors.ExternalErr("ListOpenPRs", err)
	}

	out := make([]connectors.PullRequestRef, 0, len(prs))
	for _, pr := range prs {
		out = append(out, connectors.PullRequestRef{Number: pr.GetNumber(), URL: pr.GetHTMLURL()})
	}
	return out, nil
}

// CreateBranch creates branch from base's current head.
func (c *Connector) CreateBranch(ctx context.Context, repoPath, branch, base string) error {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	owner, repo, err := ownerRepo(repoPath)
	if err != nil {
		return connectors.ExternalErr("CreateBranch", err)
	}

	baseRef, _, err := c.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+base)
	if err != nil {
		return connectors.ExternalErr("CreateBranch", err)
	}

	ref := "refs/heads/" + branch
	_, _, err = c.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    &ref,
		Object: baseRef.Object,
	})
	if err != nil {
		return connectors.ExternalErr("CreateBranch", err)
	}
	return nil
}

// MergeBranch merges branch into base directly via the repository merge
// API, bypassing pull request review (spec §4.3.7's sign-off-pass merge).
func (c *Connector) MergeBranch(ctx context.Context, repoPath, branch, base string) error {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	owner, repo, err := ownerRepo(repoPath)
	if err != nil {
		return connectors.ExternalErr("MergeBranch", err)
	}

	_, _, err = c.client.Repositories.Merge(ctx, owner, repo, &github.RepositoryMergeRequest{
		Base: &base,
		Head: &branch,
	})
	if err != nil {
		return connectors.ExternalErr("MergeBranch", err)
	}
	return nil
}

// NotifyReviewer satisfies the VCS interface but posts nothing on GitHub:
// GitHub has no session concept and no repo/PR number is in scope here, so
// it returns nil without making any API call.
func (c *Connector) NotifyReviewer(ctx context.Context, session, text string) error {
	return nil
}
