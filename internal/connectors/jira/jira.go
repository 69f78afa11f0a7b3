// Package jira implements the PM connector against the Jira Cloud REST
// API. No Jira SDK exists in the example corpus (see DESIGN.md), so this
// is a small typed client built directly over net/http, in the style of
// the teacher's own hand-rolled HTTP clients.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"hive/internal/connectors"
)

func init() {
	connectors.RegisterPM("jira", func(cfg map[string]string) (connectors.PM, error) {
		return New(cfg["base_url"], cfg["email"], cfg["api_token"]), nil
	})
}

// Connector implements connectors.PM against Jira Cloud.
type Connector struct {
	baseURL  string
	email    string
	apiToken string
	http     *http.Client
}

// New builds a Jira connector. baseURL is the site root, e.g.
// "https://example.atlassian.net".
func New(baseURL, email, apiToken string) *Connector {
	return &Connector{
		baseURL:  baseURL,
		email:    email,
		apiToken: apiToken,
		http:     &http.Client{Timeout: connectors.DefaultTimeout},
	}
}

func (c *Connector) Name() string { return "jira" }

type issueResponse struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"fields"`
}

func (r issueResponse) toIssue() connectors.Issue {
	return connectors.Issue{Key: r.Key, Title: r.Fields.Summary, Status: r.Fields.Status.Name, ProjectKey: r.Fields.Project.Key}
}

func (c *Connector) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return connectors.ExternalErr("jira.do", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return connectors.ExternalErr("jira.do", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.email, c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return connectors.TimeoutErr("jira.do", err)
		}
		return connectors.ExternalErr("jira.do", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return connectors.ExternalErr("jira.do", fmt.Errorf("jira returned %d for %s %s", resp.StatusCode, method, path))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// FetchEpic retrieves an epic by key.
func (c *Connector) FetchEpic(ctx context.Context, key string) (connectors.Issue, error) {
	return c.GetIssue(ctx, key)
}

// CreateEpic creates a new epic.
func (c *Connector) CreateEpic(ctx context.Context, title, description string) (connectors.Issue, error) {
	var resp struct {
		Key string `json:"key"`
	}
	body := map[string]any{
		"fields": map[string]any{
			"summary":     title,
			"description": description,
			"issuetype":   map[string]string{"name": "Epic"},
		},
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", body, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Key, Title: title}, nil
}

// CreateStory creates a story under an epic.
func (c *Connector) CreateStory(ctx context.Context, epicKey, title, description string) (connectors.Issue, error) {
	var resp struct {
		Key string `json:"key"`
	}
	body := map[string]any{
		"fields": map[string]any{
			"summary":     title,
			"description": description,
			"issuetype":   map[string]string{"name": "Story"},
			"parent":      map[string]string{"key": epicKey},
		},
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", body, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Key, Title: title}, nil
}

// TransitionStory moves a story to the Jira status mapped from hiveStatus.
func (c *Connector) TransitionStory(ctx context.Context, key, hiveStatus string, mapping connectors.StatusMapping) error {
	target, ok := mapping[hiveStatus]
	if !ok {
		return connectors.ExternalErr("TransitionStory", fmt.Errorf("no mapping for status %q", hiveStatus))
	}
	body := map[string]any{"transition": map[string]string{"id": target}}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rest/api/3/issue/%s/transitions", key), body, nil)
}

// CreateSubtask creates a subtask under a story.
func (c *Connector) CreateSubtask(ctx context.Context, storyKey, title string) (connectors.Issue, error) {
	var resp struct {
		Key string `json:"key"`
	}
	body := map[string]any{
		"fields": map[string]any{
			"summary":   title,
			"issuetype": map[string]string{"name": "Subtask"},
			"parent":    map[string]string{"key": storyKey},
		},
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", body, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Key, Title: title}, nil
}

// TransitionSubtask moves a subtask to the Jira status mapped from hiveStatus.
func (c *Connector) TransitionSubtask(ctx context.Context, key, hiveStatus string, mapping connectors.StatusMapping) error {
	return c.TransitionStory(ctx, key, hiveStatus, mapping)
}

// PostComment posts an event-context comment.
func (c *Connector) PostComment(ctx context.Context, key, event, context string) error {
	body := map[string]any{"body": fmt.Sprintf("[%s] %s", event, context)}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rest/api/3/issue/%s/comment", key), body, nil)
}

// PostSignOffReport posts a sign-off report as an issue comment.
func (c *Connector) PostSignOffReport(ctx context.Context, key, report string) error {
	return c.PostComment(ctx, key, "SIGN_OFF_REPORT", report)
}

// SearchIssues runs a JQL search.
func (c *Connector) SearchIssues(ctx context.Context, jql string) ([]connectors.Issue, error) {
	var resp struct {
		Issues []issueResponse `json:"issues"`
	}
	body := map[string]any{"jql": jql}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/search", body, &resp); err != nil {
		return nil, err
	}
	out := make([]connectors.Issue, 0, len(resp.Issues))
	for _, ir := range resp.Issues {
		out = append(out, ir.toIssue())
	}
	return out, nil
}

// GetIssue fetches a single issue by key.
func (c *Connector) GetIssue(ctx context.Context, key string) (connectors.Issue, error) {
	var resp issueResponse
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/issue/"+key, nil, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return resp.toIssue(), nil
}
