// Package linear implements a second PM connector, against Linear's
// GraphQL API, demonstrating that more than one real provider can be
// registered by name behind the same connectors.PM interface (spec §9).
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"hive/internal/connectors"
)

const endpoint = "https://api.linear.app/graphql"

func init() {
	connectors.RegisterPM("linear", func(cfg map[string]string) (connectors.PM, error) {
		return New(cfg["api_key"]), nil
	})
}

// Connector implements connectors.PM against Linear.
type Connector struct {
	apiKey string
	http   *http.Client
}

// New builds a Linear connector.
func New(apiKey string) *Connector {
	return &Connector{apiKey: apiKey, http: &http.Client{Timeout: connectors.DefaultTimeout}}
}

func (c *Connector) Name() string { return "linear" }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (c *Connector) query(ctx context.Context, q string, vars map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, connectors.DefaultTimeout)
	defer cancel()

	body, err := json.Marshal(gqlRequest{Query: q, Variables: vars})
	if err != nil {
		return connectors.ExternalErr("linear.query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return connectors.ExternalErr("linear.query", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return connectors.TimeoutErr("linear.query", err)
		}
		return connectors.ExternalErr("linear.query", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return connectors.ExternalErr("linear.query", fmt.Errorf("linear returned %d", resp.StatusCode))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// FetchEpic maps to a Linear project.
func (c *Connector) FetchEpic(ctx context.Context, key string) (connectors.Issue, error) {
	var resp struct {
		Data struct {
			Project struct{ ID, Name string } `json:"project"`
		} `json:"data"`
	}
	q := `query($id: String!) { project(id: $id) { id name } }`
	if err := c.query(ctx, q, map[string]any{"id": key}, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Data.Project.ID, Title: resp.Data.Project.Name}, nil
}

// CreateEpic creates a Linear project to stand in for an epic.
func (c *Connector) CreateEpic(ctx context.Context, title, description string) (connectors.Issue, error) {
	var resp struct {
		Data struct {
			ProjectCreate struct {
				Project struct{ ID, Name string } `json:"project"`
			} `json:"projectCreate"`
		} `json:"data"`
	}
	q := `mutation($name: String!, $description: String) { projectCreate(input: {name: $name, description: $description}) { project { id name } } }`
	if err := c.query(ctx, q, map[string]any{"name": title, "description": description}, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Data.ProjectCreate.Project.ID, Title: resp.Data.ProjectCreate.Project.Name}, nil
}

// CreateStory creates a Linear issue under a project.
func (c *Connector) CreateStory(ctx context.Context, epicKey, title, description string) (connectors.Issue, error) {
	var resp struct {
		Data struct {
			IssueCreate struct {
				Issue struct{ ID, Identifier, Title string } `json:"issue"`
			} `json:"issueCreate"`
		} `json:"data"`
	}
	q := `mutation($projectId: String!, $title: String!, $description: String) { issueCreate(input: {projectId: $projectId, title: $title, description: $description}) { issue { id identifier title } } }`
	if err := c.query(ctx, q, map[string]any{"projectId": epicKey, "title": title, "description": description}, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Data.IssueCreate.Issue.Identifier, Title: resp.Data.IssueCreate.Issue.Title}, nil
}

// TransitionStory moves an issue to the Linear workflow state mapped from
// hiveStatus.
func (c *Connector) TransitionStory(ctx context.Context, key, hiveStatus string, mapping connectors.StatusMapping) error {
	target, ok := mapping[hiveStatus]
	if !ok {
		return connectors.ExternalErr("TransitionStory", fmt.Errorf("no mapping for status %q", hiveStatus))
	}
	q := `mutation($id: String!, $stateId: String!) { issueUpdate(id: $id, input: {stateId: $stateId}) { success } }`
	return c.query(ctx, q, map[string]any{"id": key, "stateId": target}, nil)
}

// CreateSubtask creates a sub-issue under a story.
func (c *Connector) CreateSubtask(ctx context.Context, storyKey, title string) (connectors.Issue, error) {
	var resp struct {
		Data struct {
			IssueCreate struct {
				Issue struct{ ID, Identifier, Title string } `json:"issue"`
			} `json:"issueCreate"`
		} `json:"data"`
	}
	q := `mutation($parentId: String!, $title: String!) { issueCreate(input: {parentId: $parentId, title: $title}) { issue { id identifier title } } }`
	if err := c.query(ctx, q, map[string]any{"parentId": storyKey, "title": title}, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Data.IssueCreate.Issue.Identifier, Title: resp.Data.IssueCreate.Issue.Title}, nil
}

// TransitionSubtask moves a sub-issue to the mapped workflow state.
func (c *Connector) TransitionSubtask(ctx context.Context, key, hiveStatus string, mapping connectors.StatusMapping) error {
	return c.TransitionStory(ctx, key, hiveStatus, mapping)
}

// PostComment posts an event-context comment on an issue.
func (c *Connector) PostComment(ctx context.Context, key, event, context string) error {
	q := `mutation($issueId: String!, $body: String!) { commentCreate(input: {issueId: $issueId, body: $body}) { success } }`
	return c.query(ctx, q, map[string]any{"issueId": key, "body": fmt.Sprintf("[%s] %s", event, context)}, nil)
}

// PostSignOffReport posts a sign-off report as an issue comment.
func (c *Connector) PostSignOffReport(ctx context.Context, key, report string) error {
	return c.PostComment(ctx, key, "SIGN_OFF_REPORT", report)
}

// SearchIssues searches issues by a free-text filter (Linear has no JQL
// equivalent; q is used as the title-contains filter).
func (c *Connector) SearchIssues(ctx context.Context, q string) ([]connectors.Issue, error) {
	var resp struct {
		Data struct {
			Issues struct {
				Nodes []struct {
					Identifier string
					Title      string
					State      struct{ Name string }
				} `json:"nodes"`
			} `json:"issues"`
		} `json:"data"`
	}
	query := `query($filter: IssueFilter) { issues(filter: $filter) { nodes { identifier title state { name } } } }`
	filter := map[string]any{"title": map[string]any{"contains": q}}
	if err := c.query(ctx, query, map[string]any{"filter": filter}, &resp); err != nil {
		return nil, err
	}
	out := make([]connectors.Issue, 0, len(resp.Data.Issues.Nodes))
	for _, n := range resp.Data.Issues.Nodes {
		out = append(out, connectors.Issue{Key: n.Identifier, Title: n.Title, Status: n.State.Name})
	}
	return out, nil
}

// GetIssue fetches a single issue by its identifier.
func (c *Connector) GetIssue(ctx context.Context, key string) (connectors.Issue, error) {
	var resp struct {
		Data struct {
			Issue struct {
				Identifier string
				Title      string
				State      struct{ Name string }
			} `json:"issue"`
		} `json:"data"`
	}
	q := `query($id: String!) { issue(id: $id) { identifier title state { name } } }`
	if err := c.query(ctx, q, map[string]any{"id": key}, &resp); err != nil {
		return connectors.Issue{}, err
	}
	return connectors.Issue{Key: resp.Data.Issue.Identifier, Title: resp.Data.Issue.Title, Status: resp.Data.Issue.State.Name}, nil
}
