package manager

import (
	"context"
	"fmt"

	"hive/internal/connectors"
	"hive/internal/store"
)

// storyStatusMapping maps local story statuses onto the vocabulary most
// issue trackers use for a story-level item. Individual connectors may
// reinterpret these names against their own workflow configuration.
var storyStatusMapping = connectors.StatusMapping{
	string(store.StoryDraft):       "Backlog",
	string(store.StoryEstimated):   "Backlog",
	string(store.StoryPlanned):     "To Do",
	string(store.StoryInProgress):  "In Progress",
	string(store.StoryReview):      "In Review",
	string(store.StoryPRSubmitted): "In Review",
	string(store.StoryQAFailed):    "In Review",
	string(store.StoryQA):          "In QA",
	string(store.StoryMerged):      "Done",
}

// jiraInboundStatus maps the provider's own status vocabulary back onto a
// single local story status for spec §4.6 part (d)'s pull direction. Several
// local statuses share a provider name going out (storyStatusMapping); the
// pull direction picks the one canonical target for each, and
// store.UpdateStoryStatus's forward-only check is what keeps an ambiguous
// or stale read from ever moving a story backward.
var jiraInboundStatus = map[string]store.StoryStatus{
	"Backlog":     store.StoryEstimated,
	"To Do":       store.StoryPlanned,
	"In Progress": store.StoryInProgress,
	"In Review":   store.StoryReview,
	"In QA":       store.StoryQA,
	"Done":        store.StoryMerged,
}

// checkPMSync implements spec §4.6's bidirectional PM sync, absent which
// this check is a silent no-op (spec §4.6: connector absence is never
// fatal). Each part runs independently so one provider hiccup never blocks
// the rest of the tick.
func (d *Daemon) checkPMSync(ctx context.Context) error {
	if d.pm == nil {
		return nil
	}

	if err := d.store.AppendLog(ctx, "", "", store.EventJiraSyncStarted, "pm sync tick started", nil); err != nil {
		d.log.Warn("pm sync: log failed", "error", err)
	}

	warnings := 0
	if err := d.pushNewStories(ctx); err != nil {
		d.log.Warn("pm sync: push new stories failed", "error", err)
		warnings++
	}
	if err := d.repairMissingSubtasks(ctx); err != nil {
		d.log.Warn("pm sync: repair missing subtasks failed", "error", err)
		warnings++
	}
	if err := d.retrySprintAssignment(ctx); err != nil {
		d.log.Warn("pm sync: sprint assignment retry failed", "error", err)
		warnings++
	}
	if err := d.pullExternalStatus(ctx); err != nil {
		d.log.Warn("pm sync: pull external status failed", "error", err)
		warnings++
	}
	if err := d.pushLocalStatus(ctx); err != nil {
		d.log.Warn("pm sync: push local status failed", "error", err)
		warnings++
	}

	if warnings > 0 {
		if err := d.store.AppendLog(ctx, "", "", store.EventJiraSyncWarning,
			fmt.Sprintf("pm sync tick completed with %d part(s) failing", warnings), nil); err != nil {
			d.log.Warn("pm sync: log failed", "error", err)
		}
		return nil
	}
	return d.store.AppendLog(ctx, "", "", store.EventJiraSyncCompleted, "pm sync tick completed", nil)
}

// pushNewStories implements spec §4.6 part (a): every story with no
// external_issue_key is pushed outward, creating the requirement's epic
// first if it doesn't have one yet.
func (d *Daemon) pushNewStories(ctx context.Context) error {
	stories, err := d.store.ListStoriesWithoutExternalKey(ctx)
	if err != nil {
		return err
	}

	epics := make(map[string]string) // requirement id -> epic key, cached for this tick
	for _, s := range stories {
		req, err := d.store.GetRequirement(ctx, s.RequirementID)
		if err != nil {
			d.log.Warn("pm sync: push story: get requirement failed", "story", s.ID, "error", err)
			continue
		}

		epicKey := req.ExternalEpic
		if epicKey == "" {
			if cached, ok := epics[req.ID]; ok {
				epicKey = cached
			} else {
				issue, err := d.pm.CreateEpic(ctx, req.Title, req.Description)
				if err != nil {
					d.log.Warn("pm sync: create epic failed", "requirement", req.ID, "error", err)
					continue
				}
				epicKey = issue.Key
				epics[req.ID] = epicKey
				if err := d.store.UpdateRequirementEpic(ctx, req.ID, epicKey); err != nil {
					d.log.Warn("pm sync: record epic failed", "requirement", req.ID, "error", err)
				}
				if err := d.store.AppendLog(ctx, "", "", store.EventJiraEpicCreated,
					fmt.Sprintf("requirement %s: epic %s created", req.ID, epicKey), nil); err != nil {
					d.log.Warn("pm sync: log failed", "error", err)
				}
			}
		}

		issue, err := d.pm.CreateStory(ctx, epicKey, s.Title, s.Description)
		if err != nil {
			d.log.Warn("pm sync: create story failed", "story", s.ID, "error", err)
			continue
		}
		if err := d.store.UpdateStoryExternalLink(ctx, s.ID, issue.Key, "", issue.ProjectKey, d.pm.Name()); err != nil {
			d.log.Warn("pm sync: record story link failed", "story", s.ID, "error", err)
			continue
		}
		if err := d.store.AppendLog(ctx, "", s.ID, store.EventJiraStoryCreated,
			fmt.Sprintf("pushed as %s", issue.Key), nil); err != nil {
			d.log.Warn("pm sync: log failed", "error", err)
		}
	}
	return nil
}

// repairMissingSubtasks implements spec §4.6 part (b): a story already
// pushed and assigned to an agent but with no subtask yet gets one created,
// so the agent's actual work has something to hang PM comments off of.
func (d *Daemon) repairMissingSubtasks(ctx context.Context) error {
	stories, err := d.store.ListStoriesMissingSubtask(ctx)
	if err != nil {
		return err
	}
	for _, s := range stories {
		issue, err := d.pm.CreateSubtask(ctx, s.ExternalIssueKey, s.Title)
		if err != nil {
			d.log.Warn("pm sync: repair subtask failed", "story", s.ID, "error", err)
			if logErr := d.store.AppendLog(ctx, "", s.ID, store.EventJiraAssignRepairFailed, err.Error(), nil); logErr != nil {
				d.log.Warn("pm sync: log failed", "error", logErr)
			}
			continue
		}
		if err := d.store.UpdateStoryExternalLink(ctx, s.ID, s.ExternalIssueKey, issue.Key, s.ExternalProjectKey, s.ExternalProvider); err != nil {
			d.log.Warn("pm sync: record subtask link failed", "story", s.ID, "error", err)
			continue
		}
		if err := d.store.AppendLog(ctx, "", s.ID, store.EventJiraAssignmentRepaired,
			fmt.Sprintf("subtask %s created", issue.Key), nil); err != nil {
			d.log.Warn("pm sync: log failed", "error", err)
		}
	}
	return nil
}

// retrySprintAssignment implements spec §4.6 part (c): poll the board for
// stories already pushed to the PM provider but not yet confirmed on a
// sprint, via a project-scoped JQL search rather than a per-story status
// call the PM interface has no method for.
func (d *Daemon) retrySprintAssignment(ctx context.Context) error {
	stories, err := d.store.ListStoriesNotInSprint(ctx)
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		return nil
	}

	byProject := make(map[string][]store.Story)
	for _, s := range stories {
		byProject[s.ExternalProjectKey] = append(byProject[s.ExternalProjectKey], s)
	}

	for project, projectStories := range byProject {
		if err := d.store.AppendLog(ctx, "", "", store.EventJiraBoardPollStarted,
			fmt.Sprintf("polling project %s for sprint membership", project), nil); err != nil {
			d.log.Warn("pm sync: log failed", "error", err)
		}

		jql := fmt.Sprintf("project = %s AND sprint in openSprints()", project)
		issues, err := d.pm.SearchIssues(ctx, jql)
		if err != nil {
			d.log.Warn("pm sync: board poll failed", "project", project, "error", err)
			continue
		}
		inSprint := make(map[string]bool, len(issues))
		for _, issue := range issues {
			inSprint[issue.Key] = true
		}

		found := 0
		for _, s := range projectStories {
			if !inSprint[s.ExternalIssueKey] {
				continue
			}
			if err := d.store.SetStoryInSprint(ctx, s.ID, true); err != nil {
				d.log.Warn("pm sync: record sprint membership failed", "story", s.ID, "error", err)
				continue
			}
			found++
		}

		if err := d.store.AppendLog(ctx, "", "", store.EventJiraBoardPollCompleted,
			fmt.Sprintf("project %s: %d of %d stories now in sprint", project, found, len(projectStories)), nil); err != nil {
			d.log.Warn("pm sync: log failed", "error", err)
		}
	}
	return nil
}

// pullExternalStatus implements spec §4.6 part (d): read each synced
// story's current provider status and apply it locally, forward-only --
// store.UpdateStoryStatus's own check rejects anything that isn't.
func (d *Daemon) pullExternalStatus(ctx context.Context) error {
	for _, status := range inFlightStoryStatuses() {
		stories, err := d.store.ListStoriesByStatus(ctx, "", status)
		if err != nil {
			return err
		}
		for _, s := range stories {
			if s.ExternalIssueKey == "" {
				continue
			}
			issue, err := d.pm.GetIssue(ctx, s.ExternalIssueKey)
			if err != nil {
				d.log.Warn("pm sync: pull status failed", "story", s.ID, "error", err)
				continue
			}
			target, ok := jiraInboundStatus[issue.Status]
			if !ok || target == s.Status {
				continue
			}
			if err := d.store.UpdateStoryStatus(ctx, s.ID, target, false, fmt.Sprintf("pulled from %s: %s", d.pm.Name(), issue.Status)); err != nil {
				if store.KindOf(err) != store.KindInvalidState {
					d.log.Warn("pm sync: apply pulled status failed", "story", s.ID, "error", err)
				}
			}
		}
	}
	return nil
}

// pushLocalStatus implements spec §4.6 part (e): every story carrying an
// external issue key has its local status pushed outward.
func (d *Daemon) pushLocalStatus(ctx context.Context) error {
	for _, status := range []store.StoryStatus{
		store.StoryInProgress, store.StoryReview, store.StoryPRSubmitted,
		store.StoryQA, store.StoryQAFailed, store.StoryMerged,
	} {
		stories, err := d.store.ListStoriesByStatus(ctx, "", status)
		if err != nil {
			return err
		}
		for _, s := range stories {
			if s.ExternalIssueKey == "" {
				continue
			}
			if err := d.syncStoryOutward(ctx, s); err != nil {
				d.log.Warn("pm sync: push failed", "story", s.ID, "error", err)
			}
		}
	}
	return nil
}

func (d *Daemon) syncStoryOutward(ctx context.Context, s store.Story) error {
	sync, err := d.store.GetSync(ctx, "story", s.ID, d.pm.Name())
	if err == nil && sync.ExternalID == string(s.Status) {
		return nil // already synced at this status
	}

	if err := d.pm.TransitionStory(ctx, s.ExternalIssueKey, string(s.Status), storyStatusMapping); err != nil {
		return err
	}
	if s.ExternalSubtaskKey != "" {
		if err := d.pm.TransitionSubtask(ctx, s.ExternalSubtaskKey, string(s.Status), storyStatusMapping); err != nil {
			d.log.Warn("pm sync: subtask transition failed", "story", s.ID, "error", err)
		}
	}
	if err := d.pm.PostComment(ctx, s.ExternalIssueKey, string(s.Status), fmt.Sprintf("story %s moved to %s", s.ID, s.Status)); err != nil {
		d.log.Warn("pm sync: post comment failed", "story", s.ID, "error", err)
	}

	return d.store.UpsertSync(ctx, store.IntegrationSync{
		EntityType: "story",
		EntityID:   s.ID,
		Provider:   d.pm.Name(),
		ExternalID: string(s.Status),
	})
}
