package scheduler

import (
	"context"
	"fmt"

	"hive/internal/store"
)

// PlanStory is one story out of a Tech Lead's planning response.
type PlanStory struct {
	TeamName    string
	Title       string
	Description string
	Acceptance  []string
	Complexity  int
	DependsOn   []int // indices into the enclosing PlanResult.Stories slice
}

// PlanResult is the Tech Lead's one-shot planning response for a
// requirement (spec.md §9: "the in-process agent abstraction ... mediates
// the one-shot planning call for Tech Lead").
type PlanResult struct {
	Stories         []PlanStory
	NeedsHumanInput bool
	Reason          string
}

// SubmitPlan implements the Tech-Lead-planning and escalation-on-ambiguity
// scenarios of spec.md §8. A confident plan creates every story with its
// dependency edges resolved to story ids, then advances both the stories
// and the requirement straight to planned in one call; an ambiguous plan
// instead escalates to a human and blocks the Tech Lead agent.
func (s *Scheduler) SubmitPlan(ctx context.Context, requirementID, techLeadAgentID string, plan PlanResult) (int, error) {
	if err := s.store.AppendLog(ctx, techLeadAgentID, "", store.EventPlanningStarted,
		fmt.Sprintf("planning started for %s", requirementID), nil); err != nil {
		return 0, err
	}

	if plan.NeedsHumanInput {
		esc := &store.Escalation{FromAgentID: techLeadAgentID, Reason: plan.Reason}
		if _, err := s.store.CreateEscalation(ctx, esc, 0); err != nil {
			return 0, err
		}
		if err := s.store.UpdateAgentStatus(ctx, techLeadAgentID, store.AgentBlocked); err != nil {
			return 0, err
		}
		return 0, nil
	}

	ids := make([]string, len(plan.Stories))
	for i := range plan.Stories {
		ids[i] = store.NewID("STORY")
	}

	for i, ps := range plan.Stories {
		team, err := s.store.GetTeamByName(ctx, ps.TeamName)
		if err != nil {
			return 0, fmt.Errorf("resolve team %q for story %d: %w", ps.TeamName, i, err)
		}

		deps := make([]string, 0, len(ps.DependsOn))
		for _, idx := range ps.DependsOn {
			if idx < 0 || idx >= len(ids) || idx == i {
				return 0, fmt.Errorf("story %d: invalid dependency index %d", i, idx)
			}
			deps = append(deps, ids[idx])
		}

		acceptance := make([]store.AcceptanceCriterion, 0, len(ps.Acceptance))
		for _, text := range ps.Acceptance {
			acceptance = append(acceptance, store.AcceptanceCriterion{Text: text})
		}

		story := &store.Story{
			ID:            ids[i],
			RequirementID: requirementID,
			TeamID:        team.ID,
			Title:         ps.Title,
			Description:   ps.Description,
			Acceptance:    acceptance,
			Complexity:    ps.Complexity,
			Dependencies:  deps,
			Status:        store.StoryEstimated,
		}
		if err := s.store.CreateStory(ctx, story); err != nil {
			return 0, err
		}
	}

	for _, id := range ids {
		if err := s.store.UpdateStoryStatus(ctx, id, store.StoryPlanned, false, "planning complete"); err != nil {
			return 0, err
		}
	}

	if err := s.store.UpdateRequirementStatus(ctx, requirementID, store.ReqPlanned); err != nil {
		return 0, err
	}
	if err := s.store.AppendLog(ctx, techLeadAgentID, "", store.EventPlanningCompleted,
		fmt.Sprintf("planning completed for %s: %d stories", requirementID, len(ids)), nil); err != nil {
		s.log.Warn("SubmitPlan: log failed", "error", err)
	}

	return len(ids), nil
}
