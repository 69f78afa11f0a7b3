// Package store provides transactional persistence for every entity in the
// orchestrator's data model: teams, requirements, stories, agents, pull
// requests, escalations, the event log, and PM/VCS integration links.
package store

import "time"

// RequirementStatus is the lifecycle state of a Requirement.
type RequirementStatus string

const (
	ReqPending        RequirementStatus = "pending"
	ReqPlanning       RequirementStatus = "planning"
	ReqPlanned        RequirementStatus = "planned"
	ReqInProgress     RequirementStatus = "in_progress"
	ReqSignOff        RequirementStatus = "sign_off"
	ReqSignOffPassed  RequirementStatus = "sign_off_passed"
	ReqSignOffFailed  RequirementStatus = "sign_off_failed"
)

// StoryStatus is the lifecycle state of a Story.
type StoryStatus string

const (
	StoryDraft       StoryStatus = "draft"
	StoryEstimated   StoryStatus = "estimated"
	StoryPlanned     StoryStatus = "planned"
	StoryInProgress  StoryStatus = "in_progress"
	StoryReview      StoryStatus = "review"
	StoryPRSubmitted StoryStatus = "pr_submitted"
	StoryQAFailed    StoryStatus = "qa_failed"
	StoryQA          StoryStatus = "qa"
	StoryMerged      StoryStatus = "merged"
)

// storyOrder gives each status its position in the fixed lifecycle order
// used by forward-only transition checks (spec §3, §4.6, §9).
//
// qa_failed is placed at the same order as review (lateral), per the
// resolved Open Question in DESIGN.md: it never auto-advances past review
// and requires an explicit override to move anywhere else.
var storyOrder = map[StoryStatus]int{
	StoryDraft:       0,
	StoryEstimated:   1,
	StoryPlanned:     2,
	StoryInProgress:  3,
	StoryReview:      4,
	StoryQAFailed:    4,
	StoryPRSubmitted: 5,
	StoryQA:          6,
	StoryMerged:      7,
}

// IsForwardTransition reports whether to is at or after from in the fixed
// lifecycle order. qa -> qa_failed is the one explicitly permitted backward
// transition (spec §3) and is always allowed regardless of order. A story
// in qa_failed may not move to any other status without an override.
func IsForwardTransition(from, to StoryStatus) bool {
	if from == StoryQA && to == StoryQAFailed {
		return true
	}
	if from == StoryQAFailed {
		return to == StoryQAFailed
	}
	fo, ok1 := storyOrder[from]
	to2, ok2 := storyOrder[to]
	if !ok1 || !ok2 {
		return false
	}
	return to2 >= fo
}

// AgentRole is the kind of worker an Agent represents.
type AgentRole string

const (
	RoleTechLead     AgentRole = "tech_lead"
	RoleSenior       AgentRole = "senior"
	RoleIntermediate AgentRole = "intermediate"
	RoleJunior       AgentRole = "junior"
	RoleQA           AgentRole = "qa"
	RoleFeatureTest  AgentRole = "feature_test"
)

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentWorking    AgentStatus = "working"
	AgentBlocked    AgentStatus = "blocked"
	AgentTerminated AgentStatus = "terminated"
)

// PRStatus is the lifecycle state of a PullRequest.
type PRStatus string

const (
	PRQueued    PRStatus = "queued"
	PRReviewing PRStatus = "reviewing"
	PRApproved  PRStatus = "approved"
	PRMerged    PRStatus = "merged"
	PRRejected  PRStatus = "rejected"
	PRClosed    PRStatus = "closed"
)

// EscalationStatus is the lifecycle state of an Escalation.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationResolved EscalationStatus = "resolved"
)

// EventType is a closed enumeration used in the append-only log (spec §6).
type EventType string

const (
	EventAgentSpawned             EventType = "AGENT_SPAWNED"
	EventAgentTerminated          EventType = "AGENT_TERMINATED"
	EventPlanningStarted          EventType = "PLANNING_STARTED"
	EventPlanningCompleted        EventType = "PLANNING_COMPLETED"
	EventStoryCreated             EventType = "STORY_CREATED"
	EventStoryAssigned            EventType = "STORY_ASSIGNED"
	EventStoryStarted             EventType = "STORY_STARTED"
	EventStoryProgressUpdate      EventType = "STORY_PROGRESS_UPDATE"
	EventStoryReviewRequested     EventType = "STORY_REVIEW_REQUESTED"
	EventStoryCompleted           EventType = "STORY_COMPLETED"
	EventEscalationCreated        EventType = "ESCALATION_CREATED"
	EventPRSubmitted              EventType = "PR_SUBMITTED"
	EventPRReviewStarted          EventType = "PR_REVIEW_STARTED"
	EventPRApproved               EventType = "PR_APPROVED"
	EventPRMerged                 EventType = "PR_MERGED"
	EventPRRejected               EventType = "PR_REJECTED"
	EventPRClosed                 EventType = "PR_CLOSED"
	EventFeatureTestSpawned       EventType = "FEATURE_TEST_SPAWNED"
	EventFeatureSignOffTriggered  EventType = "FEATURE_SIGN_OFF_TRIGGERED"
	EventFeatureSignOffPassed     EventType = "FEATURE_SIGN_OFF_PASSED"
	EventFeatureSignOffFailed     EventType = "FEATURE_SIGN_OFF_FAILED"
	EventJiraSyncStarted          EventType = "JIRA_SYNC_STARTED"
	EventJiraSyncCompleted        EventType = "JIRA_SYNC_COMPLETED"
	EventJiraSyncWarning          EventType = "JIRA_SYNC_WARNING"
	EventJiraEpicCreated          EventType = "JIRA_EPIC_CREATED"
	EventJiraEpicIngested         EventType = "JIRA_EPIC_INGESTED"
	EventJiraStoryCreated         EventType = "JIRA_STORY_CREATED"
	EventJiraAssignmentRepaired   EventType = "JIRA_ASSIGNMENT_REPAIRED"
	EventJiraAssignRepairFailed   EventType = "JIRA_ASSIGNMENT_REPAIR_FAILED"
	EventJiraBoardPollStarted     EventType = "JIRA_BOARD_POLL_STARTED"
	EventJiraBoardPollCompleted   EventType = "JIRA_BOARD_POLL_COMPLETED"
)

// Team is a named repository. Created by add-repo; never mutated after.
type Team struct {
	ID       string
	Name     string
	RepoURL  string
	RepoPath string // relative local working-tree path

	JuniorMax       int
	IntermediateMax int
	SeniorMax       int

	CreatedAt time.Time
}

// Requirement is a user-submitted unit of work.
type Requirement struct {
	ID             string
	Title          string
	Description    string
	Submitter      string
	Status         RequirementStatus
	ExternalEpic   string // optional imported epic key
	FeatureBranch  string // integration branch for all its stories
	TargetBranch   string // default integration branch
	Godmode        bool   // force premium model

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AcceptanceCriterion is one ordered item of a Story's acceptance list.
type AcceptanceCriterion struct {
	Text string `json:"text"`
	Met  bool   `json:"met"`
}

// Story is the atomic unit the pipeline moves.
type Story struct {
	ID            string
	RequirementID string
	TeamID        string
	Title         string
	Description   string
	Acceptance    []AcceptanceCriterion
	Complexity    int // Fibonacci 1..13
	Points        int
	Dependencies  []string // story ids that must be merged first

	AssignedAgentID string // nullable ("" means unset)
	Branch          string
	Status          StoryStatus

	ExternalIssueKey   string
	ExternalSubtaskKey string
	ExternalProjectKey string
	ExternalProvider   string
	InSprint           bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Agent is a logical worker: a subprocess-backed session plus a state row.
type Agent struct {
	ID             string
	Role           AgentRole
	TeamID         string // nullable for tech_lead
	SessionName    string // nullable
	CLIFlavour     string // claude | codex | gemini | ...
	Status         AgentStatus
	CurrentStoryID string // nullable
	MemorySnapshot []byte // opaque

	LastSeen  time.Time
	CreatedAt time.Time
}

// PullRequest tracks one story's code-review/merge lifecycle.
type PullRequest struct {
	ID         string
	StoryID    string
	TeamID     string
	Branch     string
	ExternalNo int    // external PR number
	ExternalURL string

	Status        PRStatus
	SubmitterID   string
	ReviewerID    string // nullable
	ReviewNotes   string
	CloseReason   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Escalation surfaces a pending issue to another agent or to a human.
type Escalation struct {
	ID         string
	StoryID    string // nullable
	FromAgentID string // nullable
	ToAgentID  string // nullable; "" means human-targeted
	Reason     string
	Status     EscalationStatus
	Resolution string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogEntry is an append-only event record.
type LogEntry struct {
	ID        int64
	AgentID   string // nullable
	StoryID   string // nullable
	EventType EventType
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// IntegrationSync links a local entity to an external provider identity.
// One row per (EntityType, EntityID, Provider).
type IntegrationSync struct {
	EntityType string
	EntityID   string
	Provider   string
	ExternalID string
	UpdatedAt  time.Time
}

// IsHumanTargeted reports whether an escalation's target is a human
// (ToAgentID unset).
func (e Escalation) IsHumanTargeted() bool {
	return e.ToAgentID == ""
}

// IsOpenPR reports whether a pull request still occupies a merge-queue
// slot (not merged, closed, or rejected).
func (p PullRequest) IsOpenPR() bool {
	switch p.Status {
	case PRMerged, PRClosed, PRRejected:
		return false
	default:
		return true
	}
}

// IsTerminated reports whether an agent can no longer be assigned work.
func (a Agent) IsTerminated() bool {
	return a.Status == AgentTerminated
}
