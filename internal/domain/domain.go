package domain

// ScheduledTask is one activity row of an imported schedule.
type ScheduledTask struct {
	ID          string `json:"id"`
	ActivityID1 string `json:"activity_id_1,omitempty"`
	ActivityID2 string `json:"activity_id_2,omitempty"`
	ActivityID3 string `json:"activity_id_3,omitempty"`
	Name        string `json:"name"`
	Duration    int    `json:"duration"`
	StartDate   string `json:"start_date" format:"date"`
	EndDate     string `json:"end_date" format:"date"`
	Level       int    `json:"level" enum:"1,2,3"`
}

// TaskLevel derives the hierarchy depth from the populated activity ids.
func TaskLevel(id1, id2, id3 string) int {
	switch {
	case id3 != "":
		return 3
	case id2 != "":
		return 2
	default:
		return 1
	}
}

type MilestoneKey string

const (
	MilestoneMZPArrival   MilestoneKey = "mzp_arrival"
	MilestoneMZPDeparture MilestoneKey = "mzp_departure"
	MilestoneLoadoutStart MilestoneKey = "loadout_start"
	MilestoneLoadoutEnd   MilestoneKey = "loadout_end"
	MilestoneAGIArrival   MilestoneKey = "agi_arrival"
	MilestoneAGIDeparture MilestoneKey = "agi_departure"
	MilestoneDocDeadline  MilestoneKey = "doc_deadline"
)

// MilestoneKeys lists the closed set of milestone keys in display order.
var MilestoneKeys = []MilestoneKey{
	MilestoneMZPArrival,
	MilestoneMZPDeparture,
	MilestoneLoadoutStart,
	MilestoneLoadoutEnd,
	MilestoneAGIArrival,
	MilestoneAGIDeparture,
	MilestoneDocDeadline,
}

func (k MilestoneKey) Valid() bool {
	for _, known := range MilestoneKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Voyage is a group of tasks sharing a trip key, with milestone dates as YYYY-MM-DD.
type Voyage struct {
	ID           string                  `json:"id"`
	Label        string                  `json:"label"`
	CargoLabel   string                  `json:"cargo_label,omitempty"`
	TripGroupKey string                  `json:"trip_group_key"`
	Milestones   map[MilestoneKey]string `json:"milestones"`
}

// Milestone returns the date string for key and whether it is known.
func (v Voyage) Milestone(key MilestoneKey) (string, bool) {
	if v.Milestones == nil {
		return "", false
	}
	s, ok := v.Milestones[key]
	if s == "" {
		return "", false
	}
	return s, ok
}

type OffsetType string

const (
	OffsetCalendarDays OffsetType = "calendar_days"
	OffsetBusinessDays OffsetType = "business_days"
)

type Scope string

const (
	ScopeVoyage  Scope = "voyage"
	ScopeUnit    Scope = "unit"
	ScopeProject Scope = "project"
)

type Priority string

const (
	PriorityCritical    Priority = "critical"
	PriorityImportant   Priority = "important"
	PriorityStandard    Priority = "standard"
	PriorityRecommended Priority = "recommended"
)

type Anchor struct {
	MilestoneKey MilestoneKey `json:"milestone_key" yaml:"milestone_key"`
	OffsetDays   int          `json:"offset_days" yaml:"offset_days"`
	OffsetType   OffsetType   `json:"offset_type" yaml:"offset_type" enum:"calendar_days,business_days"`
}

type AppliesTo struct {
	Scope Scope `json:"scope" yaml:"scope" enum:"voyage,unit,project"`
}

type EvidenceRequirement struct {
	ID       string `json:"id" yaml:"id"`
	Type     string `json:"type" yaml:"type" enum:"file,url,text"`
	Label    string `json:"label" yaml:"label"`
	Required bool   `json:"required" yaml:"required"`
	MinCount int    `json:"min_count" yaml:"min_count"`
}

type TemplateLinks struct {
	ScheduleTags []string `json:"schedule_tags,omitempty" yaml:"schedule_tags,omitempty"`
	TideRequired bool     `json:"tide_required,omitempty" yaml:"tide_required,omitempty"`
}

// DocTemplate is the catalog rule for a compliance document.
type DocTemplate struct {
	ID           string                `json:"id" yaml:"id"`
	Title        string                `json:"title" yaml:"title"`
	CategoryID   string                `json:"category_id" yaml:"category_id"`
	Priority     Priority              `json:"priority" yaml:"priority" enum:"critical,important,standard,recommended"`
	Description  string                `json:"description,omitempty" yaml:"description,omitempty"`
	AppliesTo    AppliesTo             `json:"applies_to" yaml:"applies_to"`
	Anchor       Anchor                `json:"anchor" yaml:"anchor"`
	Dependencies []string              `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Evidence     []EvidenceRequirement `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Links        TemplateLinks         `json:"links" yaml:"links,omitempty"`
}

type WorkflowState string

const (
	StateNotStarted       WorkflowState = "not_started"
	StateInProgress       WorkflowState = "in_progress"
	StateInReview         WorkflowState = "in_review"
	StateReadyToSubmit    WorkflowState = "ready_to_submit"
	StateSubmitted        WorkflowState = "submitted"
	StateApproved         WorkflowState = "approved"
	StateRevisionRequired WorkflowState = "revision_required"
	StateRejected         WorkflowState = "rejected"
	StateWaived           WorkflowState = "waived"
)

// WorkflowStates is every state a document instance may carry.
var WorkflowStates = []WorkflowState{
	StateNotStarted,
	StateInProgress,
	StateInReview,
	StateReadyToSubmit,
	StateSubmitted,
	StateApproved,
	StateRevisionRequired,
	StateRejected,
	StateWaived,
}

func (s WorkflowState) Valid() bool {
	for _, known := range WorkflowStates {
		if s == known {
			return true
		}
	}
	return false
}

type Assignee struct {
	Name string `json:"name"`
	Org  string `json:"org,omitempty"`
}

type Attachment struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type" enum:"file,url"`
	URL        string `json:"url"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

type HistoryEntry struct {
	At    string `json:"at" format:"date-time"`
	Event string `json:"event"`
	Actor string `json:"actor,omitempty"`
}

// DocInstance is the mutable state of one template for one voyage.
// DueAt is advisory; displays recompute it from the template and voyage.
type DocInstance struct {
	TemplateID    string         `json:"template_id"`
	VoyageID      string         `json:"voyage_id"`
	WorkflowState WorkflowState  `json:"workflow_state"`
	DueAt         string         `json:"due_at,omitempty" format:"date"`
	Assignee      *Assignee      `json:"assignee,omitempty"`
	Attachments   []Attachment   `json:"attachments"`
	History       []HistoryEntry `json:"history"`
	Notes         string         `json:"notes,omitempty"`
	UpdatedAt     string         `json:"updated_at,omitempty" format:"date-time"`
}

// NewDocInstance returns the not_started placeholder used before any state change.
func NewDocInstance(voyageID, templateID string) DocInstance {
	return DocInstance{
		TemplateID:    templateID,
		VoyageID:      voyageID,
		WorkflowState: StateNotStarted,
		Attachments:   []Attachment{},
		History:       []HistoryEntry{},
	}
}

type DueState string

const (
	DueOnTrack DueState = "on_track"
	DueAtRisk  DueState = "at_risk"
	DueOverdue DueState = "overdue"
)

type Risk string

const (
	RiskOnTrack Risk = "ON_TRACK"
	RiskAtRisk  Risk = "AT_RISK"
	RiskOverdue Risk = "OVERDUE"
	RiskUnknown Risk = "UNKNOWN"
)

// DeadlineMarker is a render-ready due date for a timeline overlay.
type DeadlineMarker struct {
	ID       string `json:"id"`
	VoyageID string `json:"voyage_id"`
	Date     string `json:"date" format:"date"`
	Label    string `json:"label"`
	Risk     Risk   `json:"risk" enum:"ON_TRACK,AT_RISK,OVERDUE,UNKNOWN"`
	Category string `json:"category"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type Project struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
