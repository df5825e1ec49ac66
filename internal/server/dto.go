package server

import (
	"encoding/json"

	"voyagedocs/internal/config"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/repo"
)

// Request payloads

type CreateProjectRequest struct {
	ID string `json:"id"`
	// ConfigYAML seeds the project config; the default template is used when empty.
	ConfigYAML string `json:"config_yaml,omitempty"`
}

type ImportConfigRequest struct {
	YAML string `json:"yaml"`
}

type ScheduleTaskInput struct {
	ID          string `json:"id,omitempty"`
	ActivityID1 string `json:"activity_id_1,omitempty"`
	ActivityID2 string `json:"activity_id_2,omitempty"`
	ActivityID3 string `json:"activity_id_3,omitempty"`
	Name        string `json:"name,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// ImportScheduleRequest carries either a raw export (content + source file name)
// or already structured tasks.
type ImportScheduleRequest struct {
	Source  string              `json:"source,omitempty" example:"schedule.tsv"`
	Content string              `json:"content,omitempty"`
	Tasks   []ScheduleTaskInput `json:"tasks,omitempty"`
}

type ActionRequest struct {
	Action string `json:"action" enum:"submit,approve,reset,reopen"`
}

type AttachmentRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty" enum:"file,url"`
	URL  string `json:"url,omitempty"`
}

type UpdateDocRequest struct {
	Assignee       *domain.Assignee    `json:"assignee,omitempty"`
	ClearAssignee  bool                `json:"clear_assignee,omitempty"`
	Notes          *string             `json:"notes,omitempty"`
	AddAttachments []AttachmentRequest `json:"add_attachments,omitempty"`
}

type ChecklistItemRequest struct {
	No               string `json:"No,omitempty"`
	Part             string `json:"Part,omitempty"`
	DocumentName     string `json:"Document Name,omitempty"`
	Name             string `json:"Name,omitempty"`
	Status           string `json:"STATUS,omitempty"`
	Notes            string `json:"Description / Notes,omitempty"`
	ResponsibleParty string `json:"Responsible Party,omitempty"`
	Mandatory        string `json:"Mandatory,omitempty"`
	Status2          string `json:"Status2,omitempty"`
	Evidence         string `json:"Evidence (File/Email),omitempty"`
	LastUpdate       string `json:"Last Update (GST),omitempty"`
}

type ImportChecklistRequest struct {
	Items []ChecklistItemRequest `json:"items"`
}

// Responses

type ProjectResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectConfigResponse struct {
	ProjectID string         `json:"project_id"`
	Config    map[string]any `json:"config"`
}

type VoyageResponse struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	CargoLabel   string            `json:"cargo_label,omitempty"`
	TripGroupKey string            `json:"trip_group_key"`
	Milestones   map[string]string `json:"milestones"`
}

type ScheduleImportResponse struct {
	Import  repo.ScheduleImport `json:"import"`
	Voyages []VoyageResponse    `json:"voyages"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type markersResponse struct {
	Today   string                  `json:"today" format:"date"`
	Markers []domain.DeadlineMarker `json:"markers"`
}

type docsResponse struct {
	Today string           `json:"today" format:"date"`
	Docs  []engine.DocView `json:"docs"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func voyageResponse(v domain.Voyage) VoyageResponse {
	ms := make(map[string]string, len(v.Milestones))
	for k, d := range v.Milestones {
		ms[string(k)] = d
	}
	return VoyageResponse{ID: v.ID, Label: v.Label, CargoLabel: v.CargoLabel, TripGroupKey: v.TripGroupKey, Milestones: ms}
}

func mapVoyages(items []domain.Voyage) []VoyageResponse {
	out := make([]VoyageResponse, 0, len(items))
	for _, v := range items {
		out = append(out, voyageResponse(v))
	}
	return out
}

func (in ScheduleTaskInput) task() domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:          in.ID,
		ActivityID1: in.ActivityID1,
		ActivityID2: in.ActivityID2,
		ActivityID3: in.ActivityID3,
		Name:        in.Name,
		Duration:    in.Duration,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Level:       domain.TaskLevel(in.ActivityID1, in.ActivityID2, in.ActivityID3),
	}
}

func (r UpdateDocRequest) update() engine.DocUpdate {
	upd := engine.DocUpdate{Assignee: r.Assignee, ClearAssignee: r.ClearAssignee, Notes: r.Notes}
	for _, a := range r.AddAttachments {
		upd.AddAttachments = append(upd.AddAttachments, engine.AttachmentInput(a))
	}
	return upd
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(projectID string, cfg *config.Config) ProjectConfigResponse {
	resp := ProjectConfigResponse{ProjectID: projectID, Config: map[string]any{}}
	if cfg == nil {
		return resp
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return resp
	}
	resp.Config = decodeJSONMap(string(data))
	return resp
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
