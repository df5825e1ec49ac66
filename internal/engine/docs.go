package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/checklist"
	"voyagedocs/internal/config"
	"voyagedocs/internal/deadline"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/events"
	"voyagedocs/internal/repo"
	"voyagedocs/internal/workflow"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidAction     = errors.New("invalid action")
)

// TransitionError reports a disallowed action. It matches ErrInvalidTransition.
type TransitionError struct {
	From   domain.WorkflowState
	Action workflow.Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a document in state %s", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DocView joins a template with its instance for one voyage. Due fields are
// recomputed from the template and voyage on every read.
type DocView struct {
	Template          domain.DocTemplate `json:"template"`
	Instance          domain.DocInstance `json:"instance"`
	Stored            bool               `json:"stored"`
	DueDate           string             `json:"due_date,omitempty" format:"date"`
	AnchorDate        string             `json:"anchor_date,omitempty" format:"date"`
	DaysUntilDue      *int               `json:"days_until_due,omitempty"`
	DueState          domain.DueState    `json:"due_state"`
	Risk              domain.Risk        `json:"risk"`
	StateLabel        string             `json:"state_label"`
	Actions           []workflow.Action  `json:"actions"`
	MissingEvidence   []string           `json:"missing_evidence"`
	UnmetDependencies []string           `json:"unmet_dependencies"`
}

type docContext struct {
	cfg        *config.Config
	voyage     domain.Voyage
	docs       []domain.DocInstance
	today      time.Time
	atRiskDays int
}

func (e Engine) loadDocContext(ctx context.Context, projectID, voyageID string) (docContext, error) {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return docContext{}, err
	}
	tasks, err := e.Tasks(ctx, projectID)
	if err != nil {
		return docContext{}, err
	}
	voyages, err := e.derive(cfg, tasks)
	if err != nil {
		return docContext{}, err
	}
	dc := docContext{cfg: cfg, today: e.Today(), atRiskDays: cfg.AtRiskDays()}
	found := false
	for _, v := range voyages {
		if v.ID == voyageID {
			dc.voyage, found = v, true
			break
		}
	}
	if !found {
		return docContext{}, fmt.Errorf("voyage %s: %w", voyageID, repo.ErrNotFound)
	}
	var store repo.DocStore = e.Docs(projectID)
	if dc.docs, err = store.Get(ctx, voyageID); err != nil {
		return docContext{}, err
	}
	return dc, nil
}

func (dc docContext) view(t domain.DocTemplate) DocView {
	inst, stored := deadline.FindDoc(dc.docs, dc.voyage.ID, t.ID)
	v := DocView{
		Template:          t,
		Instance:          inst,
		Stored:            stored,
		StateLabel:        workflow.Label(inst.WorkflowState),
		Actions:           workflow.Actions(inst.WorkflowState),
		MissingEvidence:   missingEvidence(t, inst),
		UnmetDependencies: dc.unmetDependencies(t),
	}
	if v.Actions == nil {
		v.Actions = []workflow.Action{}
	}
	due := deadline.CalculateDueDate(t, dc.voyage)
	v.DueState = deadline.DueStateWithin(inst, t, dc.voyage, dc.today, dc.atRiskDays)
	switch {
	case due.Known():
		v.DueDate = calendar.Format(*due.DueAt)
		v.AnchorDate = calendar.Format(*due.AnchorDate)
		days := calendar.DaysBetween(dc.today, *due.DueAt)
		v.DaysUntilDue = &days
		v.Risk = deadline.RiskFromDueState(v.DueState)
	case workflow.IsComplete(inst.WorkflowState):
		v.Risk = domain.RiskOnTrack
	default:
		v.Risk = domain.RiskUnknown
	}
	return v
}

func (dc docContext) unmetDependencies(t domain.DocTemplate) []string {
	out := []string{}
	for _, dep := range t.Dependencies {
		inst, _ := deadline.FindDoc(dc.docs, dc.voyage.ID, dep)
		if !workflow.IsComplete(inst.WorkflowState) {
			out = append(out, dep)
		}
	}
	return out
}

// missingEvidence lists requirement labels not yet covered by attachments of the same type.
func missingEvidence(t domain.DocTemplate, inst domain.DocInstance) []string {
	out := []string{}
	for _, req := range t.Evidence {
		need := req.MinCount
		if req.Required && need < 1 {
			need = 1
		}
		if need == 0 {
			continue
		}
		have := 0
		for _, att := range inst.Attachments {
			if req.Type == "" || att.Type == req.Type {
				have++
			}
		}
		if have < need {
			label := req.Label
			if label == "" {
				label = req.ID
			}
			out = append(out, label)
		}
	}
	return out
}

// VoyageDocs returns a view for every catalog template against one voyage.
func (e Engine) VoyageDocs(ctx context.Context, projectID, voyageID string) ([]DocView, error) {
	dc, err := e.loadDocContext(ctx, projectID, voyageID)
	if err != nil {
		return nil, err
	}
	views := make([]DocView, 0, len(dc.cfg.Templates))
	for _, t := range dc.cfg.Templates {
		views = append(views, dc.view(t))
	}
	return views, nil
}

// Doc returns the view of one template for one voyage.
func (e Engine) Doc(ctx context.Context, projectID, voyageID, templateID string) (DocView, error) {
	dc, err := e.loadDocContext(ctx, projectID, voyageID)
	if err != nil {
		return DocView{}, err
	}
	t, ok := dc.cfg.Template(templateID)
	if !ok {
		return DocView{}, fmt.Errorf("template %s: %w", templateID, repo.ErrNotFound)
	}
	return dc.view(t), nil
}

// ApplyAction moves a document through the workflow. Disallowed actions fail
// with a *TransitionError and leave the instance untouched.
func (e Engine) ApplyAction(ctx context.Context, projectID, voyageID, templateID string, action workflow.Action, actorID string) (DocView, error) {
	if !action.Valid() {
		return DocView{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	dc, err := e.loadDocContext(ctx, projectID, voyageID)
	if err != nil {
		return DocView{}, err
	}
	t, ok := dc.cfg.Template(templateID)
	if !ok {
		return DocView{}, fmt.Errorf("template %s: %w", templateID, repo.ErrNotFound)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DocView{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetDocTx(ctx, tx, projectID, voyageID, templateID)
	if errors.Is(err, repo.ErrNotFound) {
		current = domain.NewDocInstance(voyageID, templateID)
	} else if err != nil {
		return DocView{}, err
	}
	if !workflow.CanTransition(current.WorkflowState, action) {
		return DocView{}, &TransitionError{From: current.WorkflowState, Action: action}
	}
	next := workflow.TransitionStatus(current.WorkflowState, action)
	patch := repo.DocPatch{
		WorkflowState: &next,
		AppendHistory: []domain.HistoryEntry{{
			At:    e.now().UTC().Format(time.RFC3339),
			Event: workflow.EventName(action),
			Actor: actorID,
		}},
	}
	if due := deadline.CalculateDueDate(t, dc.voyage); due.Known() {
		s := calendar.Format(*due.DueAt)
		patch.DueAt = &s
	}
	doc, err := e.Docs(projectID).UpsertTx(ctx, tx, voyageID, templateID, patch)
	if err != nil {
		return DocView{}, err
	}
	payload := events.EventPayload{
		"voyage_id":   voyageID,
		"template_id": templateID,
		"action":      string(action),
		"from":        string(current.WorkflowState),
		"to":          string(next),
	}
	if err := e.writer().Append(ctx, tx, events.TypeDocTransitioned, projectID, events.KindDoc, events.DocEntityID(voyageID, templateID), actorID, payload); err != nil {
		return DocView{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocView{}, err
	}
	dc.docs = replaceDoc(dc.docs, doc)
	return dc.view(t), nil
}

// AttachmentInput describes evidence added to a document.
type AttachmentInput struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Type string `json:"type" enum:"file,url"`
	URL  string `json:"url"`
}

// DocUpdate edits a document's details. The workflow state is only changed by actions.
type DocUpdate struct {
	Assignee       *domain.Assignee
	ClearAssignee  bool
	Notes          *string
	AddAttachments []AttachmentInput
}

func (e Engine) UpdateDoc(ctx context.Context, projectID, voyageID, templateID string, upd DocUpdate, actorID string) (DocView, error) {
	dc, err := e.loadDocContext(ctx, projectID, voyageID)
	if err != nil {
		return DocView{}, err
	}
	t, ok := dc.cfg.Template(templateID)
	if !ok {
		return DocView{}, fmt.Errorf("template %s: %w", templateID, repo.ErrNotFound)
	}
	now := e.now().UTC().Format(time.RFC3339)
	patch := repo.DocPatch{
		Assignee:      upd.Assignee,
		ClearAssignee: upd.ClearAssignee,
		Notes:         upd.Notes,
	}
	var changed []string
	if upd.Assignee != nil || upd.ClearAssignee {
		changed = append(changed, "assignee")
	}
	if upd.Notes != nil {
		changed = append(changed, "notes")
	}
	for _, in := range upd.AddAttachments {
		if in.Name == "" && in.URL == "" {
			return DocView{}, errors.New("attachment requires a name or url")
		}
		att := domain.Attachment{ID: in.ID, Name: in.Name, Type: in.Type, URL: in.URL, UploadedAt: now}
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		if att.Type == "" {
			att.Type = "file"
		}
		if att.Type != "file" && att.Type != "url" {
			return DocView{}, fmt.Errorf("attachment type must be file or url, got %q", att.Type)
		}
		if att.Name == "" {
			att.Name = att.URL
		}
		patch.AddAttachments = append(patch.AddAttachments, att)
	}
	if len(patch.AddAttachments) > 0 {
		changed = append(changed, "attachments")
	}
	if len(changed) == 0 {
		return dc.view(t), nil
	}
	patch.AppendHistory = []domain.HistoryEntry{{At: now, Event: "Details updated", Actor: actorID}}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DocView{}, err
	}
	defer tx.Rollback()
	doc, err := e.Docs(projectID).UpsertTx(ctx, tx, voyageID, templateID, patch)
	if err != nil {
		return DocView{}, err
	}
	payload := events.EventPayload{"voyage_id": voyageID, "template_id": templateID, "fields": changed}
	if err := e.writer().Append(ctx, tx, events.TypeDocUpdated, projectID, events.KindDoc, events.DocEntityID(voyageID, templateID), actorID, payload); err != nil {
		return DocView{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocView{}, err
	}
	dc.docs = replaceDoc(dc.docs, doc)
	return dc.view(t), nil
}

// ImportChecklist applies checklist rows to a voyage. Unmatched rows extend
// the project's template catalog.
func (e Engine) ImportChecklist(ctx context.Context, projectID, voyageID string, items []checklist.Item, actorID string) (checklist.Result, error) {
	dc, err := e.loadDocContext(ctx, projectID, voyageID)
	if err != nil {
		return checklist.Result{}, err
	}
	res := checklist.Import(items, dc.voyage, dc.cfg.Templates)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if len(res.NewTemplates) > 0 {
		cfg := *dc.cfg
		cfg.Templates = append(append([]domain.DocTemplate{}, dc.cfg.Templates...), res.NewTemplates...)
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, &cfg); err != nil {
			return res, fmt.Errorf("extend catalog: %w", err)
		}
	}
	store := e.Docs(projectID)
	for _, inst := range res.Instances {
		state := inst.WorkflowState
		patch := repo.DocPatch{
			WorkflowState:  &state,
			AddAttachments: inst.Attachments,
			MergeHistory:   inst.History,
		}
		if inst.DueAt != "" {
			due := inst.DueAt
			patch.DueAt = &due
		}
		if inst.Assignee != nil {
			patch.Assignee = inst.Assignee
		}
		if inst.Notes != "" {
			notes := inst.Notes
			patch.Notes = &notes
		}
		if _, err := store.UpsertTx(ctx, tx, voyageID, inst.TemplateID, patch); err != nil {
			return res, err
		}
	}
	payload := events.EventPayload{
		"voyage_id":     voyageID,
		"items":         len(items),
		"matched":       len(res.Matched),
		"new_templates": len(res.NewTemplates),
	}
	if err := e.writer().Append(ctx, tx, events.TypeChecklistImported, projectID, events.KindVoyage, voyageID, actorID, payload); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

// DeadlineMarkers projects markers for one voyage, or every voyage when voyageID is empty.
func (e Engine) DeadlineMarkers(ctx context.Context, projectID, voyageID string) ([]domain.DeadlineMarker, error) {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Tasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	voyages, err := e.derive(cfg, tasks)
	if err != nil {
		return nil, err
	}
	docs, err := e.Repo.ListDocsTx(ctx, nil, projectID, voyageID)
	if err != nil {
		return nil, err
	}
	byVoyage := map[string][]domain.DocInstance{}
	for _, d := range docs {
		byVoyage[d.VoyageID] = append(byVoyage[d.VoyageID], d)
	}
	today := e.Today()
	out := []domain.DeadlineMarker{}
	found := voyageID == ""
	for _, v := range voyages {
		if voyageID != "" && v.ID != voyageID {
			continue
		}
		found = true
		out = append(out, deadline.MarkersWithin(v, cfg.Templates, byVoyage[v.ID], today, cfg.AtRiskDays())...)
	}
	if !found {
		return nil, fmt.Errorf("voyage %s: %w", voyageID, repo.ErrNotFound)
	}
	return out, nil
}

// AtRisk returns at-risk and overdue markers across all voyages, soonest first.
func (e Engine) AtRisk(ctx context.Context, projectID string) ([]domain.DeadlineMarker, error) {
	markers, err := e.DeadlineMarkers(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	return deadline.AtRiskQueue(markers), nil
}

// Ladder is every marker for the project ordered by date, then voyage.
func (e Engine) Ladder(ctx context.Context, projectID string) ([]domain.DeadlineMarker, error) {
	markers, err := e.DeadlineMarkers(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(markers, func(i, j int) bool {
		if markers[i].Date != markers[j].Date {
			return markers[i].Date < markers[j].Date
		}
		return markers[i].VoyageID < markers[j].VoyageID
	})
	return markers, nil
}

func replaceDoc(docs []domain.DocInstance, doc domain.DocInstance) []domain.DocInstance {
	out := make([]domain.DocInstance, 0, len(docs)+1)
	replaced := false
	for _, d := range docs {
		if d.VoyageID == doc.VoyageID && d.TemplateID == doc.TemplateID {
			out = append(out, doc)
			replaced = true
			continue
		}
		out = append(out, d)
	}
	if !replaced {
		out = append(out, doc)
	}
	return out
}
