package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"voyagedocs/internal/domain"
)

// DocStore persists document instances for one project.
type DocStore interface {
	Get(ctx context.Context, voyageID string) ([]domain.DocInstance, error)
	Upsert(ctx context.Context, voyageID, templateID string, patch DocPatch) ([]domain.DocInstance, error)
}

// DocPatch is a partial update. Nil fields are left untouched. MergeHistory
// skips entries whose At and Event are already recorded.
type DocPatch struct {
	WorkflowState  *domain.WorkflowState
	DueAt          *string
	Assignee       *domain.Assignee
	ClearAssignee  bool
	Notes          *string
	Attachments    *[]domain.Attachment
	AddAttachments []domain.Attachment
	AppendHistory  []domain.HistoryEntry
	MergeHistory   []domain.HistoryEntry
}

// Apply returns doc with the patch applied. Added attachments replace
// existing ones with the same id.
func (p DocPatch) Apply(doc domain.DocInstance) domain.DocInstance {
	if p.WorkflowState != nil {
		doc.WorkflowState = *p.WorkflowState
	}
	if p.DueAt != nil {
		doc.DueAt = *p.DueAt
	}
	if p.ClearAssignee {
		doc.Assignee = nil
	}
	if p.Assignee != nil {
		a := *p.Assignee
		doc.Assignee = &a
	}
	if p.Notes != nil {
		doc.Notes = *p.Notes
	}
	if p.Attachments != nil {
		doc.Attachments = append([]domain.Attachment{}, (*p.Attachments)...)
	}
	for _, att := range p.AddAttachments {
		replaced := false
		for i := range doc.Attachments {
			if doc.Attachments[i].ID == att.ID {
				doc.Attachments[i] = att
				replaced = true
				break
			}
		}
		if !replaced {
			doc.Attachments = append(doc.Attachments, att)
		}
	}
	doc.History = append(doc.History, p.AppendHistory...)
	for _, h := range p.MergeHistory {
		if !hasHistory(doc.History, h) {
			doc.History = append(doc.History, h)
		}
	}
	if doc.Attachments == nil {
		doc.Attachments = []domain.Attachment{}
	}
	if doc.History == nil {
		doc.History = []domain.HistoryEntry{}
	}
	return doc
}

func hasHistory(history []domain.HistoryEntry, h domain.HistoryEntry) bool {
	for _, existing := range history {
		if existing.At == h.At && existing.Event == h.Event {
			return true
		}
	}
	return false
}

// Docs is the SQLite DocStore for one project.
type Docs struct {
	Repo      Repo
	ProjectID string
	Now       func() time.Time
}

func (d Docs) Get(ctx context.Context, voyageID string) ([]domain.DocInstance, error) {
	return d.Repo.ListDocsTx(ctx, nil, d.ProjectID, voyageID)
}

func (d Docs) Upsert(ctx context.Context, voyageID, templateID string, patch DocPatch) ([]domain.DocInstance, error) {
	tx, err := d.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := d.UpsertTx(ctx, tx, voyageID, templateID, patch); err != nil {
		return nil, err
	}
	docs, err := d.Repo.ListDocsTx(ctx, tx, d.ProjectID, voyageID)
	if err != nil {
		return nil, err
	}
	return docs, tx.Commit()
}

// UpsertTx creates the instance with not_started defaults when absent, then
// applies patch. It returns the stored instance.
func (d Docs) UpsertTx(ctx context.Context, tx *sql.Tx, voyageID, templateID string, patch DocPatch) (domain.DocInstance, error) {
	doc, err := d.Repo.GetDocTx(ctx, tx, d.ProjectID, voyageID, templateID)
	if err == ErrNotFound {
		doc = domain.NewDocInstance(voyageID, templateID)
	} else if err != nil {
		return domain.DocInstance{}, err
	}
	doc = patch.Apply(doc)
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	doc.UpdatedAt = now().UTC().Format(time.RFC3339)
	if err := d.Repo.PutDocTx(ctx, tx, d.ProjectID, doc); err != nil {
		return domain.DocInstance{}, err
	}
	return doc, nil
}

const docColumns = `voyage_id,template_id,workflow_state,COALESCE(due_at,''),COALESCE(assignee_json,''),attachments_json,history_json,COALESCE(notes,''),updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row rowScanner) (domain.DocInstance, error) {
	var (
		doc                         domain.DocInstance
		state                       string
		assignee, attachments, hist string
	)
	if err := row.Scan(&doc.VoyageID, &doc.TemplateID, &state, &doc.DueAt, &assignee, &attachments, &hist, &doc.Notes, &doc.UpdatedAt); err != nil {
		return doc, err
	}
	doc.WorkflowState = domain.WorkflowState(state)
	if assignee != "" {
		var a domain.Assignee
		if err := json.Unmarshal([]byte(assignee), &a); err != nil {
			return doc, fmt.Errorf("decode assignee: %w", err)
		}
		doc.Assignee = &a
	}
	if err := json.Unmarshal([]byte(attachments), &doc.Attachments); err != nil {
		return doc, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(hist), &doc.History); err != nil {
		return doc, fmt.Errorf("decode history: %w", err)
	}
	if doc.Attachments == nil {
		doc.Attachments = []domain.Attachment{}
	}
	if doc.History == nil {
		doc.History = []domain.HistoryEntry{}
	}
	return doc, nil
}

func (r Repo) GetDocTx(ctx context.Context, tx *sql.Tx, projectID, voyageID, templateID string) (domain.DocInstance, error) {
	doc, err := scanDoc(r.q(tx).QueryRowContext(ctx, `SELECT `+docColumns+` FROM doc_instances WHERE project_id=? AND voyage_id=? AND template_id=?`,
		projectID, voyageID, templateID))
	if err == sql.ErrNoRows {
		return doc, ErrNotFound
	}
	return doc, err
}

// ListDocsTx returns stored instances for a voyage, or for every voyage when voyageID is empty.
func (r Repo) ListDocsTx(ctx context.Context, tx *sql.Tx, projectID, voyageID string) ([]domain.DocInstance, error) {
	query := `SELECT ` + docColumns + ` FROM doc_instances WHERE project_id=?`
	args := []any{projectID}
	if voyageID != "" {
		query += ` AND voyage_id=?`
		args = append(args, voyageID)
	}
	query += ` ORDER BY voyage_id, template_id`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DocInstance{}
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, rows.Err()
}

func (r Repo) PutDocTx(ctx context.Context, tx *sql.Tx, projectID string, doc domain.DocInstance) error {
	var assignee string
	if doc.Assignee != nil {
		data, err := json.Marshal(doc.Assignee)
		if err != nil {
			return err
		}
		assignee = string(data)
	}
	attachments, err := json.Marshal(doc.Attachments)
	if err != nil {
		return err
	}
	hist, err := json.Marshal(doc.History)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO doc_instances(project_id,voyage_id,template_id,workflow_state,due_at,assignee_json,attachments_json,history_json,notes,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id,voyage_id,template_id) DO UPDATE SET workflow_state=excluded.workflow_state, due_at=excluded.due_at, assignee_json=excluded.assignee_json,
attachments_json=excluded.attachments_json, history_json=excluded.history_json, notes=excluded.notes, updated_at=excluded.updated_at`,
		projectID, doc.VoyageID, doc.TemplateID, string(doc.WorkflowState), nullable(doc.DueAt), nullable(assignee),
		string(attachments), string(hist), nullable(doc.Notes), doc.UpdatedAt)
	return err
}
