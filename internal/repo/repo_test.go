package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"voyagedocs/internal/config"
	"voyagedocs/internal/db"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := Repo{DB: conn}
	if err := r.InsertProject(context.Background(), domain.Project{ID: "p", Status: "active", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return r
}

func TestProjectConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	if _, err := r.GetProjectConfig(ctx, "p"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.UpsertProjectConfig(ctx, "p", config.Default("other")); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	cfg, err := r.GetProjectConfig(ctx, "p")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Project.ID != "p" || len(cfg.Templates) == 0 {
		t.Fatalf("unexpected config %+v", cfg.Project)
	}
	p, err := r.SingleProject(ctx)
	if err != nil || p.ID != "p" {
		t.Fatalf("single project: %v %+v", err, p)
	}
}

func TestReplaceSchedulePreservesOrder(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	replace := func(tasks []domain.ScheduledTask) {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		if err := r.ReplaceScheduleTx(ctx, tx, "p", tasks); err != nil {
			t.Fatalf("replace: %v", err)
		}
		if _, err := r.InsertScheduleImportTx(ctx, tx, ScheduleImport{ProjectID: "p", Source: "test", TaskCount: len(tasks), ImportedAt: "2026-01-01T00:00:00Z", ActorID: "a"}); err != nil {
			t.Fatalf("record import: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	replace([]domain.ScheduledTask{
		{ID: "z", ActivityID2: "B", Name: "later", StartDate: "2026-02-01"},
		{ID: "a", ActivityID2: "A", ActivityID3: "x", Name: "earlier", StartDate: "2026-01-01", Level: 3},
	})
	tasks, err := r.ListScheduleTasks(ctx, "p")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "z" || tasks[1].ID != "a" {
		t.Fatalf("expected import order preserved, got %+v", tasks)
	}
	if tasks[0].Level != 2 {
		t.Fatalf("expected level derived when missing, got %d", tasks[0].Level)
	}

	replace([]domain.ScheduledTask{{ID: "only", Name: "one"}})
	tasks, _ = r.ListScheduleTasks(ctx, "p")
	if len(tasks) != 1 {
		t.Fatalf("expected replacement, got %d tasks", len(tasks))
	}
	imp, err := r.LatestScheduleImport(ctx, "p")
	if err != nil || imp.TaskCount != 1 {
		t.Fatalf("latest import: %v %+v", err, imp)
	}
}

func TestDocsUpsertCreatesLazily(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	var store DocStore = Docs{Repo: r, ProjectID: "p", Now: func() time.Time { return now }}

	docs, err := store.Get(ctx, "V1")
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected no docs, got %v %v", docs, err)
	}
	notes := "first draft"
	docs, err = store.Upsert(ctx, "V1", "ptw", DocPatch{Notes: &notes})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one doc, got %d", len(docs))
	}
	doc := docs[0]
	if doc.WorkflowState != domain.StateNotStarted || doc.Notes != "first draft" {
		t.Fatalf("unexpected doc %+v", doc)
	}
	if doc.UpdatedAt != "2026-01-20T09:00:00Z" {
		t.Fatalf("unexpected updated_at %s", doc.UpdatedAt)
	}

	state := domain.StateSubmitted
	due := "2026-01-23"
	docs, err = store.Upsert(ctx, "V1", "ptw", DocPatch{
		WorkflowState:  &state,
		DueAt:          &due,
		Assignee:       &domain.Assignee{Name: "Mammoet", Org: "prepare"},
		AddAttachments: []domain.Attachment{{ID: "a1", Name: "pack.pdf", Type: "file", URL: "#pack.pdf"}},
		AppendHistory:  []domain.HistoryEntry{{At: "2026-01-20T09:00:00Z", Event: "Submitted", Actor: "me"}},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	doc = docs[0]
	if doc.WorkflowState != domain.StateSubmitted || doc.DueAt != due || doc.Notes != "first draft" {
		t.Fatalf("expected merge of patch, got %+v", doc)
	}
	if doc.Assignee == nil || doc.Assignee.Name != "Mammoet" || len(doc.Attachments) != 1 || len(doc.History) != 1 {
		t.Fatalf("unexpected nested fields %+v", doc)
	}

	if _, err := store.Upsert(ctx, "V2", "ptw", DocPatch{}); err != nil {
		t.Fatalf("upsert other voyage: %v", err)
	}
	all, err := r.ListDocsTx(ctx, nil, "p", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two docs across voyages, got %d %v", len(all), err)
	}
}

func TestDocPatchApply(t *testing.T) {
	doc := domain.NewDocInstance("V1", "t")
	doc.Assignee = &domain.Assignee{Name: "x"}
	doc.Attachments = []domain.Attachment{{ID: "a1", Name: "old"}}
	out := DocPatch{
		ClearAssignee:  true,
		AddAttachments: []domain.Attachment{{ID: "a1", Name: "new"}, {ID: "a2", Name: "extra"}},
	}.Apply(doc)
	if out.Assignee != nil {
		t.Fatalf("expected assignee cleared")
	}
	if len(out.Attachments) != 2 || out.Attachments[0].Name != "new" {
		t.Fatalf("expected attachment replaced by id, got %+v", out.Attachments)
	}
	empty := []domain.Attachment{}
	out = DocPatch{Attachments: &empty}.Apply(out)
	if out.Attachments == nil || len(out.Attachments) != 0 {
		t.Fatalf("expected attachments cleared")
	}

	entry := domain.HistoryEntry{At: "2026-01-21T05:00:00Z", Event: "Submitted"}
	out = DocPatch{MergeHistory: []domain.HistoryEntry{entry}}.Apply(out)
	out = DocPatch{MergeHistory: []domain.HistoryEntry{entry, {At: entry.At, Event: "Approved"}}}.Apply(out)
	if len(out.History) != 2 || out.History[1].Event != "Approved" {
		t.Fatalf("expected merged history without duplicates, got %+v", out.History)
	}
}

func TestEventQueries(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	insert := func(tx *sql.Tx, typ, kind string, entity any) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES ('2026-01-01T00:00:00Z',?,'p',?,?,'a','{}')`, typ, kind, entity); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	insert(tx, "one", "project", nil)
	insert(tx, "two", "doc", "V1::t.ptw")
	insert(tx, "three", "doc", "V10::t.ptw")
	insert(tx, "four", "voyage", "V1")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	latest, err := r.LatestEventID(ctx, "p")
	if err != nil || latest != 4 {
		t.Fatalf("latest id: %d %v", latest, err)
	}
	after, err := r.EventsAfter(ctx, 10, 1, "p")
	if err != nil || len(after) != 3 || after[0].Type != "two" {
		t.Fatalf("events after: %+v %v", after, err)
	}
	recent, err := r.RecentEvents(ctx, 2, EventFilter{ProjectID: "p", Before: 4})
	if err != nil || len(recent) != 2 || recent[0].Type != "three" {
		t.Fatalf("recent events: %+v %v", recent, err)
	}
	oldest, err := r.RecentEvents(ctx, 1, EventFilter{ProjectID: "p", Before: 2})
	if err != nil || len(oldest) != 1 || oldest[0].EntityID != "" {
		t.Fatalf("expected null entity id scanned as empty: %+v %v", oldest, err)
	}
	voyage, err := r.RecentEvents(ctx, 10, EventFilter{ProjectID: "p", VoyageID: "V1"})
	if err != nil || len(voyage) != 2 || voyage[0].Type != "four" || voyage[1].Type != "two" {
		t.Fatalf("voyage filter should not match V10: %+v %v", voyage, err)
	}
}
