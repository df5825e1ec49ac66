package repo

import (
	"context"
	"fmt"
	"strings"

	"voyagedocs/internal/domain"
)

const eventColumns = `id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

// EventFilter narrows event queries. Zero fields match everything.
type EventFilter struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	// VoyageID matches the voyage entity and every document event under it.
	VoyageID string
	// Before and After bound the event id exclusively.
	Before int64
	After  int64
}

func (f EventFilter) where() (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, vals ...any) {
		clauses = append(clauses, clause)
		args = append(args, vals...)
	}
	if f.ProjectID != "" {
		add("project_id=?", f.ProjectID)
	}
	if f.Type != "" {
		add("type=?", f.Type)
	}
	if f.EntityKind != "" {
		add("entity_kind=?", f.EntityKind)
	}
	if f.EntityID != "" {
		add("entity_id=?", f.EntityID)
	}
	if f.VoyageID != "" {
		add("(entity_id=? OR substr(entity_id,1,?)=?)", f.VoyageID, len(f.VoyageID)+2, f.VoyageID+"::")
	}
	if f.Before > 0 {
		add("id<?", f.Before)
	}
	if f.After > 0 {
		add("id>?", f.After)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// RecentEvents returns matching events newest first.
func (r Repo) RecentEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := f.where()
	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id DESC LIMIT ?`, eventColumns, where)
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// EventsAfter returns project events with ids greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := EventFilter{ProjectID: projectID, After: cursor}.where()
	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id ASC LIMIT ?`, eventColumns, where)
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// LatestEventID returns the most recent event id for a project, 0 when none.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
