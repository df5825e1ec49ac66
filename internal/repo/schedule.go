package repo

import (
	"context"
	"database/sql"

	"voyagedocs/internal/domain"
)

// ScheduleImport records one replacement of a project's task list.
type ScheduleImport struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id"`
	Source     string `json:"source"`
	TaskCount  int    `json:"task_count"`
	ImportedAt string `json:"imported_at" format:"date-time"`
	ActorID    string `json:"actor_id"`
}

// ReplaceScheduleTx swaps the stored task list for tasks, preserving input order.
func (r Repo) ReplaceScheduleTx(ctx context.Context, tx *sql.Tx, projectID string, tasks []domain.ScheduledTask) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_tasks WHERE project_id=?`, projectID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO schedule_tasks(project_id,position,task_id,activity_id1,activity_id2,activity_id3,name,duration,start_date,end_date,level) VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range tasks {
		level := t.Level
		if level == 0 {
			level = domain.TaskLevel(t.ActivityID1, t.ActivityID2, t.ActivityID3)
		}
		if _, err := stmt.ExecContext(ctx, projectID, i, t.ID, t.ActivityID1, t.ActivityID2, t.ActivityID3,
			t.Name, t.Duration, t.StartDate, t.EndDate, level); err != nil {
			return err
		}
	}
	return nil
}

// ListScheduleTasks returns the stored tasks in import order.
func (r Repo) ListScheduleTasks(ctx context.Context, projectID string) ([]domain.ScheduledTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,activity_id1,activity_id2,activity_id3,name,duration,start_date,end_date,level FROM schedule_tasks WHERE project_id=? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ScheduledTask{}
	for rows.Next() {
		var t domain.ScheduledTask
		if err := rows.Scan(&t.ID, &t.ActivityID1, &t.ActivityID2, &t.ActivityID3, &t.Name, &t.Duration, &t.StartDate, &t.EndDate, &t.Level); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertScheduleImportTx(ctx context.Context, tx *sql.Tx, imp ScheduleImport) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO schedule_imports(project_id,source,task_count,imported_at,actor_id) VALUES (?,?,?,?,?)`,
		imp.ProjectID, imp.Source, imp.TaskCount, imp.ImportedAt, imp.ActorID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestScheduleImport returns the most recent import for a project.
func (r Repo) LatestScheduleImport(ctx context.Context, projectID string) (ScheduleImport, error) {
	var imp ScheduleImport
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,source,task_count,imported_at,actor_id FROM schedule_imports WHERE project_id=? ORDER BY id DESC LIMIT 1`, projectID).
		Scan(&imp.ID, &imp.ProjectID, &imp.Source, &imp.TaskCount, &imp.ImportedAt, &imp.ActorID)
	if err == sql.ErrNoRows {
		return imp, ErrNotFound
	}
	return imp, err
}
