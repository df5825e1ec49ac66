package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/config"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/events"
	"voyagedocs/internal/repo"
	"voyagedocs/internal/voyage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	// Config is the fallback used when a project has no stored config.
	Config *config.Config
	Now    func() time.Time
	Logger *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: log.New(io.Discard, "", 0),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Today is the current calendar day in UTC.
func (e Engine) Today() time.Time {
	return calendar.Day(e.now())
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// Docs returns the document store for a project.
func (e Engine) Docs(projectID string) repo.Docs {
	return repo.Docs{Repo: e.Repo, ProjectID: projectID, Now: e.now}
}

// InitProject creates the project and stores cfg (or the default) as its config.
func (e Engine) InitProject(ctx context.Context, projectID string, cfg *config.Config, actorID string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:        projectID,
		Status:    "active",
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.TypeProjectCreated, p.ID, events.KindProject, p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ImportConfig replaces the stored config of a project.
func (e Engine) ImportConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return err
	}
	payload := events.EventPayload{"templates": len(cfg.Templates), "trip_groups": len(cfg.Schedule.TripGroups)}
	if err := e.writer().Append(ctx, tx, events.TypeConfigImported, projectID, events.KindProject, projectID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectConfig returns the stored config, falling back to the engine default.
func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) && e.Config != nil {
		return e.Config, nil
	}
	return cfg, err
}

// ImportSchedule replaces the project's task list. Voyages are re-derived on
// every read, so the import is all that is needed to refresh them.
func (e Engine) ImportSchedule(ctx context.Context, projectID string, tasks []domain.ScheduledTask, source, actorID string) (repo.ScheduleImport, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return repo.ScheduleImport{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	tasks = append([]domain.ScheduledTask(nil), tasks...)
	for i := range tasks {
		if tasks[i].Level == 0 {
			tasks[i].Level = domain.TaskLevel(tasks[i].ActivityID1, tasks[i].ActivityID2, tasks[i].ActivityID3)
		}
	}
	imp := repo.ScheduleImport{
		ProjectID:  projectID,
		Source:     source,
		TaskCount:  len(tasks),
		ImportedAt: e.now().UTC().Format(time.RFC3339),
		ActorID:    actorID,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return imp, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceScheduleTx(ctx, tx, projectID, tasks); err != nil {
		return imp, fmt.Errorf("store schedule: %w", err)
	}
	if imp.ID, err = e.Repo.InsertScheduleImportTx(ctx, tx, imp); err != nil {
		return imp, err
	}
	payload := events.EventPayload{"source": source, "task_count": len(tasks)}
	if err := e.writer().Append(ctx, tx, events.TypeScheduleImported, projectID, events.KindSchedule, fmt.Sprint(imp.ID), actorID, payload); err != nil {
		return imp, err
	}
	return imp, tx.Commit()
}

// Tasks returns the stored schedule in import order.
func (e Engine) Tasks(ctx context.Context, projectID string) ([]domain.ScheduledTask, error) {
	return e.Repo.ListScheduleTasks(ctx, projectID)
}

// Voyages derives voyages from the stored schedule with the project's rules.
func (e Engine) Voyages(ctx context.Context, projectID string) ([]domain.Voyage, error) {
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Tasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.derive(cfg, tasks)
}

func (e Engine) derive(cfg *config.Config, tasks []domain.ScheduledTask) ([]domain.Voyage, error) {
	rules, err := cfg.VoyageRules()
	if err != nil {
		return nil, err
	}
	res := voyage.Derive(tasks, rules, cfg.Shift())
	for _, bad := range res.Invalid {
		e.logf("warning: %s", bad)
	}
	return res.Voyages, nil
}

// Voyage returns one derived voyage by id.
func (e Engine) Voyage(ctx context.Context, projectID, voyageID string) (domain.Voyage, error) {
	voyages, err := e.Voyages(ctx, projectID)
	if err != nil {
		return domain.Voyage{}, err
	}
	for _, v := range voyages {
		if v.ID == voyageID {
			return v, nil
		}
	}
	return domain.Voyage{}, fmt.Errorf("voyage %s: %w", voyageID, repo.ErrNotFound)
}

// VoyageWindow returns the voyage's tasks and its MZP-to-AGI date range.
func (e Engine) VoyageWindow(ctx context.Context, projectID, voyageID string) (voyage.Window, error) {
	v, err := e.Voyage(ctx, projectID, voyageID)
	if err != nil {
		return voyage.Window{}, err
	}
	tasks, err := e.Tasks(ctx, projectID)
	if err != nil {
		return voyage.Window{}, err
	}
	return voyage.VoyageWindow(tasks, v), nil
}
