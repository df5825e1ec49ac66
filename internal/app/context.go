package app

import (
	"context"
	"errors"
	"fmt"

	"voyagedocs/internal/config"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/repo"
)

// ResolveProjectAndConfig picks the active project and makes sure it exists with a
// stored config. The project comes from the override, then the only project in the
// database, then the workspace voyagedocs.yml. A missing project is created and
// seeded from the workspace file, or the built-in default when there is none.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, e engine.Engine) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	projectID := projectOverride
	if projectID == "" {
		p, err := e.Repo.SingleProject(ctx)
		switch {
		case err == nil:
			projectID = p.ID
		case errors.Is(err, repo.ErrNotFound) && fileCfg != nil:
			projectID = fileCfg.Project.ID
		case errors.Is(err, repo.ErrNotFound):
			return "", nil, fmt.Errorf("project not specified; use --project or run init")
		default:
			return "", nil, err
		}
	}

	seedCfg := fileCfg
	if seedCfg == nil || seedCfg.Project.ID != projectID {
		seedCfg = config.Default(projectID)
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if actorID == "" {
			actorID = "local-user"
		}
		if _, err := e.InitProject(ctx, projectID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := e.Repo.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
