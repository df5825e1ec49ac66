package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/checklist"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/ingest"
	"voyagedocs/internal/voyage"
	"voyagedocs/internal/workflow"
)

func (h handlers) registerSchedule(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "import-schedule",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/schedule",
		Summary:     "Replace the schedule",
		Description: "Send either the raw export text in content (format picked from the source file name) or structured tasks.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      ImportScheduleRequest `json:"body"`
	}) (*struct {
		Body ScheduleImportResponse `json:"body"`
	}, error) {
		var tasks []domain.ScheduledTask
		source := input.Body.Source
		switch {
		case input.Body.Content != "":
			if source == "" {
				source = "schedule.tsv"
			}
			if err := ingest.CheckFile(source, int64(len(input.Body.Content))); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			parsed, err := ingest.Parse(strings.NewReader(input.Body.Content), source)
			if err != nil {
				return nil, handleError(err)
			}
			tasks = parsed
		case len(input.Body.Tasks) > 0:
			if source == "" {
				source = "api"
			}
			for _, t := range input.Body.Tasks {
				task := t.task()
				task.StartDate = ingest.NormalizeDate(task.StartDate)
				task.EndDate = ingest.NormalizeDate(task.EndDate)
				tasks = append(tasks, task)
			}
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "content or tasks is required", nil)
		}
		imp, err := h.e.ImportSchedule(ctx, input.ProjectID, tasks, source, h.actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		voyages, err := h.e.Voyages(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleImportResponse `json:"body"`
		}{Body: ScheduleImportResponse{Import: imp, Voyages: mapVoyages(voyages)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-schedule-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/schedule",
		Summary:     "List scheduled tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.ScheduledTask `json:"body"`
	}, error) {
		tasks, err := h.e.Tasks(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.ScheduledTask{}
		}
		return &struct {
			Body []domain.ScheduledTask `json:"body"`
		}{Body: tasks}, nil
	})
}

func (h handlers) registerVoyages(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-voyages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/voyages",
		Summary:     "List voyages derived from the schedule",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []VoyageResponse `json:"body"`
	}, error) {
		voyages, err := h.e.Voyages(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []VoyageResponse `json:"body"`
		}{Body: mapVoyages(voyages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-voyage",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/voyages/{voyage_id}",
		Summary:     "Get voyage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		VoyageID  string `path:"voyage_id"`
	}) (*struct {
		Body VoyageResponse `json:"body"`
	}, error) {
		v, err := h.e.Voyage(ctx, input.ProjectID, input.VoyageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VoyageResponse `json:"body"`
		}{Body: voyageResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-voyage-window",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/voyages/{voyage_id}/window",
		Summary:     "Tasks and date range of a voyage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		VoyageID  string `path:"voyage_id"`
	}) (*struct {
		Body voyage.Window `json:"body"`
	}, error) {
		w, err := h.e.VoyageWindow(ctx, input.ProjectID, input.VoyageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body voyage.Window `json:"body"`
		}{Body: w}, nil
	})
}

func (h handlers) registerVoyageDocs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-voyage-docs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/voyages/{voyage_id}/docs",
		Summary:     "List documents for a voyage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		VoyageID  string `path:"voyage_id"`
	}) (*struct {
		Body docsResponse `json:"body"`
	}, error) {
		views, err := h.e.VoyageDocs(ctx, input.ProjectID, input.VoyageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body docsResponse `json:"body"`
		}{Body: docsResponse{Today: h.today(), Docs: views}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-voyage-doc",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/voyages/{voyage_id}/docs/{template_id}",
		Summary:     "Get one document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		VoyageID   string `path:"voyage_id"`
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body engine.DocView `json:"body"`
	}, error) {
		view, err := h.e.Doc(ctx, input.ProjectID, input.VoyageID, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DocView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-doc-action",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/voyages/{voyage_id}/docs/{template_id}/actions",
		Summary:     "Apply a workflow action",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID  string        `path:"project_id"`
		VoyageID   string        `path:"voyage_id"`
		TemplateID string        `path:"template_id"`
		Body       ActionRequest `json:"body"`
	}) (*struct {
		Body engine.DocView `json:"body"`
	}, error) {
		view, err := h.e.ApplyAction(ctx, input.ProjectID, input.VoyageID, input.TemplateID, workflow.Action(input.Body.Action), h.actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DocView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-voyage-doc",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/voyages/{voyage_id}/docs/{template_id}",
		Summary:     "Update assignee, notes or attachments",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string           `path:"project_id"`
		VoyageID   string           `path:"voyage_id"`
		TemplateID string           `path:"template_id"`
		Body       UpdateDocRequest `json:"body"`
	}) (*struct {
		Body engine.DocView `json:"body"`
	}, error) {
		view, err := h.e.UpdateDoc(ctx, input.ProjectID, input.VoyageID, input.TemplateID, input.Body.update(), h.actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DocView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-checklist",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/voyages/{voyage_id}/checklist",
		Summary:     "Import checklist rows into a voyage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		VoyageID  string                 `path:"voyage_id"`
		Body      ImportChecklistRequest `json:"body"`
	}) (*struct {
		Body checklist.Result `json:"body"`
	}, error) {
		items := make([]checklist.Item, 0, len(input.Body.Items))
		for _, it := range input.Body.Items {
			items = append(items, checklist.Item(it))
		}
		res, err := h.e.ImportChecklist(ctx, input.ProjectID, input.VoyageID, items, h.actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body checklist.Result `json:"body"`
		}{Body: res}, nil
	})
}

func (h handlers) registerDeadlines(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-voyage-markers",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/voyages/{voyage_id}/markers",
		Summary:     "Deadline markers for one voyage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		VoyageID  string `path:"voyage_id"`
	}) (*struct {
		Body markersResponse `json:"body"`
	}, error) {
		markers, err := h.e.DeadlineMarkers(ctx, input.ProjectID, input.VoyageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body markersResponse `json:"body"`
		}{Body: markersResponse{Today: h.today(), Markers: markers}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deadlines",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/deadlines",
		Summary:     "Every deadline ordered by date",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body markersResponse `json:"body"`
	}, error) {
		markers, err := h.e.Ladder(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body markersResponse `json:"body"`
		}{Body: markersResponse{Today: h.today(), Markers: markers}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-at-risk",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/at-risk",
		Summary:     "At-risk and overdue documents, soonest first",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body markersResponse `json:"body"`
	}, error) {
		markers, err := h.e.AtRisk(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body markersResponse `json:"body"`
		}{Body: markersResponse{Today: h.today(), Markers: markers}}, nil
	})
}

func (h handlers) today() string {
	return calendar.Format(h.e.Today())
}
