package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"voyagedocs/internal/config"
	"voyagedocs/internal/db"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/migrate"
	"voyagedocs/internal/workflow"
)

const testProject = "proj-1"

const testConfigYAML = `project:
  id: proj-1
schedule:
  trip_groups:
    - {id: a, activity_id2: "A", label: "Group A"}
    - {id: b, activity_id2: "B", label: "Group B"}
  milestones:
    - {key: mzp_arrival, pattern: "arrive mzp", flags: i}
    - {key: agi_arrival, pattern: "arrive agi", flags: i}
  doc_deadline_offset_days: -4
templates:
  - id: t.ptw
    title: "PTW Pack"
    category_id: ptw_pack
    priority: critical
    applies_to: {scope: voyage}
    anchor: {milestone_key: doc_deadline, offset_days: 0, offset_type: calendar_days}
  - id: t.noc
    title: "Maritime NOC"
    category_id: ad_maritime_noc
    priority: critical
    applies_to: {scope: project}
    anchor: {milestone_key: mzp_arrival, offset_days: -5, offset_type: business_days}
`

const testScheduleTSV = "Activity ID (1)\tActivity ID (2)\tActivity ID (3)\tActivity Name\tOriginal Duration\tPlanned Start\tPlanned Finish\n" +
	"HVDC\tA\t\tArrive MZP\t1\t2026-01-27\t2026-01-27\n" +
	"HVDC\tA\t\tArrive AGI\t1\t2026-02-02\t2026-02-02\n" +
	"HVDC\tB\t\tArrive MZP\t1\t2026-02-10\t2026-02-10\n"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(testProject))
	e.Now = func() time.Time { return time.Date(2026, 1, 22, 15, 30, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// seedProject creates the project with the test config and imports the TSV schedule.
func seedProject(t *testing.T, srv *testServer) string {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":          testProject,
		"config_yaml": testConfigYAML,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	base := srv.URL + "/v0/projects/" + testProject
	res, data = doJSON(t, client, http.MethodPost, base+"/schedule", map[string]any{
		"source":  "schedule.tsv",
		"content": testScheduleTSV,
	}, map[string]string{ActorHeader: "planner"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import schedule status %d: %s", res.StatusCode, string(data))
	}
	var imported ScheduleImportResponse
	if err := json.Unmarshal(data, &imported); err != nil {
		t.Fatalf("unmarshal import: %v", err)
	}
	if imported.Import.TaskCount != 3 || len(imported.Voyages) != 2 {
		t.Fatalf("unexpected import result %+v", imported)
	}
	return base
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	var health healthResponse
	_ = json.Unmarshal(data, &health)
	if res.StatusCode != http.StatusOK || health.Status != "ok" || health.Migrations.Current < 1 {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), `"$schema"`) {
		t.Fatalf("health body should carry the schema link: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "apply-doc-action") {
		t.Fatalf("expected action operation in openapi document")
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/v0/openapi.json") {
		t.Fatalf("docs page: %d", res.StatusCode)
	}
}

func TestVoyagesAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := seedProject(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, base+"/voyages/V1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get voyage: %d %s", res.StatusCode, string(data))
	}
	var v VoyageResponse
	_ = json.Unmarshal(data, &v)
	if v.TripGroupKey != "A" || v.Milestones["mzp_arrival"] != "2026-01-27" || v.Milestones["doc_deadline"] != "2026-01-23" {
		t.Fatalf("unexpected voyage %+v", v)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/voyages/V1/window", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"end":"2026-02-02"`) {
		t.Fatalf("window: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/voyages/V1/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list docs: %d %s", res.StatusCode, string(data))
	}
	var docs docsResponse
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatalf("unmarshal docs: %v", err)
	}
	if docs.Today != "2026-01-22" || len(docs.Docs) != 2 {
		t.Fatalf("unexpected docs %+v", docs)
	}
	for _, d := range docs.Docs {
		if d.Template.ID == "t.ptw" && (d.DueDate != "2026-01-23" || d.Risk != domain.RiskAtRisk) {
			t.Fatalf("unexpected ptw view %+v", d)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/voyages/V9", nil, nil)
	if res.StatusCode != http.StatusNotFound || !strings.Contains(string(data), `"code":"not_found"`) {
		t.Fatalf("expected not_found envelope, got %d %s", res.StatusCode, string(data))
	}
}

func TestDocActionsAndConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := seedProject(t, srv)
	client := srv.Client()
	docURL := base + "/voyages/V1/docs/t.ptw"

	res, data := doJSON(t, client, http.MethodPost, docURL+"/actions", map[string]any{"action": "approve"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict approving not_started, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "invalid_transition" || envelope.Error.Details["from"] != "not_started" {
		t.Fatalf("unexpected error body %+v", envelope.Error)
	}

	res, data = doJSON(t, client, http.MethodPost, docURL+"/actions", map[string]any{"action": "archive"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown action, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, docURL+"/actions", map[string]any{"action": "submit"}, map[string]string{ActorHeader: "alice"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var view engine.DocView
	_ = json.Unmarshal(data, &view)
	if view.Instance.WorkflowState != domain.StateSubmitted || len(view.Actions) != 2 {
		t.Fatalf("unexpected view after submit %+v", view)
	}
	if view.Actions[0] != workflow.ActionApprove || view.Actions[1] != workflow.ActionReset {
		t.Fatalf("unexpected actions %v", view.Actions)
	}

	res, data = doJSON(t, client, http.MethodPatch, docURL, map[string]any{
		"assignee":        map[string]any{"name": "Samsung C&T", "org": "verify"},
		"notes":           "Waiting on stamp",
		"add_attachments": []map[string]any{{"name": "pack.pdf", "type": "file"}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch doc: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &view)
	if view.Instance.Assignee == nil || view.Instance.Notes != "Waiting on stamp" || len(view.Instance.Attachments) != 1 {
		t.Fatalf("unexpected patched doc %+v", view.Instance)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?type=doc.transitioned", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var evts paginatedEvents
	_ = json.Unmarshal(data, &evts)
	if len(evts.Items) != 1 || evts.Items[0].ActorID != "alice" || evts.Items[0].Payload["to"] != "submitted" {
		t.Fatalf("unexpected events %+v", evts.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?voyage_id=V1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("voyage events: %d %s", res.StatusCode, string(data))
	}
	evts = paginatedEvents{}
	_ = json.Unmarshal(data, &evts)
	if len(evts.Items) < 2 {
		t.Fatalf("expected transition and update events for V1, got %+v", evts.Items)
	}
	for _, evt := range evts.Items {
		if !strings.HasPrefix(evt.EntityID, "V1::") && evt.EntityID != "V1" {
			t.Fatalf("event outside voyage V1: %+v", evt)
		}
	}
}

func TestDeadlinesAndChecklist(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := seedProject(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, base+"/at-risk", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("at-risk: %d %s", res.StatusCode, string(data))
	}
	var markers markersResponse
	_ = json.Unmarshal(data, &markers)
	if len(markers.Markers) == 0 || markers.Markers[0].Risk == domain.RiskOnTrack {
		t.Fatalf("expected at-risk markers, got %+v", markers.Markers)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/deadlines", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deadlines: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &markers)
	for i := 1; i < len(markers.Markers); i++ {
		if markers.Markers[i-1].Date > markers.Markers[i].Date {
			t.Fatalf("deadlines out of order: %+v", markers.Markers)
		}
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/voyages/V1/checklist", map[string]any{
		"items": []map[string]any{
			{"No": "1", "Part": "A", "Document Name": "PTW Pack", "STATUS": "Submitted", "Responsible Party": "Mammoet (prepare)"},
			{"No": "2", "Part": "D", "Document Name": "Gate Pass Request", "Mandatory": "Y"},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("checklist: %d %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), `"matched_templates":["t.ptw"]`) {
		t.Fatalf("expected ptw matched: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/voyages/V1/docs/t.ptw", nil, nil)
	var view engine.DocView
	_ = json.Unmarshal(data, &view)
	if res.StatusCode != http.StatusOK || view.Instance.WorkflowState != domain.StateSubmitted {
		t.Fatalf("expected checklist to submit ptw, got %d %+v", res.StatusCode, view.Instance)
	}
}

func TestImportConfigRejectsInvalid(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := seedProject(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, base+"/config", map[string]any{"yaml": "project: {id: proj-1}\nschedule: {trip_groups: [{id: x}]}\n"}, nil)
	if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(data), "invalid_config") {
		t.Fatalf("expected invalid_config, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/config", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "t.noc") {
		t.Fatalf("config should be unchanged: %d %s", res.StatusCode, string(data))
	}
}

func TestWebhookDispatch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedProject(t, srv)

	var mu sync.Mutex
	var got []http.Header
	var bodies []webhookEvent
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hookSrv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, r.Header.Clone())
		bodies = append(bodies, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})}
	go hookSrv.Serve(ln)
	defer hookSrv.Shutdown(context.Background())

	ctx := context.Background()
	d := newWebhookDispatcher(srv.Engine, testProject, []config.WebhookConfig{{
		URL:    "http://" + ln.Addr().String(),
		Events: []string{"doc.trans*"},
		Secret: "s3cret",
	}}, nil)
	// Events recorded before the first poll are not replayed.
	d.dispatchAll(ctx)

	if _, err := srv.Engine.UpdateDoc(ctx, testProject, "V1", "t.ptw", engine.DocUpdate{Notes: strPtr("draft")}, "bob"); err != nil {
		t.Fatalf("update doc: %v", err)
	}
	if _, err := srv.Engine.ApplyAction(ctx, testProject, "V1", "t.ptw", workflow.ActionSubmit, "bob"); err != nil {
		t.Fatalf("apply action: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Get("X-Voyagedocs-Event") != "doc.transitioned" || !strings.HasPrefix(got[0].Get(SignatureHeader), "sha256=") {
		t.Fatalf("unexpected headers %v", got[0])
	}
	if got[0].Get("X-Voyagedocs-Secret") != "" {
		t.Fatalf("secret must not be sent in clear")
	}
	b := bodies[0]
	if b.EntityID != "V1::t.ptw" || b.VoyageID != "V1" || b.TemplateID != "t.ptw" || b.ActorID != "bob" {
		t.Fatalf("unexpected body %+v", b)
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedProject(t, srv)

	var mu sync.Mutex
	calls := 0
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hookSrv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})}
	go hookSrv.Serve(ln)
	defer hookSrv.Shutdown(context.Background())

	ctx := context.Background()
	d := newWebhookDispatcher(srv.Engine, testProject, []config.WebhookConfig{{URL: "http://" + ln.Addr().String()}}, nil)
	d.backoff = time.Millisecond
	d.dispatchAll(ctx)
	if _, err := srv.Engine.ApplyAction(ctx, testProject, "V1", "t.ptw", workflow.ActionSubmit, "bob"); err != nil {
		t.Fatalf("apply action: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected a retry after the 503, got %d calls", calls)
	}
	latest, err := srv.Engine.Repo.LatestEventID(ctx, testProject)
	if err != nil || d.hooks[0].cursor != latest {
		t.Fatalf("cursor should reach latest event %d, got %d (%v)", latest, d.hooks[0].cursor, err)
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"doc.*", "schedule.imported", " "})
	for evt, want := range map[string]bool{
		"doc.transitioned":  true,
		"doc.updated":       true,
		"schedule.imported": true,
		"project.created":   false,
	} {
		if got := f.match(evt); got != want {
			t.Fatalf("match(%q) = %v, want %v", evt, got, want)
		}
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match everything")
	}
}

func strPtr(s string) *string { return &s }
