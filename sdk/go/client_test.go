package voyagedocsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
)

func newFakeAPI(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return "http://" + ln.Addr().String()
}

func TestActionSendsActorAndDecodes(t *testing.T) {
	var gotPath, gotActor, gotAction string
	base := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotActor = r.Header.Get("X-Actor-Id")
		var body map[string]string
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		gotAction = body["action"]
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"template":{"id":"t.ptw"},"instance":{"workflow_state":"submitted"},"risk":"AT_RISK","actions":["approve","reset"]}`)
	})
	c := New(base, "proj 1")
	c.ActorID = "alice"
	doc, err := c.Action(context.Background(), "V1", "t.ptw", "submit")
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	if gotPath != "/v0/projects/proj%201/voyages/V1/docs/t.ptw/actions" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotActor != "alice" || gotAction != "submit" {
		t.Fatalf("unexpected request actor=%s action=%s", gotActor, gotAction)
	}
	if doc.Instance.WorkflowState != "submitted" || len(doc.Actions) != 2 {
		t.Fatalf("unexpected doc %+v", doc)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	base := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":{"code":"invalid_transition","message":"invalid transition"}}`)
	})
	_, err := New(base, "p").Action(context.Background(), "V1", "t", "approve")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_transition" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestEventsPageQuery(t *testing.T) {
	var query string
	base := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		io.WriteString(w, `{"items":[{"id":3,"type":"doc.transitioned"}],"next_cursor":"2"}`)
	})
	page, err := New(base, "p").EventsPage(context.Background(), 1, "5")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if query != "cursor=5&limit=1" {
		t.Fatalf("unexpected query %s", query)
	}
	if len(page.Items) != 1 || page.NextCursor != "2" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestVoyageEventsQuery(t *testing.T) {
	var query string
	base := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		io.WriteString(w, `{"items":[]}`)
	})
	if _, err := New(base, "p").VoyageEvents(context.Background(), "V1", 10); err != nil {
		t.Fatalf("events: %v", err)
	}
	if query != "limit=10&voyage_id=V1" {
		t.Fatalf("unexpected query %s", query)
	}
}

func TestMarkers(t *testing.T) {
	base := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"today":"2026-01-22","markers":[{"id":"V1::t.ptw","voyage_id":"V1","date":"2026-01-23","risk":"AT_RISK"}]}`)
	})
	markers, err := New(base, "p").AtRisk(context.Background())
	if err != nil || len(markers) != 1 || markers[0].Risk != "AT_RISK" {
		t.Fatalf("unexpected markers %+v %v", markers, err)
	}
}
