package voyagedocsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal voyagedocs HTTP API client.
type Client struct {
	BaseURL   string
	ProjectID string
	// ActorID is sent as X-Actor-Id and recorded on document history.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Voyage is a sailing derived from the schedule.
type Voyage struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	CargoLabel   string            `json:"cargo_label"`
	TripGroupKey string            `json:"trip_group_key"`
	Milestones   map[string]string `json:"milestones"`
}

// Marker is one deadline on the timeline.
type Marker struct {
	ID       string `json:"id"`
	VoyageID string `json:"voyage_id"`
	Date     string `json:"date"`
	Label    string `json:"label"`
	Risk     string `json:"risk"`
	Category string `json:"category"`
}

// Doc is the API document view (partial).
type Doc struct {
	Template struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"template"`
	Instance struct {
		VoyageID      string `json:"voyage_id"`
		TemplateID    string `json:"template_id"`
		WorkflowState string `json:"workflow_state"`
		Notes         string `json:"notes"`
	} `json:"instance"`
	DueDate  string   `json:"due_date"`
	DueState string   `json:"due_state"`
	Risk     string   `json:"risk"`
	Actions  []string `json:"actions"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// ScheduleImport summarizes a schedule replacement.
type ScheduleImport struct {
	Import struct {
		ID        int64  `json:"id"`
		Source    string `json:"source"`
		TaskCount int    `json:"task_count"`
	} `json:"import"`
	Voyages []Voyage `json:"voyages"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type markerList struct {
	Today   string   `json:"today"`
	Markers []Marker `json:"markers"`
}

// ImportSchedule uploads a raw schedule export; the format follows the file name.
func (c *Client) ImportSchedule(ctx context.Context, fileName string, content []byte) (ScheduleImport, error) {
	body := map[string]any{
		"source":  fileName,
		"content": string(content),
	}
	var resp ScheduleImport
	err := c.do(ctx, http.MethodPost, c.projectPath("schedule"), body, &resp)
	return resp, err
}

// Voyages lists voyages derived from the current schedule.
func (c *Client) Voyages(ctx context.Context) ([]Voyage, error) {
	var resp []Voyage
	err := c.do(ctx, http.MethodGet, c.projectPath("voyages"), nil, &resp)
	return resp, err
}

// Docs returns every document view for a voyage.
func (c *Client) Docs(ctx context.Context, voyageID string) ([]Doc, error) {
	var resp struct {
		Docs []Doc `json:"docs"`
	}
	endpoint := c.projectPath(fmt.Sprintf("voyages/%s/docs", url.PathEscape(voyageID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Docs, err
}

// Action applies submit, approve, reset or reopen to a document.
func (c *Client) Action(ctx context.Context, voyageID, templateID, action string) (Doc, error) {
	var resp Doc
	endpoint := c.projectPath(fmt.Sprintf("voyages/%s/docs/%s/actions", url.PathEscape(voyageID), url.PathEscape(templateID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"action": action}, &resp)
	return resp, err
}

// Markers returns deadline markers for one voyage.
func (c *Client) Markers(ctx context.Context, voyageID string) ([]Marker, error) {
	var resp markerList
	endpoint := c.projectPath(fmt.Sprintf("voyages/%s/markers", url.PathEscape(voyageID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Markers, err
}

// AtRisk returns at-risk and overdue markers across voyages.
func (c *Client) AtRisk(ctx context.Context) ([]Marker, error) {
	var resp markerList
	err := c.do(ctx, http.MethodGet, c.projectPath("at-risk"), nil, &resp)
	return resp.Markers, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// VoyageEvents returns recent events for one voyage and its documents.
func (c *Client) VoyageEvents(ctx context.Context, voyageID string, limit int) ([]Event, error) {
	page, err := c.eventsPage(ctx, limit, "", url.Values{"voyage_id": {voyageID}})
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	return c.eventsPage(ctx, limit, cursor, url.Values{})
}

func (c *Client) eventsPage(ctx context.Context, limit int, cursor string, q url.Values) (PaginatedEvents, error) {
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
