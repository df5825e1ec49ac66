package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voyagedocs/internal/config"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/engine"
	"voyagedocs/internal/events"
)

const (
	webhookPollInterval = 2 * time.Second
	webhookTimeout      = 5 * time.Second
	webhookBatch        = 100
	webhookAttempts     = 3
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)) when a hook has a secret.
const SignatureHeader = "X-Voyagedocs-Signature"

type webhookDispatcher struct {
	engine  engine.Engine
	project string
	hooks   []*hookState
	logger  *log.Logger
	backoff time.Duration
}

// hookState is only touched by the dispatcher goroutine.
type hookState struct {
	cfg     config.WebhookConfig
	filter  eventFilter
	client  *http.Client
	cursor  int64
	started bool
}

func newWebhookDispatcher(e engine.Engine, projectID string, hooks []config.WebhookConfig, logger *log.Logger) *webhookDispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	d := &webhookDispatcher{engine: e, project: projectID, logger: logger, backoff: 250 * time.Millisecond}
	for _, h := range hooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		timeout := webhookTimeout
		if h.TimeoutSeconds > 0 {
			timeout = time.Duration(h.TimeoutSeconds) * time.Second
		}
		d.hooks = append(d.hooks, &hookState{
			cfg:    h,
			filter: newEventFilter(h.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	return d
}

// StartWebhooks delivers new project events to the configured hooks until ctx
// is done. Delivery starts after the latest event at startup.
func StartWebhooks(ctx context.Context, e engine.Engine, projectID string, hooks []config.WebhookConfig, logger *log.Logger) bool {
	if strings.TrimSpace(projectID) == "" {
		return false
	}
	d := newWebhookDispatcher(e, projectID, hooks, logger)
	if len(d.hooks) == 0 {
		return false
	}
	go d.run(ctx)
	return true
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, h := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, h)
	}
}

// dispatch posts pending events in order. A failed delivery stops the batch so
// the same event is retried on the next poll.
func (d *webhookDispatcher) dispatch(ctx context.Context, h *hookState) {
	if !h.started {
		latest, err := d.engine.Repo.LatestEventID(ctx, d.project)
		if err != nil {
			d.logger.Printf("webhook %s: read cursor: %v", h.cfg.URL, err)
			return
		}
		h.cursor, h.started = latest, true
	}
	pending, err := d.engine.Repo.EventsAfter(ctx, webhookBatch, h.cursor, d.project)
	if err != nil {
		d.logger.Printf("webhook %s: fetch events: %v", h.cfg.URL, err)
		return
	}
	for _, evt := range pending {
		if h.filter.match(evt.Type) {
			if err := d.deliver(ctx, h, evt); err != nil {
				d.logger.Printf("webhook %s: event %d: %v", h.cfg.URL, evt.ID, err)
				return
			}
		}
		h.cursor = evt.ID
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, h *hookState, evt domain.Event) error {
	body, err := json.Marshal(newWebhookEvent(evt))
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if lastErr = d.post(ctx, h, evt, body); lastErr == nil {
			return nil
		}
		if attempt == webhookAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", webhookAttempts, lastErr)
}

func (d *webhookDispatcher) post(ctx context.Context, h *hookState, evt domain.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Voyagedocs-Event", evt.Type)
	req.Header.Set("X-Voyagedocs-Delivery", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Voyagedocs-Project", d.project)
	if secret := strings.TrimSpace(h.cfg.Secret); secret != "" {
		req.Header.Set(SignatureHeader, signBody(secret, body))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// webhookEvent is the delivery body. Document events name the voyage and
// template they touched.
type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	ActorID    string          `json:"actor_id"`
	At         string          `json:"at"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	VoyageID   string          `json:"voyage_id,omitempty"`
	TemplateID string          `json:"template_id,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newWebhookEvent(evt domain.Event) webhookEvent {
	out := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		ActorID:    evt.ActorID,
		At:         evt.TS,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		Data:       json.RawMessage("{}"),
	}
	switch evt.EntityKind {
	case events.KindDoc:
		out.VoyageID, out.TemplateID, _ = events.SplitDocEntityID(evt.EntityID)
	case events.KindVoyage:
		out.VoyageID = evt.EntityID
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		out.Data = json.RawMessage(evt.Payload)
	}
	return out
}

// eventFilter matches event types exactly or by a trailing "*" prefix pattern
// such as "doc.*". An empty filter matches everything.
type eventFilter struct {
	exact    map[string]struct{}
	prefixes []string
}

func newEventFilter(patterns []string) eventFilter {
	f := eventFilter{exact: map[string]struct{}{}}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.HasSuffix(p, "*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(p, "*"))
		default:
			f.exact[p] = struct{}{}
		}
	}
	return f
}

func (f eventFilter) match(evtType string) bool {
	if len(f.exact) == 0 && len(f.prefixes) == 0 {
		return true
	}
	if _, ok := f.exact[evtType]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evtType, p) {
			return true
		}
	}
	return false
}
