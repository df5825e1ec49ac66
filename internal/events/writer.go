package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TypeProjectCreated    = "project.created"
	TypeConfigImported    = "config.imported"
	TypeScheduleImported  = "schedule.imported"
	TypeDocTransitioned   = "doc.transitioned"
	TypeDocUpdated        = "doc.updated"
	TypeChecklistImported = "checklist.imported"
)

const (
	KindProject  = "project"
	KindSchedule = "schedule"
	KindDoc      = "doc"
	KindVoyage   = "voyage"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// DocEntityID identifies a document instance in the event log.
func DocEntityID(voyageID, templateID string) string {
	return voyageID + docEntitySep + templateID
}

const docEntitySep = "::"

// SplitDocEntityID reverses DocEntityID. ok is false for other entity ids.
func SplitDocEntityID(id string) (voyageID, templateID string, ok bool) {
	voyageID, templateID, ok = strings.Cut(id, docEntitySep)
	if !ok || voyageID == "" || templateID == "" {
		return "", "", false
	}
	return voyageID, templateID, true
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
