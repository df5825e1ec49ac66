package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/engine"
)

func TestWriteMarkersCSV(t *testing.T) {
	var buf bytes.Buffer
	markers := []domain.DeadlineMarker{
		{ID: "V1::t.ptw", VoyageID: "V1", Date: "2026-01-23", Label: "PTW Pack", Category: "ptw_pack", Risk: domain.RiskAtRisk},
	}
	if err := writeMarkers(&buf, markers, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", buf.String())
	}
	if !strings.EqualFold(lines[0], "Voyage,Date,Document,Category,Risk") || lines[1] != "V1,2026-01-23,PTW Pack,ptw_pack,AT_RISK" {
		t.Fatalf("unexpected csv %q", buf.String())
	}
}

func TestNewEngineToday(t *testing.T) {
	viper.Set("today", "2026-02-01")
	defer viper.Set("today", "")
	e, err := newEngine(engine.New(nil, nil))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if got := calendar.Format(e.Today()); got != "2026-02-01" {
		t.Fatalf("expected overridden today, got %s", got)
	}

	viper.Set("today", "01/02/2026")
	if _, err := newEngine(engine.New(nil, nil)); err == nil {
		t.Fatalf("expected invalid --today to fail")
	}
}
