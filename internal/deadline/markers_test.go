package deadline

import (
	"testing"

	"voyagedocs/internal/domain"
)

func TestComputeDeadlineMarkers(t *testing.T) {
	v := voyageWith(map[domain.MilestoneKey]string{
		domain.MilestoneMZPArrival:  "2026-01-27",
		domain.MilestoneDocDeadline: "2026-01-23",
	})
	unit := template("unit", domain.MilestoneMZPArrival, 0, domain.OffsetCalendarDays)
	unit.AppliesTo.Scope = domain.ScopeUnit
	project := template("proj", domain.MilestoneMZPArrival, -1, domain.OffsetCalendarDays)
	project.AppliesTo.Scope = domain.ScopeProject
	project.CategoryID = "port_access"
	templates := []domain.DocTemplate{
		template("ptw", domain.MilestoneDocDeadline, 0, domain.OffsetCalendarDays),
		template("noc", domain.MilestoneAGIArrival, -3, domain.OffsetCalendarDays),
		unit,
		project,
		template("done", domain.MilestoneDocDeadline, -10, domain.OffsetCalendarDays),
	}
	approved := domain.NewDocInstance("V1", "done")
	approved.WorkflowState = domain.StateApproved
	docs := []domain.DocInstance{approved}

	got := ComputeDeadlineMarkers(v, templates, docs, day(t, "2026-01-24"))
	if len(got) != 3 {
		t.Fatalf("expected 3 markers, got %d: %+v", len(got), got)
	}
	want := []domain.DeadlineMarker{
		{ID: "V1::ptw", VoyageID: "V1", Date: "2026-01-23", Label: "Doc ptw", Risk: domain.RiskOverdue, Category: "ptw_pack"},
		{ID: "V1::proj", VoyageID: "V1", Date: "2026-01-26", Label: "Doc proj", Risk: domain.RiskAtRisk, Category: "port_access"},
		{ID: "V1::done", VoyageID: "V1", Date: "2026-01-13", Label: "Doc done", Risk: domain.RiskOnTrack, Category: "ptw_pack"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("marker %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFindDocSynthesizesTransientInstance(t *testing.T) {
	doc, found := FindDoc(nil, "V2", "ptw")
	if found {
		t.Fatalf("expected synthesized doc")
	}
	if doc.WorkflowState != domain.StateNotStarted || doc.VoyageID != "V2" || doc.TemplateID != "ptw" {
		t.Fatalf("unexpected synthesized doc %+v", doc)
	}
}

func TestAtRiskQueue(t *testing.T) {
	markers := []domain.DeadlineMarker{
		{ID: "a", Date: "2026-02-01", Risk: domain.RiskAtRisk},
		{ID: "b", Date: "2026-01-20", Risk: domain.RiskOnTrack},
		{ID: "c", Date: "2026-01-10", Risk: domain.RiskOverdue},
		{ID: "d", Date: "2026-01-30", Risk: domain.RiskUnknown},
	}
	q := AtRiskQueue(markers)
	if len(q) != 2 || q[0].ID != "c" || q[1].ID != "a" {
		t.Fatalf("unexpected queue %+v", q)
	}
}
