package deadline

import (
	"sort"
	"time"

	"voyagedocs/internal/domain"
)

// AppliesToVoyage reports whether the template participates in per-voyage tracking.
func AppliesToVoyage(t domain.DocTemplate) bool {
	return t.AppliesTo.Scope == domain.ScopeVoyage || t.AppliesTo.Scope == domain.ScopeProject
}

// FindDoc returns the instance for templateID, or a transient not_started one.
// The synthesized instance is never meant to be stored.
func FindDoc(docs []domain.DocInstance, voyageID, templateID string) (domain.DocInstance, bool) {
	for _, d := range docs {
		if d.TemplateID == templateID {
			return d, true
		}
	}
	return domain.NewDocInstance(voyageID, templateID), false
}

// ComputeDeadlineMarkers projects every applicable template with a resolvable due
// date into a timeline marker, in template order.
func ComputeDeadlineMarkers(v domain.Voyage, templates []domain.DocTemplate, docs []domain.DocInstance, today time.Time) []domain.DeadlineMarker {
	return MarkersWithin(v, templates, docs, today, DefaultAtRiskDays)
}

// MarkersWithin is ComputeDeadlineMarkers with a configurable at-risk window.
func MarkersWithin(v domain.Voyage, templates []domain.DocTemplate, docs []domain.DocInstance, today time.Time, atRiskDays int) []domain.DeadlineMarker {
	markers := []domain.DeadlineMarker{}
	for _, t := range templates {
		if !AppliesToVoyage(t) {
			continue
		}
		due := CalculateDueDate(t, v)
		if !due.Known() {
			continue
		}
		doc, _ := FindDoc(docs, v.ID, t.ID)
		state := DueStateWithin(doc, t, v, today, atRiskDays)
		markers = append(markers, domain.DeadlineMarker{
			ID:       v.ID + "::" + t.ID,
			VoyageID: v.ID,
			Date:     due.String(),
			Label:    t.Title,
			Risk:     RiskFromDueState(state),
			Category: t.CategoryID,
		})
	}
	return markers
}

// AtRiskQueue keeps markers that are at risk or overdue, earliest first.
func AtRiskQueue(markers []domain.DeadlineMarker) []domain.DeadlineMarker {
	queue := []domain.DeadlineMarker{}
	for _, m := range markers {
		if m.Risk == domain.RiskAtRisk || m.Risk == domain.RiskOverdue {
			queue = append(queue, m)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Date < queue[j].Date })
	return queue
}
