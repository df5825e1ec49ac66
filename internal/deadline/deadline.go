// Package deadline computes document due dates from voyage milestones and
// classifies how close each document is to its deadline.
//
// Every function here is a pure function of its arguments. The caller supplies
// "today" so results are reproducible.
package deadline

import (
	"time"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/workflow"
)

// DefaultAtRiskDays is the inclusive window, in days before the due date, in which a
// document counts as at risk.
const DefaultAtRiskDays = 2

// DueDate holds the computed due date and the anchor it was derived from. Both are
// nil when the voyage does not know the anchor milestone.
type DueDate struct {
	DueAt      *time.Time
	AnchorDate *time.Time
}

// Known reports whether a due date could be resolved.
func (d DueDate) Known() bool { return d.DueAt != nil }

// String renders the due date as YYYY-MM-DD, or "" when unknown.
func (d DueDate) String() string {
	if d.DueAt == nil {
		return ""
	}
	return calendar.Format(*d.DueAt)
}

// CalculateDueDate applies the template's anchor offset to the voyage milestone.
// An absent or unparseable milestone yields an unknown due date.
func CalculateDueDate(t domain.DocTemplate, v domain.Voyage) DueDate {
	raw, ok := v.Milestone(t.Anchor.MilestoneKey)
	if !ok {
		return DueDate{}
	}
	anchor, err := calendar.ParseDate(raw)
	if err != nil {
		return DueDate{}
	}
	var due time.Time
	switch t.Anchor.OffsetType {
	case domain.OffsetBusinessDays:
		due = calendar.AddBusinessDays(anchor, t.Anchor.OffsetDays)
	default:
		due = calendar.AddCalendarDays(anchor, t.Anchor.OffsetDays)
	}
	return DueDate{DueAt: &due, AnchorDate: &anchor}
}

// CalculateDueState classifies doc against its due date using the default window.
func CalculateDueState(doc domain.DocInstance, t domain.DocTemplate, v domain.Voyage, today time.Time) domain.DueState {
	return DueStateWithin(doc, t, v, today, DefaultAtRiskDays)
}

// DueStateWithin is CalculateDueState with a configurable at-risk window.
func DueStateWithin(doc domain.DocInstance, t domain.DocTemplate, v domain.Voyage, today time.Time, atRiskDays int) domain.DueState {
	if workflow.IsComplete(doc.WorkflowState) {
		return domain.DueOnTrack
	}
	due := CalculateDueDate(t, v)
	if !due.Known() {
		return domain.DueOnTrack
	}
	return ClassifyDue(*due.DueAt, today, atRiskDays)
}

// ClassifyDue compares due and today as naive calendar days.
func ClassifyDue(due, today time.Time, atRiskDays int) domain.DueState {
	daysUntilDue := calendar.DaysBetween(today, due)
	switch {
	case daysUntilDue < 0:
		return domain.DueOverdue
	case daysUntilDue <= atRiskDays:
		return domain.DueAtRisk
	default:
		return domain.DueOnTrack
	}
}

// RiskFromDueState relabels a due state for marker rendering.
func RiskFromDueState(s domain.DueState) domain.Risk {
	switch s {
	case domain.DueOverdue:
		return domain.RiskOverdue
	case domain.DueAtRisk:
		return domain.RiskAtRisk
	case domain.DueOnTrack:
		return domain.RiskOnTrack
	default:
		return domain.RiskUnknown
	}
}
