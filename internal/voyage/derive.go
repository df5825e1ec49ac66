// Package voyage groups a flat schedule into voyages and extracts their milestones.
package voyage

import (
	"fmt"
	"time"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/domain"
)

// TripGroup is one entry of the ordered allow-list of grouping keys.
type TripGroup struct {
	ID    string
	Key   string // matched against ScheduledTask.ActivityID2
	Label string
}

type MilestoneRule struct {
	Key     domain.MilestoneKey
	Matcher Matcher
}

// Rules is the compiled derivation configuration.
type Rules struct {
	TripGroups            []TripGroup
	Milestones            []MilestoneRule
	DocDeadlineOffsetDays *int
}

// InvalidDate records a matched task whose start date could not be parsed. The
// milestone it would have produced is left absent.
type InvalidDate struct {
	VoyageID string
	Key      domain.MilestoneKey
	TaskID   string
	Value    string
}

func (d InvalidDate) String() string {
	return fmt.Sprintf("voyage %s milestone %s: task %s has invalid start date %q", d.VoyageID, d.Key, d.TaskID, d.Value)
}

type Result struct {
	Voyages []domain.Voyage
	Invalid []InvalidDate
}

// DeriveVoyages derives voyages from tasks. shift is added to every extracted
// milestone before it is truncated to a day.
func DeriveVoyages(tasks []domain.ScheduledTask, rules Rules, shift time.Duration) []domain.Voyage {
	return Derive(tasks, rules, shift).Voyages
}

// Derive is DeriveVoyages plus diagnostics for unparseable milestone dates.
func Derive(tasks []domain.ScheduledTask, rules Rules, shift time.Duration) Result {
	res := Result{Voyages: []domain.Voyage{}}
	if len(tasks) == 0 {
		return res
	}
	byKey := partition(tasks, rules.TripGroups)
	index := 0
	for _, group := range rules.TripGroups {
		groupTasks, ok := byKey[group.Key]
		if !ok {
			continue
		}
		index++
		v := domain.Voyage{
			ID:           fmt.Sprintf("V%d", index),
			Label:        fmt.Sprintf("Voyage %d", index),
			CargoLabel:   group.Label,
			TripGroupKey: group.Key,
			Milestones:   map[domain.MilestoneKey]string{},
		}
		if v.CargoLabel == "" {
			v.CargoLabel = group.Key
		}
		for _, rule := range rules.Milestones {
			hit, found := firstMatch(groupTasks, rule.Matcher)
			if !found {
				continue
			}
			start, err := calendar.ParseDate(hit.StartDate)
			if err != nil {
				res.Invalid = append(res.Invalid, InvalidDate{VoyageID: v.ID, Key: rule.Key, TaskID: hit.ID, Value: hit.StartDate})
				continue
			}
			v.Milestones[rule.Key] = calendar.Format(calendar.Shift(start, shift))
		}
		synthesizeDocDeadline(&v, rules.DocDeadlineOffsetDays)
		res.Voyages = append(res.Voyages, v)
	}
	return res
}

func partition(tasks []domain.ScheduledTask, groups []TripGroup) map[string][]domain.ScheduledTask {
	allowed := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		allowed[g.Key] = struct{}{}
	}
	byKey := map[string][]domain.ScheduledTask{}
	for _, t := range tasks {
		if t.ActivityID2 == "" {
			continue
		}
		if _, ok := allowed[t.ActivityID2]; !ok {
			continue
		}
		byKey[t.ActivityID2] = append(byKey[t.ActivityID2], t)
	}
	return byKey
}

func firstMatch(tasks []domain.ScheduledTask, m Matcher) (domain.ScheduledTask, bool) {
	if m == nil {
		return domain.ScheduledTask{}, false
	}
	for _, t := range tasks {
		if m.Match(t.Name) {
			return t, true
		}
	}
	return domain.ScheduledTask{}, false
}

func synthesizeDocDeadline(v *domain.Voyage, offset *int) {
	if offset == nil {
		return
	}
	if _, ok := v.Milestone(domain.MilestoneDocDeadline); ok {
		return
	}
	arrival, ok := v.Milestone(domain.MilestoneMZPArrival)
	if !ok {
		return
	}
	d, err := calendar.ParseDate(arrival)
	if err != nil {
		return
	}
	v.Milestones[domain.MilestoneDocDeadline] = calendar.Format(calendar.AddCalendarDays(d, *offset))
}

// Window is the slice of a voyage's schedule between MZP arrival and AGI arrival.
type Window struct {
	VoyageID string                 `json:"voyage_id"`
	TaskIDs  []string               `json:"task_ids"`
	Tasks    []domain.ScheduledTask `json:"tasks"`
	Start    string                 `json:"start,omitempty" format:"date"`
	End      string                 `json:"end,omitempty" format:"date"`
}

// VoyageWindow returns the tasks that belong to v and its arrival-to-arrival range.
// The range is empty unless both arrival milestones are known.
func VoyageWindow(tasks []domain.ScheduledTask, v domain.Voyage) Window {
	w := Window{VoyageID: v.ID, TaskIDs: []string{}, Tasks: []domain.ScheduledTask{}}
	for _, t := range tasks {
		if t.ActivityID2 != v.TripGroupKey {
			continue
		}
		w.Tasks = append(w.Tasks, t)
		w.TaskIDs = append(w.TaskIDs, t.ID)
	}
	start, okStart := v.Milestone(domain.MilestoneMZPArrival)
	end, okEnd := v.Milestone(domain.MilestoneAGIArrival)
	if okStart && okEnd {
		w.Start, w.End = start, end
	}
	return w
}
