// Package workflow gates the document lifecycle actions.
//
// Only not_started, submitted and approved take part in the transition graph. The
// extended states (in_progress, in_review, ready_to_submit, revision_required,
// rejected, waived) can be imposed by import or patch but have no action in or out.
package workflow

import "voyagedocs/internal/domain"

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReset   Action = "reset"
	ActionReopen  Action = "reopen"
)

// AllActions lists the action set in display order.
var AllActions = []Action{ActionSubmit, ActionApprove, ActionReset, ActionReopen}

func (a Action) Valid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

type edge struct {
	from   domain.WorkflowState
	action Action
}

var transitions = map[edge]domain.WorkflowState{
	{domain.StateNotStarted, ActionSubmit}: domain.StateSubmitted,
	{domain.StateSubmitted, ActionApprove}: domain.StateApproved,
	{domain.StateSubmitted, ActionReset}:   domain.StateNotStarted,
	{domain.StateApproved, ActionReopen}:   domain.StateSubmitted,
}

// CanTransition reports whether action is allowed from state.
func CanTransition(state domain.WorkflowState, action Action) bool {
	_, ok := transitions[edge{state, action}]
	return ok
}

// TransitionStatus applies action to state. Disallowed pairs return state unchanged.
func TransitionStatus(state domain.WorkflowState, action Action) domain.WorkflowState {
	if next, ok := transitions[edge{state, action}]; ok {
		return next
	}
	return state
}

// Actions returns the actions currently available from state.
func Actions(state domain.WorkflowState) []Action {
	var out []Action
	for _, a := range AllActions {
		if CanTransition(state, a) {
			out = append(out, a)
		}
	}
	return out
}

// IsComplete reports whether state supersedes deadline timing.
func IsComplete(state domain.WorkflowState) bool {
	return state == domain.StateApproved || state == domain.StateWaived
}

// Label returns the display label for state.
func Label(state domain.WorkflowState) string {
	switch state {
	case domain.StateNotStarted:
		return "Not started"
	case domain.StateInProgress:
		return "In progress"
	case domain.StateInReview:
		return "In review"
	case domain.StateReadyToSubmit:
		return "Ready to submit"
	case domain.StateSubmitted:
		return "Submitted"
	case domain.StateApproved:
		return "Approved"
	case domain.StateRevisionRequired:
		return "Revision required"
	case domain.StateRejected:
		return "Rejected"
	case domain.StateWaived:
		return "Waived"
	default:
		return "Unknown"
	}
}

// EventName is the history line recorded for a successful action.
func EventName(action Action) string {
	switch action {
	case ActionSubmit:
		return "Document submitted"
	case ActionApprove:
		return "Document approved"
	case ActionReset:
		return "Submission reset"
	case ActionReopen:
		return "Approval reopened"
	default:
		return string(action)
	}
}
