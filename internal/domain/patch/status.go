package patch

import (
	"fmt"
	"strings"

	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
)

// Status represents the moderation state of a patch.
type Status string

const (
	StatusPending               Status = "pending"
	StatusAwaitingAuthorChanges Status = "awaiting_author_changes"

	// Terminal states
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// IsTerminal returns true if no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ValidTransitions defines allowed status transitions.
var ValidTransitions = map[Status][]Status{
	StatusPending:               {StatusAccepted, StatusRejected, StatusAwaitingAuthorChanges},
	StatusAwaitingAuthorChanges: {StatusPending},
	StatusAccepted:              {},
	StatusRejected:              {},
}

// CanTransitionTo checks if a transition from current status to target status is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo returns target, or an IllegalTransition error when the edge is
// not in ValidTransitions.
func (s Status) TransitionTo(target Status) (Status, error) {
	if !s.CanTransitionTo(target) {
		return s, revErrors.IllegalTransition(s.String(), target.String())
	}
	return target, nil
}

// Action is a moderation or author action on a patch.
type Action string

const (
	ActionAccept         Action = "accept"
	ActionReject         Action = "reject"
	ActionRequestChanges Action = "request_changes"
	ActionResubmit       Action = "resubmit"
)

var actionTargets = map[Action]Status{
	ActionAccept:         StatusAccepted,
	ActionReject:         StatusRejected,
	ActionRequestChanges: StatusAwaitingAuthorChanges,
	ActionResubmit:       StatusPending,
}

var actionLabels = map[Action]string{
	ActionAccept:         "Accepted",
	ActionReject:         "Rejected",
	ActionRequestChanges: "Changes requested",
	ActionResubmit:       "Resubmitted",
}

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actionTargets[a]; !ok {
		return "", revErrors.ValidationFailed("action", fmt.Sprintf("unknown action %q", raw))
	}
	return a, nil
}

// Target returns the status the action moves a patch to.
func (a Action) Target() (Status, bool) {
	s, ok := actionTargets[a]
	return s, ok
}

// Label is the human readable description stored with the action entry.
func (a Action) Label() string {
	return actionLabels[a]
}

// IsModeration reports whether the action is taken by a moderator rather than
// the author.
func (a Action) IsModeration() bool {
	return a == ActionAccept || a == ActionReject || a == ActionRequestChanges
}

func (a Action) String() string {
	return string(a)
}
