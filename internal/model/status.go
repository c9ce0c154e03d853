package model

import "fmt"

// Status is the lifecycle state of a join request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// ParseStatus converts a stored value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
}

// CanTransitionTo reports whether s → next is a legal ledger transition.
// Only pending requests move, and only to accepted or rejected.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && (next == StatusAccepted || next == StatusRejected)
}

// Transition validates s → next and returns next, or ErrInvalidTransition.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// Outcome is the result of a join attempt.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomePending  Outcome = "pending"
	OutcomeRejected Outcome = "rejected"
)

// OutcomeFor maps a ledger status to the outcome reported to the caller.
func OutcomeFor(s Status) Outcome {
	switch s {
	case StatusAccepted:
		return OutcomeAccepted
	case StatusRejected:
		return OutcomeRejected
	default:
		return OutcomePending
	}
}

// ViewerStatus is the join status of the viewing user on a roster.
type ViewerStatus string

const (
	ViewerNone     ViewerStatus = "none"
	ViewerPending  ViewerStatus = "pending"
	ViewerAccepted ViewerStatus = "accepted"
	ViewerRejected ViewerStatus = "rejected"
)

// ViewerStatusFor maps the viewer's most recent request to a ViewerStatus.
// A nil request means the viewer never asked to join.
func ViewerStatusFor(r *JoinRequest) ViewerStatus {
	if r == nil {
		return ViewerNone
	}
	return ViewerStatus(r.Status)
}
