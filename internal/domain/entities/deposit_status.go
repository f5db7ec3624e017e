package entities

import "fmt"

// DepositStatus represents the state machine position of a deposit
type DepositStatus string

const (
	DepositStatusCreated     DepositStatus = "CREATED"
	DepositStatusSubmitted   DepositStatus = "SUBMITTED"
	DepositStatusObserved    DepositStatus = "OBSERVED"
	DepositStatusConfirmed   DepositStatus = "CONFIRMED"
	DepositStatusCredited    DepositStatus = "CREDITED"
	DepositStatusNeedsReview DepositStatus = "NEEDS_REVIEW"
	DepositStatusFailed      DepositStatus = "FAILED"
	DepositStatusUnmatched   DepositStatus = "UNMATCHED"
	DepositStatusRefunded    DepositStatus = "REFUNDED"
)

// ValidDepositStatuses contains all valid deposit statuses
var ValidDepositStatuses = map[DepositStatus]bool{
	DepositStatusCreated:     true,
	DepositStatusSubmitted:   true,
	DepositStatusObserved:    true,
	DepositStatusConfirmed:   true,
	DepositStatusCredited:    true,
	DepositStatusNeedsReview: true,
	DepositStatusFailed:      true,
	DepositStatusUnmatched:   true,
	DepositStatusRefunded:    true,
}

// ValidDepositTransitions defines allowed status transitions. Status moves
// monotonically toward a terminal state; NEEDS_REVIEW and FAILED are reachable
// from any non-terminal state and never reversed automatically.
var ValidDepositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusCreated:     {DepositStatusSubmitted, DepositStatusObserved, DepositStatusNeedsReview, DepositStatusFailed},
	DepositStatusSubmitted:   {DepositStatusObserved, DepositStatusConfirmed, DepositStatusNeedsReview, DepositStatusFailed},
	DepositStatusObserved:    {DepositStatusConfirmed, DepositStatusNeedsReview, DepositStatusFailed},
	DepositStatusConfirmed:   {DepositStatusCredited, DepositStatusNeedsReview, DepositStatusFailed},
	DepositStatusUnmatched:   {DepositStatusSubmitted, DepositStatusObserved, DepositStatusNeedsReview, DepositStatusFailed},
	DepositStatusNeedsReview: {DepositStatusConfirmed, DepositStatusRefunded, DepositStatusFailed},
	DepositStatusFailed:      {DepositStatusObserved, DepositStatusRefunded},
	DepositStatusCredited:    {}, // Terminal state
	DepositStatusRefunded:    {}, // Terminal state
}

// IsValid checks if the status is a valid deposit status
func (s DepositStatus) IsValid() bool {
	return ValidDepositStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed. Re-entering
// the same terminal state is permitted as an idempotent no-op.
func (s DepositStatus) CanTransitionTo(newStatus DepositStatus) bool {
	if s.IsTerminal() && s == newStatus {
		return true
	}
	allowed, exists := ValidDepositTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusCredited || s == DepositStatusRefunded
}

// IsMatchable returns true if an incoming observation may bind to a deposit
// in this state
func (s DepositStatus) IsMatchable() bool {
	switch s {
	case DepositStatusCreated, DepositStatusSubmitted, DepositStatusObserved, DepositStatusUnmatched:
		return true
	}
	return false
}

// ValidateTransition validates and returns error if transition is invalid
func (s DepositStatus) ValidateTransition(newStatus DepositStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid deposit status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}
