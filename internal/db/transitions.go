package db

import "fmt"

// validTransitions is the status state machine. Transition legality is
// checked here centrally so illegal moves fail loudly instead of being
// scattered across call sites.
//
//	PENDING   -> SENDING          worker claims the record
//	PENDING   -> EXPIRED          TTL elapsed before dispatch
//	SENDING   -> SENT | FAILED    adapter outcome
//	FAILED    -> PENDING          scheduler re-arm or admin retry
//	FAILED    -> EXPIRED          retry budget or TTL exhausted
//	EXPIRED   -> PENDING          admin forced retry only
//	SENT      -> DELIVERED        provider delivery receipt
var validTransitions = map[string][]string{
	StatusPending: {StatusSending, StatusExpired},
	StatusSending: {StatusSent, StatusFailed},
	StatusFailed:  {StatusPending, StatusExpired},
	StatusExpired: {StatusPending},
	StatusSent:    {StatusDelivered},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a descriptive error for an illegal move.
func CheckTransition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	return nil
}
