package reservation

// =============================================================================
// STATE MACHINE
// =============================================================================
//
//   PENDING ──▶ APPROVED ──▶ COMPLETED
//      │            │
//      ├──▶ REJECTED │
//      │            ▼
//      └──────▶ CANCELLED
//
// REJECTED, CANCELLED and COMPLETED have no outgoing transitions.

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns an InvalidStateTransitionError when r cannot move to next.
func checkTransition(r Reservation, next Status) error {
	if !CanTransition(r.Status, next) {
		return &InvalidStateTransitionError{ReservationID: r.ID, From: r.Status, To: next}
	}
	return nil
}
