package engine

// Order lifecycle statuses.
const (
	StatusNew             = "NEW"
	StatusPendingApproval = "PENDING_APPROVAL"
	StatusApproved        = "APPROVED"
	StatusRejected        = "REJECTED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
)

// Order sides and kinds.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	KindMarket = "MARKET"
	KindLimit  = "LIMIT"
	KindStop   = "STOP"
)

// transitions is the order state machine. APPROVED may still move to
// REJECTED: execution re-validates funds and position, and a queue-approved
// order can fail that check.
var transitions = map[string][]string{
	StatusNew:             {StatusPendingApproval, StatusApproved, StatusRejected, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:        {StatusFilled, StatusRejected, StatusCancelled},
}

// canTransition reports whether the state machine allows from -> to.
func canTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// isTerminal reports whether a status has no outgoing transitions.
func isTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// openStatuses are the non-terminal statuses, usable as SQL transition guards.
var openStatuses = []string{StatusNew, StatusPendingApproval, StatusApproved}

func validSide(s string) bool {
	return s == SideBuy || s == SideSell
}

func validKind(k string) bool {
	return k == KindMarket || k == KindLimit || k == KindStop
}
