package risk

import (
	"fmt"
	"math"
	"sync/atomic"

	"papertrade-core/pkg/db"
)

// Input carries the facts needed to evaluate one order against an account's
// limits. CurrentQty is the signed position before the order executes.
type Input struct {
	Ticker     string
	Side       string
	Qty        float64
	Price      float64
	CurrentQty float64
}

// Decision is the result of a risk evaluation. A gated order is not
// rejected; it is routed to the approval queue with the reason attached.
type Decision struct {
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
}

// Metrics counts evaluations for the monitoring endpoint.
type Metrics struct {
	ChecksTotal uint64 `json:"checks_total"`
	GatedTotal  uint64 `json:"gated_total"`
}

// Manager evaluates orders against the global approval threshold and the
// account's own limit columns.
type Manager struct {
	approvalNotional float64

	checksTotal uint64
	gatedTotal  uint64
}

// NewManager creates a risk manager. approvalNotional is the platform-wide
// notional above which any order needs sign-off; zero disables it.
func NewManager(approvalNotional float64) *Manager {
	return &Manager{approvalNotional: approvalNotional}
}

// Evaluate applies the account's limits in order and returns the first gate
// hit. Orders that pass every check trade immediately.
func (m *Manager) Evaluate(account *db.Account, in Input) Decision {
	atomic.AddUint64(&m.checksTotal, 1)

	dec := Decision{}
	notional := in.Qty * in.Price

	if account.EarningsLockout {
		return m.gate("earnings lockout active on account")
	}
	if m.approvalNotional > 0 && notional > m.approvalNotional {
		return m.gate(fmt.Sprintf("order notional %.2f exceeds approval threshold %.2f", notional, m.approvalNotional))
	}
	if account.MaxOrderNotional != nil && notional > *account.MaxOrderNotional {
		return m.gate(fmt.Sprintf("order notional %.2f exceeds account limit %.2f", notional, *account.MaxOrderNotional))
	}
	if account.MaxPositionAbsQty != nil {
		signed := in.Qty
		if in.Side == "SELL" {
			signed = -in.Qty
		}
		if after := math.Abs(in.CurrentQty + signed); after > *account.MaxPositionAbsQty {
			return m.gate(fmt.Sprintf("resulting position %.4f exceeds account limit %.4f", after, *account.MaxPositionAbsQty))
		}
	}
	return dec
}

func (m *Manager) gate(reason string) Decision {
	atomic.AddUint64(&m.gatedTotal, 1)
	return Decision{RequiresApproval: true, Reason: reason}
}

// Snapshot returns the evaluation counters.
func (m *Manager) Snapshot() Metrics {
	return Metrics{
		ChecksTotal: atomic.LoadUint64(&m.checksTotal),
		GatedTotal:  atomic.LoadUint64(&m.gatedTotal),
	}
}
