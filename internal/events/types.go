package events

import "time"

// Event enumerates high-level topics inside the platform.
type Event string

const (
	EventBarTick              Event = "bar_tick"
	EventOrderSubmitted       Event = "order.submitted"
	EventOrderPendingApproval Event = "order.pending_approval"
	EventOrderApproved        Event = "order.approved"
	EventOrderFilled          Event = "order.filled"
	EventOrderRejected        Event = "order.rejected"
	EventOrderCancelled       Event = "order.cancelled"
	EventPositionChange       Event = "position_change"
	EventReconAlert           Event = "recon.alert"
)

// BarTick is published on every generated bar.
type BarTick struct {
	Ticker string    `json:"ticker"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// OrderUpdate is published on every order lifecycle transition.
type OrderUpdate struct {
	OrderID   string  `json:"order_id"`
	AccountID string  `json:"account_id"`
	Ticker    string  `json:"ticker"`
	Side      string  `json:"side"`
	Qty       float64 `json:"qty"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// PositionChange is published after a fill mutates an account's holdings.
type PositionChange struct {
	AccountID string  `json:"account_id"`
	Ticker    string  `json:"ticker"`
	Qty       float64 `json:"qty"`
}

// ReconAlert is published when the reconciliation pass finds a discrepancy.
type ReconAlert struct {
	AccountID string    `json:"account_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}
