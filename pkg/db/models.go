package db

import "time"

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account owns cash and positions; either an individual's or a group's.
type Account struct {
	ID                string
	AccountType       string // "individual" or "group"
	Name              string
	StartingCash      float64
	MaxOrderNotional  *float64
	MaxPositionAbsQty *float64
	EarningsLockout   bool
	CreatedAt         time.Time
}

// AccountMembership binds a user to an account with a role.
type AccountMembership struct {
	AccountID string
	UserID    string
	Role      string
}

// Group is a collaborative trading group backed by one group account.
type Group struct {
	ID        string
	Name      string
	AccountID string
	CreatedBy string
	CreatedAt time.Time
}

// GroupMembership binds a user to a group with a role.
type GroupMembership struct {
	GroupID string
	UserID  string
	Role    string
}

// Ticker is a tradable symbol.
type Ticker struct {
	Symbol    string
	Name      string
	AssetType string
}

// Bar is one OHLCV price observation; produced only by the simulator.
type Bar struct {
	Ticker string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Source string
}

// Order represents an order request driven through the engine state machine.
type Order struct {
	ID          string
	AccountID   string
	GroupID     string
	Ticker      string
	Side        string // BUY, SELL
	Kind        string // MARKET, LIMIT, STOP
	Qty         float64
	LimitPrice  float64 // limit or stop price; 0 for MARKET
	FillPrice   float64 // execution price once filled
	Status      string
	Reason      string // rejection reason, if any
	RequestedBy string
	ApprovedBy  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is an immutable ledger entry (a fill or an adjustment).
type Transaction struct {
	ID        string
	AccountID string
	GroupID   string
	OrderID   string
	Ticker    string
	Side      string
	Qty       float64
	Price     float64
	Kind      string // FILL, ADJUSTMENT
	CreatedAt time.Time
}

// CashEffect returns the signed cash impact of the transaction
// (BUY debits, SELL credits).
func (t Transaction) CashEffect() float64 {
	notional := t.Qty * t.Price
	if t.Side == "BUY" {
		return -notional
	}
	return notional
}

// SignedQty returns the position impact of the transaction.
func (t Transaction) SignedQty() float64 {
	if t.Side == "BUY" {
		return t.Qty
	}
	return -t.Qty
}

// WatchlistItem is a user's watched symbol.
type WatchlistItem struct {
	UserID    string
	Symbol    string
	CreatedAt time.Time
}

// NewsItem is a headline attached to a ticker.
type NewsItem struct {
	ID          string
	Ticker      string
	Headline    string
	Body        string
	PublishedAt time.Time
}
