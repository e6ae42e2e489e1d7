package portfolio

import (
	"context"
	"math"
	"sort"

	"papertrade-core/internal/ledger"
	"papertrade-core/pkg/cache"
	"papertrade-core/pkg/db"
)

// PositionView is a ledger position marked to the latest close.
type PositionView struct {
	ledger.Position
	LastPrice     float64 `json:"last_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Valuation is one account's full mark-to-market picture. Cash is the
// ledger-derived balance; AvailableCash subtracts the soft holds placed for
// orders still waiting in the approval queue.
type Valuation struct {
	AccountID     string         `json:"account_id"`
	StartingCash  float64        `json:"starting_cash"`
	NetCashFlow   float64        `json:"net_cash_flow"`
	Cash          float64        `json:"current_cash"`
	AvailableCash float64        `json:"available_cash"`
	MTMPositions  float64        `json:"mtm_positions"`
	Equity        float64        `json:"account_value"`
	PnL           float64        `json:"pnl"`
	Return        *float64       `json:"return"`
	Positions     []PositionView `json:"positions"`
}

// Entry is one leaderboard row.
type Entry struct {
	AccountID   string   `json:"account_id"`
	Name        string   `json:"name"`
	AccountType string   `json:"account_type"`
	Equity      float64  `json:"equity"`
	PnL         float64  `json:"pnl"`
	Return      *float64 `json:"return"`
	Rank        int      `json:"rank"`
}

// HoldSource reports cash soft-held for an account's orders awaiting
// approval.
type HoldSource interface {
	HeldCash(accountID string) float64
}

// Service computes valuations and the leaderboard. All numbers derive from
// the ledger and the latest closes; nothing is stored, so recomputing is
// always safe and two reads over the same ledger agree.
type Service struct {
	database *db.Database
	ledger   *ledger.Service
	closes   *cache.LastCloseCache
	holds    HoldSource
}

// NewService creates the portfolio service. holds may be nil, in which case
// available cash equals current cash.
func NewService(database *db.Database, ldg *ledger.Service, closes *cache.LastCloseCache, holds HoldSource) *Service {
	return &Service{database: database, ledger: ldg, closes: closes, holds: holds}
}

// Valuation marks an account to market.
func (s *Service) Valuation(ctx context.Context, accountID string) (*Valuation, error) {
	account, err := s.database.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.ledger.Positions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cash, err := s.ledger.CashBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.value(ctx, account, cash, positions)
}

func (s *Service) value(ctx context.Context, account *db.Account, cash float64, positions map[string]ledger.Position) (*Valuation, error) {
	v := &Valuation{
		AccountID:     account.ID,
		StartingCash:  account.StartingCash,
		NetCashFlow:   cash - account.StartingCash,
		Cash:          cash,
		AvailableCash: cash,
		Positions:     make([]PositionView, 0, len(positions)),
	}
	if s.holds != nil {
		v.AvailableCash = cash - s.holds.HeldCash(account.ID)
	}
	for _, p := range positions {
		last, err := s.lastPrice(ctx, p.Ticker)
		if err != nil {
			return nil, err
		}
		view := PositionView{
			Position:    p,
			LastPrice:   last,
			MarketValue: p.Qty * last,
		}
		view.UnrealizedPnL = (last - p.AvgCost) * p.Qty
		v.MTMPositions += view.MarketValue
		v.Positions = append(v.Positions, view)
	}
	sort.Slice(v.Positions, func(i, j int) bool {
		return v.Positions[i].Ticker < v.Positions[j].Ticker
	})

	v.Equity = v.Cash + v.MTMPositions
	v.PnL = v.Equity - account.StartingCash
	if account.StartingCash != 0 {
		r := v.PnL / account.StartingCash
		v.Return = &r
	}
	return v, nil
}

func (s *Service) lastPrice(ctx context.Context, ticker string) (float64, error) {
	if price, ok := s.closes.Get(ticker); ok {
		return price, nil
	}
	bar, err := s.database.LatestBar(ctx, ticker)
	if err == db.ErrNotFound {
		// no bar yet; value the position at zero rather than failing
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.closes.Set(ticker, bar.Close)
	return bar.Close, nil
}

// Leaderboard values every account, ranks them and keeps the top limit
// entries. limit <= 0 returns the whole board.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	ids, err := s.database.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		account, err := s.database.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		v, err := s.Valuation(ctx, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			AccountID:   id,
			Name:        account.Name,
			AccountType: account.AccountType,
			Equity:      v.Equity,
			PnL:         v.PnL,
			Return:      v.Return,
		})
	}
	Rank(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Rank sorts entries by PnL descending, breaking ties by account ID
// ascending so the ordering is total and stable across calls, then stamps
// 1-based ranks.
func Rank(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PnL != entries[j].PnL {
			return entries[i].PnL > entries[j].PnL
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Round2 rounds a value to cents for presentation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
