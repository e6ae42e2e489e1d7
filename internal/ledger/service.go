package ledger

import (
	"context"
	"database/sql"
	"math"

	"papertrade-core/pkg/db"
)

// qtyEpsilon treats float residue from repeated fills as flat.
const qtyEpsilon = 1e-9

// Position is the state derived for one ticker by folding an account's
// transactions in order.
type Position struct {
	Ticker      string  `json:"ticker"`
	Qty         float64 `json:"qty"`
	AvgCost     float64 `json:"avg_cost"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Service answers cash and position questions from the transaction ledger.
// The ledger is append-only; nothing here mutates history, so every answer
// can be recomputed from scratch and two calls over the same rows agree.
type Service struct {
	database *db.Database
}

// NewService creates a ledger service.
func NewService(database *db.Database) *Service {
	return &Service{database: database}
}

// CashBalance returns starting cash plus the signed flow of every fill.
func (s *Service) CashBalance(ctx context.Context, accountID string) (float64, error) {
	account, err := s.database.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	flow, err := s.database.CashFlow(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.StartingCash + flow, nil
}

// CashBalanceTx is CashBalance inside a caller-owned transaction, for use on
// the fill path where the read and the subsequent append must see the same
// ledger state.
func (s *Service) CashBalanceTx(ctx context.Context, tx *sql.Tx, account *db.Account) (float64, error) {
	flow, err := s.database.CashFlowTx(ctx, tx, account.ID)
	if err != nil {
		return 0, err
	}
	return account.StartingCash + flow, nil
}

// NetQty returns the net signed quantity held for one ticker.
func (s *Service) NetQty(ctx context.Context, accountID, ticker string) (float64, error) {
	return s.database.NetPosition(ctx, accountID, ticker)
}

// NetQtyTx is NetQty inside a caller-owned transaction.
func (s *Service) NetQtyTx(ctx context.Context, tx *sql.Tx, accountID, ticker string) (float64, error) {
	return s.database.NetPositionTx(ctx, tx, accountID, ticker)
}

// Positions folds the account's full transaction history into per-ticker
// positions. Zero-quantity tickers with no realized result are dropped.
func (s *Service) Positions(ctx context.Context, accountID string) (map[string]Position, error) {
	txs, err := s.database.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return Fold(txs), nil
}

// History returns the raw ledger rows for an account, oldest first.
func (s *Service) History(ctx context.Context, accountID string) ([]db.Transaction, error) {
	return s.database.ListTransactionsByAccount(ctx, accountID)
}

// Append writes one ledger entry inside a caller-owned transaction.
func (s *Service) Append(ctx context.Context, tx *sql.Tx, entry db.Transaction) error {
	return s.database.InsertTransactionTx(ctx, tx, entry)
}

// Fold replays transactions in order and returns the resulting positions.
// Buys average into the cost basis; sells reduce quantity at the standing
// average and realize the difference. A position that crosses zero restarts
// its basis at the crossing price.
func Fold(txs []db.Transaction) map[string]Position {
	positions := make(map[string]Position)
	for _, t := range txs {
		p := positions[t.Ticker]
		p.Ticker = t.Ticker
		p = apply(p, t.SignedQty(), t.Price)
		positions[t.Ticker] = p
	}
	for ticker, p := range positions {
		if math.Abs(p.Qty) < qtyEpsilon && p.RealizedPnL == 0 {
			delete(positions, ticker)
		}
	}
	return positions
}

func apply(p Position, signedQty, price float64) Position {
	switch {
	case p.Qty == 0 || sameSign(p.Qty, signedQty):
		// opening or adding: average the basis
		newQty := p.Qty + signedQty
		p.AvgCost = (p.AvgCost*math.Abs(p.Qty) + price*math.Abs(signedQty)) / math.Abs(newQty)
		p.Qty = newQty
	case math.Abs(signedQty) <= math.Abs(p.Qty)+qtyEpsilon:
		// reducing or closing: realize against the standing average
		closed := math.Min(math.Abs(signedQty), math.Abs(p.Qty))
		if p.Qty > 0 {
			p.RealizedPnL += (price - p.AvgCost) * closed
		} else {
			p.RealizedPnL += (p.AvgCost - price) * closed
		}
		p.Qty += signedQty
		if math.Abs(p.Qty) < qtyEpsilon {
			p.Qty = 0
			p.AvgCost = 0
		}
	default:
		// crossing zero: close the whole position, reopen the remainder
		closed := math.Abs(p.Qty)
		if p.Qty > 0 {
			p.RealizedPnL += (price - p.AvgCost) * closed
		} else {
			p.RealizedPnL += (p.AvgCost - price) * closed
		}
		p.Qty += signedQty
		p.AvgCost = price
	}
	return p
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
