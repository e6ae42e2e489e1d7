package engine

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrade-core/internal/authz"
	"papertrade-core/internal/balance"
	"papertrade-core/internal/events"
	"papertrade-core/internal/ledger"
	"papertrade-core/internal/risk"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/i18n"
)

const (
	numLocks   = 64
	maxRetries = 3
)

// PriceSource answers "what does this ticker trade at right now".
type PriceSource interface {
	Latest(ctx context.Context, ticker string) (float64, error)
}

// SubmitRequest is one order request from a user against an account.
type SubmitRequest struct {
	UserID     string
	AccountID  string
	Ticker     string
	Side       string
	Kind       string
	Qty        float64
	LimitPrice float64
}

// Engine drives orders through their lifecycle. Execution serializes per
// account: the balance read, the validation and the ledger append happen
// under one account lock inside one SQL transaction, so two concurrent
// orders can never both spend the same cash.
type Engine struct {
	database *db.Database
	ledger   *ledger.Service
	prices   PriceSource
	risk     *risk.Manager
	holds    *balance.Holds
	bus      *events.Bus

	allowShort bool

	locks [numLocks]sync.Mutex
}

// New creates the order engine.
func New(database *db.Database, ldg *ledger.Service, prices PriceSource, riskMgr *risk.Manager, holds *balance.Holds, bus *events.Bus, allowShort bool) *Engine {
	return &Engine{
		database:   database,
		ledger:     ldg,
		prices:     prices,
		risk:       riskMgr,
		holds:      holds,
		bus:        bus,
		allowShort: allowShort,
	}
}

func (e *Engine) lockFor(accountID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return &e.locks[h.Sum32()%numLocks]
}

// Submit validates a request, creates the order and routes it: immediate
// execution for owners and managers within limits, the approval queue for
// everything else. The returned order carries its post-routing status.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*db.Order, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	req.Side = strings.ToUpper(req.Side)
	req.Kind = strings.ToUpper(req.Kind)

	if !validSide(req.Side) {
		return nil, fmt.Errorf("%w: side %q", ErrValidation, req.Side)
	}
	if !validKind(req.Kind) {
		return nil, fmt.Errorf("%w: kind %q", ErrValidation, req.Kind)
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if req.Kind != KindMarket && req.LimitPrice <= 0 {
		return nil, fmt.Errorf("%w: %s orders need a positive price", ErrValidation, strings.ToLower(req.Kind))
	}
	if req.Kind == KindMarket && req.LimitPrice != 0 {
		return nil, fmt.Errorf("%w: market orders take no price", ErrValidation)
	}

	if _, err := e.database.GetTicker(ctx, req.Ticker); err != nil {
		if err == db.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, req.Ticker)
		}
		return nil, err
	}
	account, err := e.database.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	role, err := e.database.AccountRole(ctx, req.AccountID, req.UserID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrForbidden
	}

	var groupID string
	if account.AccountType == "group" {
		group, err := e.database.GetGroupByAccount(ctx, req.AccountID)
		if err != nil && err != db.ErrNotFound {
			return nil, err
		}
		if group != nil {
			groupID = group.ID
		}
	}

	refPrice := e.referencePrice(ctx, req)
	currentQty, err := e.database.NetPosition(ctx, req.AccountID, req.Ticker)
	if err != nil {
		return nil, err
	}

	order := db.Order{
		ID:          uuid.NewString(),
		AccountID:   req.AccountID,
		GroupID:     groupID,
		Ticker:      req.Ticker,
		Side:        req.Side,
		Kind:        req.Kind,
		Qty:         req.Qty,
		LimitPrice:  req.LimitPrice,
		Status:      StatusNew,
		RequestedBy: req.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.database.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	e.publish(events.EventOrderSubmitted, order, "")

	reason := ""
	if !authz.CanTradeImmediately(role) {
		reason = "member orders require approval"
	} else {
		dec := e.risk.Evaluate(account, risk.Input{
			Ticker:     req.Ticker,
			Side:       req.Side,
			Qty:        req.Qty,
			Price:      refPrice,
			CurrentQty: currentQty,
		})
		if dec.RequiresApproval {
			reason = dec.Reason
		}
	}

	if reason != "" {
		if _, err := e.transition(ctx, order.ID, StatusPendingApproval, "", reason, 0, StatusNew); err != nil {
			return nil, err
		}
		e.holds.Place(order.AccountID, order.ID, order.Ticker, order.Side, order.Qty, refPrice)
		order.Status = StatusPendingApproval
		order.Reason = reason
		e.publish(events.EventOrderPendingApproval, order, reason)
		log.Printf(i18n.Get("OrderPendingApproval"), order.ID, order.AccountID)
		return e.database.GetOrder(ctx, order.ID)
	}

	if _, err := e.transition(ctx, order.ID, StatusApproved, "", "", 0, StatusNew); err != nil {
		return nil, err
	}
	if req.Kind == KindMarket {
		if err := e.fill(ctx, order.ID, 0); err != nil {
			switch err {
			case ErrInsufficientFunds, ErrInsufficientPosition:
				// the order was rejected with the reason recorded
			default:
				return nil, err
			}
		}
	}
	return e.database.GetOrder(ctx, order.ID)
}

// referencePrice is the price risk checks and holds are sized against: the
// latest close when the simulator has one, the order's own price otherwise.
func (e *Engine) referencePrice(ctx context.Context, req SubmitRequest) float64 {
	if price, err := e.prices.Latest(ctx, req.Ticker); err == nil && price > 0 {
		return price
	}
	return req.LimitPrice
}

// Approve moves a queued order forward. Market orders execute immediately;
// limit and stop orders become working orders waiting on a bar.
func (e *Engine) Approve(ctx context.Context, orderID, approverID string) (*db.Order, error) {
	order, err := e.database.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := e.requireApprover(ctx, order, approverID); err != nil {
		return nil, err
	}

	ok, err := e.transition(ctx, orderID, StatusApproved, approverID, "", 0, StatusPendingApproval)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	e.holds.Release(orderID)
	order.Status = StatusApproved
	e.publish(events.EventOrderApproved, *order, "")
	log.Printf(i18n.Get("OrderApproved"), orderID, approverID)

	if order.Kind == KindMarket {
		if err := e.fill(ctx, orderID, 0); err != nil {
			switch err {
			case ErrInsufficientFunds, ErrInsufficientPosition:
				// recorded on the order
			default:
				return nil, err
			}
		}
	}
	return e.database.GetOrder(ctx, orderID)
}

// Reject refuses a queued order with a reason.
func (e *Engine) Reject(ctx context.Context, orderID, approverID, reason string) (*db.Order, error) {
	order, err := e.database.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := e.requireApprover(ctx, order, approverID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "rejected by approver"
	}

	ok, err := e.transition(ctx, orderID, StatusRejected, approverID, reason, 0, StatusPendingApproval)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	e.holds.Release(orderID)
	e.publish(events.EventOrderRejected, *order, reason)
	log.Printf(i18n.Get("OrderRejected"), orderID, reason)
	return e.database.GetOrder(ctx, orderID)
}

// Cancel withdraws a non-terminal order. The requester may always cancel
// their own order; owners and managers may cancel any order on the account.
// The status check-and-set is atomic, so a cancel racing a fill loses
// cleanly: exactly one of them lands.
func (e *Engine) Cancel(ctx context.Context, orderID, callerID string) (*db.Order, error) {
	order, err := e.database.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RequestedBy != callerID {
		role, err := e.database.AccountRole(ctx, order.AccountID, callerID)
		if err != nil {
			return nil, err
		}
		if !authz.CanApprove(role) {
			return nil, ErrForbidden
		}
	}
	if isTerminal(order.Status) {
		return nil, ErrInvalidState
	}

	ok, err := e.transition(ctx, orderID, StatusCancelled, "", "cancelled", 0, openStatuses...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	e.holds.Release(orderID)
	e.publish(events.EventOrderCancelled, *order, "cancelled")
	log.Printf(i18n.Get("OrderCancelled"), orderID, callerID)
	return e.database.GetOrder(ctx, orderID)
}

// Process forces one evaluation of a working order against the newest bar.
// Useful when the simulator tick loop is disabled. Returns the refreshed
// order whether or not it triggered.
func (e *Engine) Process(ctx context.Context, orderID, callerID string) (*db.Order, error) {
	order, err := e.database.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	role, err := e.database.AccountRole(ctx, order.AccountID, callerID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrForbidden
	}
	if order.Status != StatusApproved || order.Kind == KindMarket {
		return nil, ErrInvalidState
	}

	bar, err := e.database.LatestBar(ctx, order.Ticker)
	if err != nil {
		return nil, fmt.Errorf("no bars for %s: %w", order.Ticker, err)
	}
	tick := events.BarTick{
		Ticker: bar.Ticker,
		Time:   bar.Time,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	}
	if price, triggered := triggerPrice(*order, tick); triggered {
		log.Printf(i18n.Get("WorkingOrderTrigger"), order.ID, price)
		if err := e.fill(ctx, order.ID, price); err != nil {
			switch err {
			case ErrInsufficientFunds, ErrInsufficientPosition, ErrInvalidState:
				// recorded on the order
			default:
				return nil, err
			}
		}
	}
	return e.database.GetOrder(ctx, orderID)
}

// EvaluateWorking checks the ticker's approved limit and stop orders against
// a fresh bar and executes those it crosses.
func (e *Engine) EvaluateWorking(ctx context.Context, tick events.BarTick) {
	working, err := e.database.ListWorkingOrders(ctx, tick.Ticker)
	if err != nil {
		log.Printf(i18n.Get("WorkingEvalFailed"), tick.Ticker, err)
		return
	}
	for _, o := range working {
		price, triggered := triggerPrice(o, tick)
		if !triggered {
			continue
		}
		log.Printf(i18n.Get("WorkingOrderTrigger"), o.ID, price)
		if err := e.fill(ctx, o.ID, price); err != nil {
			switch err {
			case ErrInsufficientFunds, ErrInsufficientPosition, ErrInvalidState:
				// rejected or already resolved; recorded on the order
			default:
				log.Printf(i18n.Get("WorkingEvalFailed"), o.ID, err)
			}
		}
	}
}

// triggerPrice reports whether a bar's close crosses a working order and at
// what price it executes. An intrabar wick through the level is not enough;
// only the close decides. Limit orders fill at their limit price, stops
// trigger and then execute as market orders at the close.
func triggerPrice(o db.Order, tick events.BarTick) (float64, bool) {
	switch o.Kind {
	case KindLimit:
		if o.Side == SideBuy && tick.Close <= o.LimitPrice {
			return o.LimitPrice, true
		}
		if o.Side == SideSell && tick.Close >= o.LimitPrice {
			return o.LimitPrice, true
		}
	case KindStop:
		if o.Side == SideBuy && tick.Close >= o.LimitPrice {
			return tick.Close, true
		}
		if o.Side == SideSell && tick.Close <= o.LimitPrice {
			return tick.Close, true
		}
	}
	return 0, false
}

// fill executes an approved order at price (0 means the latest close). The
// whole step runs under the account lock in one transaction: status CAS to
// FILLED, funds and position validation against the ledger, then the append.
func (e *Engine) fill(ctx context.Context, orderID string, price float64) error {
	order, err := e.database.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if price <= 0 {
		price, err = e.prices.Latest(ctx, order.Ticker)
		if err != nil {
			return fmt.Errorf("no price for %s: %w", order.Ticker, err)
		}
	}

	mu := e.lockFor(order.AccountID)
	mu.Lock()
	defer mu.Unlock()

	account, err := e.database.GetAccount(ctx, order.AccountID)
	if err != nil {
		return err
	}

	var fillErr error
	var rejectReason string
	err = e.withRetry(func() error {
		fillErr = nil
		tx, err := e.database.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if order.Side == SideBuy {
			cash, err := e.ledger.CashBalanceTx(ctx, tx, account)
			if err != nil {
				return err
			}
			if need := order.Qty * price; cash < need {
				log.Printf(i18n.Get("InsufficientFunds"), need, cash)
				fillErr = ErrInsufficientFunds
				rejectReason = "insufficient funds"
				return e.rejectInTx(ctx, tx, order.ID, rejectReason)
			}
		} else if !e.allowShort {
			held, err := e.ledger.NetQtyTx(ctx, tx, order.AccountID, order.Ticker)
			if err != nil {
				return err
			}
			if held < order.Qty {
				log.Printf(i18n.Get("InsufficientHolding"), order.Qty, held)
				fillErr = ErrInsufficientPosition
				rejectReason = "insufficient position"
				return e.rejectInTx(ctx, tx, order.ID, rejectReason)
			}
		}

		ok, err := e.database.TransitionOrderTx(ctx, tx, order.ID, StatusFilled, "", "", price, StatusApproved)
		if err != nil {
			return err
		}
		if !ok {
			fillErr = ErrInvalidState
			return tx.Rollback()
		}
		err = e.ledger.Append(ctx, tx, db.Transaction{
			ID:        uuid.NewString(),
			AccountID: order.AccountID,
			GroupID:   order.GroupID,
			OrderID:   order.ID,
			Ticker:    order.Ticker,
			Side:      order.Side,
			Qty:       order.Qty,
			Price:     price,
			Kind:      "FILL",
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if fillErr != nil {
		if fillErr != ErrInvalidState {
			rejected := *order
			rejected.Status = StatusRejected
			e.publish(events.EventOrderRejected, rejected, rejectReason)
		}
		return fillErr
	}

	order.Status = StatusFilled
	order.FillPrice = price
	e.publish(events.EventOrderFilled, *order, "")
	e.publishPosition(ctx, order.AccountID, order.Ticker)
	log.Printf(i18n.Get("OrderFilled"), order.ID, order.Side, order.Ticker, order.Qty, price)
	return nil
}

// rejectInTx turns a failed validation into a terminal REJECTED inside the
// same transaction, so the verdict and the reason land atomically.
func (e *Engine) rejectInTx(ctx context.Context, tx *sql.Tx, orderID, reason string) error {
	ok, err := e.database.TransitionOrderTx(ctx, tx, orderID, StatusRejected, "", reason, 0, StatusApproved)
	if err != nil {
		return err
	}
	if !ok {
		return tx.Rollback()
	}
	return tx.Commit()
}

func (e *Engine) requireApprover(ctx context.Context, order *db.Order, userID string) error {
	role, err := e.database.AccountRole(ctx, order.AccountID, userID)
	if err != nil {
		return err
	}
	if !authz.CanApprove(role) {
		return ErrForbidden
	}
	return nil
}

// transition runs one status check-and-set in its own transaction. Every
// requested edge must exist in the state machine; the SQL guard then decides
// which, if any, actually applies.
func (e *Engine) transition(ctx context.Context, orderID, to, approvedBy, reason string, fillPrice float64, from ...string) (bool, error) {
	for _, f := range from {
		if !canTransition(f, to) {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidState, f, to)
		}
	}
	var ok bool
	err := e.withRetry(func() error {
		tx, err := e.database.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		ok, err = e.database.TransitionOrderTx(ctx, tx, orderID, to, approvedBy, reason, fillPrice, from...)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return ok, err
}

// withRetry re-runs fn on SQLITE_BUSY with a short backoff.
func (e *Engine) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = fn(); err == nil || !db.IsBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}
	return err
}

func (e *Engine) publish(event events.Event, order db.Order, reason string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event, events.OrderUpdate{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Ticker:    order.Ticker,
		Side:      order.Side,
		Qty:       order.Qty,
		Status:    order.Status,
		FillPrice: order.FillPrice,
		Reason:    reason,
	})
}

func (e *Engine) publishPosition(ctx context.Context, accountID, ticker string) {
	if e.bus == nil {
		return
	}
	qty, err := e.database.NetPosition(ctx, accountID, ticker)
	if err != nil {
		return
	}
	e.bus.Publish(events.EventPositionChange, events.PositionChange{
		AccountID: accountID,
		Ticker:    ticker,
		Qty:       qty,
	})
}
