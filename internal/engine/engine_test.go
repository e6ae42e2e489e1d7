package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"papertrade-core/internal/balance"
	"papertrade-core/internal/events"
	"papertrade-core/internal/ledger"
	"papertrade-core/internal/risk"
	"papertrade-core/pkg/db"
)

type stubPrices struct {
	price float64
}

func (s stubPrices) Latest(ctx context.Context, ticker string) (float64, error) {
	return s.price, nil
}

type fixture struct {
	engine   *Engine
	database *db.Database
	ledger   *ledger.Service
	holds    *balance.Holds
	owner    string
	member   string
	account  string
}

func newFixture(t *testing.T, price, startingCash, approvalNotional float64) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	ctx := context.Background()
	f := &fixture{
		database: database,
		ledger:   ledger.NewService(database),
		holds:    balance.NewHolds(),
		owner:    uuid.NewString(),
		member:   uuid.NewString(),
		account:  uuid.NewString(),
	}
	for _, u := range []struct{ id, email string }{
		{f.owner, "owner@example.com"},
		{f.member, "member@example.com"},
	} {
		if err := database.CreateUser(ctx, db.User{ID: u.id, Email: u.email, PasswordHash: "x"}); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}
	err = database.CreateAccount(ctx, db.Account{
		ID:           f.account,
		AccountType:  "group",
		Name:         "desk",
		StartingCash: startingCash,
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if err := database.AddAccountMember(ctx, f.account, f.owner, "owner"); err != nil {
		t.Fatalf("AddAccountMember failed: %v", err)
	}
	if err := database.AddAccountMember(ctx, f.account, f.member, "member"); err != nil {
		t.Fatalf("AddAccountMember failed: %v", err)
	}
	if err := database.UpsertTicker(ctx, db.Ticker{Symbol: "ACME", Name: "Acme", AssetType: "EQUITY"}); err != nil {
		t.Fatalf("UpsertTicker failed: %v", err)
	}

	f.engine = New(database, f.ledger, stubPrices{price: price}, risk.NewManager(approvalNotional), f.holds, events.NewBus(), false)
	return f
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"bad side", SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "ACME", Side: "HOLD", Kind: "MARKET", Qty: 1}},
		{"bad kind", SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "ACME", Side: "BUY", Kind: "ICEBERG", Qty: 1}},
		{"zero qty", SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 0}},
		{"negative qty", SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: -5}},
		{"limit without price", SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "ACME", Side: "BUY", Kind: "LIMIT", Qty: 1}},
		{"market with price", SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 1, LimitPrice: 99}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.Submit(ctx, tc.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("unknown ticker", func(t *testing.T) {
		_, err := f.engine.Submit(ctx, SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "GHOST", Side: "BUY", Kind: "MARKET", Qty: 1})
		if err == nil {
			t.Error("expected unknown ticker error")
		}
	})

	t.Run("non-member", func(t *testing.T) {
		_, err := f.engine.Submit(ctx, SubmitRequest{UserID: uuid.NewString(), AccountID: f.account, Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 1})
		if err != ErrForbidden {
			t.Errorf("got %v, want ErrForbidden", err)
		}
	})
}

func TestOwnerMarketBuyFillsImmediately(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	order, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 10,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if order.Status != StatusFilled {
		t.Fatalf("status = %q, want FILLED", order.Status)
	}
	if order.FillPrice != 100 {
		t.Errorf("fill price = %v, want 100", order.FillPrice)
	}

	cash, err := f.ledger.CashBalance(ctx, f.account)
	if err != nil {
		t.Fatalf("CashBalance failed: %v", err)
	}
	if cash != 99000 {
		t.Errorf("cash = %v, want 99000", cash)
	}
	qty, _ := f.ledger.NetQty(ctx, f.account, "ACME")
	if qty != 10 {
		t.Errorf("position = %v, want 10", qty)
	}
	n, _ := f.database.CountFillsByOrder(ctx, order.ID)
	if n != 1 {
		t.Errorf("fills for order = %d, want 1", n)
	}
}

func TestBuyBeyondCashIsRejected(t *testing.T) {
	f := newFixture(t, 100, 500, 0)
	ctx := context.Background()

	order, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 10,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if order.Status != StatusRejected {
		t.Fatalf("status = %q, want REJECTED", order.Status)
	}
	if order.Reason != "insufficient funds" {
		t.Errorf("reason = %q", order.Reason)
	}
	cash, _ := f.ledger.CashBalance(ctx, f.account)
	if cash != 500 {
		t.Errorf("rejected order moved cash: %v", cash)
	}
}

func TestSellBeyondHoldingIsRejected(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	if _, err := f.engine.Submit(ctx, SubmitRequest{UserID: f.owner, AccountID: f.account, Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 5}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	order, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "SELL", Kind: "MARKET", Qty: 8,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if order.Status != StatusRejected {
		t.Fatalf("status = %q, want REJECTED", order.Status)
	}
	if order.Reason != "insufficient position" {
		t.Errorf("reason = %q", order.Reason)
	}
	qty, _ := f.ledger.NetQty(ctx, f.account, "ACME")
	if qty != 5 {
		t.Errorf("position = %v, want 5", qty)
	}
}

func TestMemberOrderWaitsForApproval(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	order, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.member, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 10,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if order.Status != StatusPendingApproval {
		t.Fatalf("status = %q, want PENDING_APPROVAL", order.Status)
	}
	if f.holds.HeldCash(f.account) != 1000 {
		t.Errorf("held cash = %v, want 1000", f.holds.HeldCash(f.account))
	}

	// members cannot approve, not even their own
	if _, err := f.engine.Approve(ctx, order.ID, f.member); err != ErrForbidden {
		t.Errorf("member approve: got %v, want ErrForbidden", err)
	}

	approved, err := f.engine.Approve(ctx, order.ID, f.owner)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != StatusFilled {
		t.Errorf("status after approve = %q, want FILLED", approved.Status)
	}
	if approved.ApprovedBy != f.owner {
		t.Errorf("approved_by = %q, want owner", approved.ApprovedBy)
	}
	if f.holds.HeldCash(f.account) != 0 {
		t.Errorf("hold not released: %v", f.holds.HeldCash(f.account))
	}

	// approving twice is an invalid transition
	if _, err := f.engine.Approve(ctx, order.ID, f.owner); err != ErrInvalidState {
		t.Errorf("double approve: got %v, want ErrInvalidState", err)
	}
}

func TestRejectPendingOrder(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	order, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.member, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 10,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	rejected, err := f.engine.Reject(ctx, order.ID, f.owner, "not today")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %q, want REJECTED", rejected.Status)
	}
	if rejected.Reason != "not today" {
		t.Errorf("reason = %q", rejected.Reason)
	}
	if f.holds.Active() != 0 {
		t.Errorf("hold not released")
	}
	cash, _ := f.ledger.CashBalance(ctx, f.account)
	if cash != 100000 {
		t.Errorf("rejected order moved cash: %v", cash)
	}
}

func TestNotionalThresholdGatesOwners(t *testing.T) {
	f := newFixture(t, 100, 1e9, 10000)
	ctx := context.Background()

	small, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 99,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if small.Status != StatusFilled {
		t.Errorf("below threshold status = %q, want FILLED", small.Status)
	}

	big, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 200,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if big.Status != StatusPendingApproval {
		t.Errorf("above threshold status = %q, want PENDING_APPROVAL", big.Status)
	}
}

func TestCancelLifecycle(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	pending, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.member, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 10,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// requester cancels their own pending order
	cancelled, err := f.engine.Cancel(ctx, pending.ID, f.member)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %q, want CANCELLED", cancelled.Status)
	}
	if _, err := f.engine.Approve(ctx, pending.ID, f.owner); err != ErrInvalidState {
		t.Errorf("approve after cancel: got %v, want ErrInvalidState", err)
	}

	filled, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 1,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.engine.Cancel(ctx, filled.ID, f.owner); err != ErrInvalidState {
		t.Errorf("cancel filled: got %v, want ErrInvalidState", err)
	}

	working, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "LIMIT", Qty: 1, LimitPrice: 90,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// a stranger cannot cancel someone else's order
	if _, err := f.engine.Cancel(ctx, working.ID, uuid.NewString()); err != ErrForbidden {
		t.Errorf("stranger cancel: got %v, want ErrForbidden", err)
	}
	if _, err := f.engine.Cancel(ctx, working.ID, f.owner); err != nil {
		t.Errorf("owner cancel working order failed: %v", err)
	}
}

func TestWorkingOrdersTriggerOnBars(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	limitBuy, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "LIMIT", Qty: 10, LimitPrice: 95,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if limitBuy.Status != StatusApproved {
		t.Fatalf("limit order status = %q, want APPROVED", limitBuy.Status)
	}

	// the low wicks through the limit but the close stays above: no trigger
	f.engine.EvaluateWorking(ctx, events.BarTick{Ticker: "ACME", Time: time.Now(), Open: 100, High: 101, Low: 94, Close: 99})
	got, _ := f.database.GetOrder(ctx, limitBuy.ID)
	if got.Status != StatusApproved {
		t.Fatalf("untriggered order status = %q", got.Status)
	}

	// bar closes at or below the limit: fills at the limit price
	f.engine.EvaluateWorking(ctx, events.BarTick{Ticker: "ACME", Time: time.Now(), Open: 98, High: 99, Low: 92, Close: 94})
	got, _ = f.database.GetOrder(ctx, limitBuy.ID)
	if got.Status != StatusFilled {
		t.Fatalf("triggered order status = %q, want FILLED", got.Status)
	}
	if got.FillPrice != 95 {
		t.Errorf("fill price = %v, want limit 95", got.FillPrice)
	}

	stopSell, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "SELL", Kind: "STOP", Qty: 10, LimitPrice: 92,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// low touches the stop but the close holds above it: no trigger
	f.engine.EvaluateWorking(ctx, events.BarTick{Ticker: "ACME", Time: time.Now(), Open: 94, High: 95, Low: 91.5, Close: 93})
	got, _ = f.database.GetOrder(ctx, stopSell.ID)
	if got.Status != StatusApproved {
		t.Fatalf("untriggered stop status = %q", got.Status)
	}

	// close breaches the stop: triggers and executes at the close, not the stop
	f.engine.EvaluateWorking(ctx, events.BarTick{Ticker: "ACME", Time: time.Now(), Open: 93, High: 94, Low: 90, Close: 91})
	got, _ = f.database.GetOrder(ctx, stopSell.ID)
	if got.Status != StatusFilled {
		t.Fatalf("stop order status = %q, want FILLED", got.Status)
	}
	if got.FillPrice != 91 {
		t.Errorf("stop fill price = %v, want close 91", got.FillPrice)
	}
}

func TestConcurrentSubmitsNeverOverspend(t *testing.T) {
	// cash covers only one of the two orders
	f := newFixture(t, 100, 1000, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*db.Order, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			order, err := f.engine.Submit(ctx, SubmitRequest{
				UserID: f.owner, AccountID: f.account,
				Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 6,
			})
			if err != nil {
				t.Errorf("Submit failed: %v", err)
				return
			}
			results[n] = order
		}(i)
	}
	wg.Wait()

	filled := 0
	for _, order := range results {
		if order != nil && order.Status == StatusFilled {
			filled++
		}
	}
	if filled != 1 {
		t.Errorf("filled = %d, want exactly 1 (600 notional each, 1000 cash)", filled)
	}
	cash, err := f.ledger.CashBalance(ctx, f.account)
	if err != nil {
		t.Fatalf("CashBalance failed: %v", err)
	}
	if cash < 0 {
		t.Errorf("account overspent: cash = %v", cash)
	}
	if math.Abs(cash-400) > 1e-9 {
		t.Errorf("cash = %v, want 400", cash)
	}
}

func TestProcessForcesWorkingOrderEvaluation(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	limitBuy, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "LIMIT", Qty: 5, LimitPrice: 95,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	insertBar := func(closePx float64, at time.Time) {
		t.Helper()
		err := f.database.InsertBar(ctx, db.Bar{
			Ticker: "ACME", Time: at,
			Open: 100, High: 101, Low: closePx - 6, Close: closePx,
			Volume: 1000000, Source: "SIM",
		})
		if err != nil {
			t.Fatalf("InsertBar failed: %v", err)
		}
	}

	// the low reaches 92 but the close stays above the limit
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	insertBar(98, base)

	got, err := f.engine.Process(ctx, limitBuy.ID, f.owner)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("untriggered order status = %q, want APPROVED", got.Status)
	}

	insertBar(94, base.Add(time.Minute))
	// close 94 <= limit 95: fills at the limit
	got, err = f.engine.Process(ctx, limitBuy.ID, f.owner)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got.Status != StatusFilled {
		t.Fatalf("triggered order status = %q, want FILLED", got.Status)
	}
	if got.FillPrice != 95 {
		t.Errorf("fill price = %v, want limit 95", got.FillPrice)
	}

	t.Run("stranger cannot process", func(t *testing.T) {
		if _, err := f.engine.Process(ctx, limitBuy.ID, uuid.NewString()); err != ErrForbidden {
			t.Errorf("got %v, want ErrForbidden", err)
		}
	})

	t.Run("filled order cannot be processed", func(t *testing.T) {
		if _, err := f.engine.Process(ctx, limitBuy.ID, f.owner); err != ErrInvalidState {
			t.Errorf("got %v, want ErrInvalidState", err)
		}
	})
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	f := newFixture(t, 100, 100000, 0)
	ctx := context.Background()

	filled, err := f.engine.Submit(ctx, SubmitRequest{
		UserID: f.owner, AccountID: f.account,
		Ticker: "ACME", Side: "BUY", Kind: "MARKET", Qty: 1,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if filled.Status != StatusFilled {
		t.Fatalf("order status = %q, want FILLED", filled.Status)
	}

	// edges absent from the state machine are refused before touching the DB
	if _, err := f.engine.transition(ctx, filled.ID, StatusApproved, "", "", 0, StatusFilled); err == nil {
		t.Error("FILLED -> APPROVED accepted, want error")
	}
	if _, err := f.engine.transition(ctx, filled.ID, StatusNew, "", "", 0, StatusCancelled); err == nil {
		t.Error("CANCELLED -> NEW accepted, want error")
	}

	got, _ := f.database.GetOrder(ctx, filled.ID)
	if got.Status != StatusFilled {
		t.Errorf("order status = %q after refused transitions, want FILLED", got.Status)
	}

	for _, terminal := range []string{StatusFilled, StatusCancelled, StatusRejected} {
		if !isTerminal(terminal) {
			t.Errorf("isTerminal(%s) = false", terminal)
		}
		for _, to := range []string{StatusNew, StatusPendingApproval, StatusApproved, StatusFilled, StatusCancelled} {
			if canTransition(terminal, to) {
				t.Errorf("canTransition(%s, %s) = true", terminal, to)
			}
		}
	}
}
