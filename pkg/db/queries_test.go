package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func seedAccountWithUser(t *testing.T, d *Database, accountID, userID, role string) {
	t.Helper()
	ctx := context.Background()
	if err := d.CreateUser(ctx, User{ID: userID, Email: userID + "@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := d.CreateAccount(ctx, Account{ID: accountID, AccountType: "individual", Name: accountID, StartingCash: 10000}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := d.AddAccountMember(ctx, accountID, userID, role); err != nil {
		t.Fatalf("AddAccountMember: %v", err)
	}
}

func TestAccountRoleAndLimits(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedAccountWithUser(t, d, "acct-1", "user-1", "owner")

	t.Run("AccountRole returns role for members", func(t *testing.T) {
		role, err := d.AccountRole(ctx, "acct-1", "user-1")
		if err != nil {
			t.Fatalf("AccountRole: %v", err)
		}
		if role != "owner" {
			t.Errorf("expected owner, got %q", role)
		}
	})

	t.Run("AccountRole empty for strangers", func(t *testing.T) {
		role, err := d.AccountRole(ctx, "acct-1", "nobody")
		if err != nil {
			t.Fatalf("AccountRole: %v", err)
		}
		if role != "" {
			t.Errorf("expected empty role, got %q", role)
		}
	})

	t.Run("AddAccountMember upserts role", func(t *testing.T) {
		if err := d.AddAccountMember(ctx, "acct-1", "user-1", "manager"); err != nil {
			t.Fatalf("AddAccountMember: %v", err)
		}
		role, _ := d.AccountRole(ctx, "acct-1", "user-1")
		if role != "manager" {
			t.Errorf("expected manager after upsert, got %q", role)
		}
	})

	t.Run("UpdateRiskLimits persists values", func(t *testing.T) {
		notional := 5000.0
		if err := d.UpdateRiskLimits(ctx, "acct-1", &notional, nil, true); err != nil {
			t.Fatalf("UpdateRiskLimits: %v", err)
		}
		a, err := d.GetAccount(ctx, "acct-1")
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if a.MaxOrderNotional == nil || *a.MaxOrderNotional != 5000 {
			t.Errorf("expected max_order_notional 5000, got %v", a.MaxOrderNotional)
		}
		if a.MaxPositionAbsQty != nil {
			t.Errorf("expected nil max_position_abs_qty, got %v", *a.MaxPositionAbsQty)
		}
		if !a.EarningsLockout {
			t.Errorf("expected earnings_lockout set")
		}
	})
}

func TestOrderTransitionCAS(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedAccountWithUser(t, d, "acct-2", "user-2", "owner")

	order := Order{
		ID:          "ord-1",
		AccountID:   "acct-2",
		Ticker:      "ACME",
		Side:        "BUY",
		Kind:        "MARKET",
		Qty:         5,
		Status:      "NEW",
		RequestedBy: "user-2",
	}
	if err := d.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	t.Run("transition succeeds from matching status", func(t *testing.T) {
		tx, err := d.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx: %v", err)
		}
		ok, err := d.TransitionOrderTx(ctx, tx, "ord-1", "APPROVED", "user-2", "", 0, "NEW")
		if err != nil {
			t.Fatalf("TransitionOrderTx: %v", err)
		}
		if !ok {
			t.Fatalf("expected transition to succeed")
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		o, _ := d.GetOrder(ctx, "ord-1")
		if o.Status != "APPROVED" || o.ApprovedBy != "user-2" {
			t.Errorf("unexpected order after transition: %+v", o)
		}
	})

	t.Run("transition fails from stale status", func(t *testing.T) {
		tx, _ := d.DB.BeginTx(ctx, nil)
		defer tx.Rollback()
		ok, err := d.TransitionOrderTx(ctx, tx, "ord-1", "APPROVED", "", "", 0, "NEW", "PENDING_APPROVAL")
		if err != nil {
			t.Fatalf("TransitionOrderTx: %v", err)
		}
		if ok {
			t.Errorf("expected CAS to fail when order already APPROVED")
		}
	})

	t.Run("fill price only overwritten when positive", func(t *testing.T) {
		tx, _ := d.DB.BeginTx(ctx, nil)
		ok, err := d.TransitionOrderTx(ctx, tx, "ord-1", "FILLED", "", "", 101.5, "APPROVED")
		if err != nil || !ok {
			t.Fatalf("TransitionOrderTx: ok=%v err=%v", ok, err)
		}
		tx.Commit()

		o, _ := d.GetOrder(ctx, "ord-1")
		if o.FillPrice != 101.5 {
			t.Errorf("expected fill price 101.5, got %.2f", o.FillPrice)
		}
	})
}

func TestOrderListing(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedAccountWithUser(t, d, "acct-3", "user-3", "owner")

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	statuses := []string{"NEW", "PENDING_APPROVAL", "APPROVED", "FILLED", "CANCELLED"}
	for i, st := range statuses {
		o := Order{
			ID:          "o-" + st,
			AccountID:   "acct-3",
			Ticker:      "ACME",
			Side:        "BUY",
			Kind:        "LIMIT",
			Qty:         1,
			LimitPrice:  100,
			Status:      st,
			RequestedBy: "user-3",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := d.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder(%s): %v", st, err)
		}
	}

	t.Run("openOnly filters terminal statuses", func(t *testing.T) {
		orders, err := d.ListOrdersByAccount(ctx, "acct-3", true, 10)
		if err != nil {
			t.Fatalf("ListOrdersByAccount: %v", err)
		}
		if len(orders) != 3 {
			t.Fatalf("expected 3 open orders, got %d", len(orders))
		}
		for _, o := range orders {
			if o.Status == "FILLED" || o.Status == "CANCELLED" {
				t.Errorf("terminal order %s in open listing", o.ID)
			}
		}
	})

	t.Run("newest first ordering", func(t *testing.T) {
		orders, err := d.ListOrdersByAccount(ctx, "acct-3", false, 10)
		if err != nil {
			t.Fatalf("ListOrdersByAccount: %v", err)
		}
		if len(orders) != 5 {
			t.Fatalf("expected 5 orders, got %d", len(orders))
		}
		if orders[0].ID != "o-CANCELLED" {
			t.Errorf("expected newest order first, got %s", orders[0].ID)
		}
	})

	t.Run("limit caps results", func(t *testing.T) {
		orders, err := d.ListOrdersByAccount(ctx, "acct-3", false, 2)
		if err != nil {
			t.Fatalf("ListOrdersByAccount: %v", err)
		}
		if len(orders) != 2 {
			t.Errorf("expected 2 orders, got %d", len(orders))
		}
	})
}

func TestPendingApprovalsVisibility(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedAccountWithUser(t, d, "acct-4", "owner-4", "owner")
	if err := d.CreateUser(ctx, User{ID: "member-4", Email: "member-4@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := d.AddAccountMember(ctx, "acct-4", "member-4", "member"); err != nil {
		t.Fatalf("AddAccountMember: %v", err)
	}

	pending := Order{
		ID:          "ord-pend",
		AccountID:   "acct-4",
		Ticker:      "ACME",
		Side:        "SELL",
		Kind:        "MARKET",
		Qty:         2,
		Status:      "PENDING_APPROVAL",
		RequestedBy: "member-4",
	}
	if err := d.CreateOrder(ctx, pending); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	t.Run("owner sees pending order", func(t *testing.T) {
		orders, err := d.ListPendingApprovalsForUser(ctx, "owner-4")
		if err != nil {
			t.Fatalf("ListPendingApprovalsForUser: %v", err)
		}
		if len(orders) != 1 || orders[0].ID != "ord-pend" {
			t.Errorf("unexpected approvals for owner: %+v", orders)
		}
	})

	t.Run("member does not see pending order", func(t *testing.T) {
		orders, err := d.ListPendingApprovalsForUser(ctx, "member-4")
		if err != nil {
			t.Fatalf("ListPendingApprovalsForUser: %v", err)
		}
		if len(orders) != 0 {
			t.Errorf("member should not see approvals, got %+v", orders)
		}
	})
}

func TestLedgerAggregates(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedAccountWithUser(t, d, "acct-5", "user-5", "owner")

	entries := []Transaction{
		{ID: "t1", AccountID: "acct-5", Ticker: "ACME", Side: "BUY", Qty: 10, Price: 100, Kind: "FILL"},
		{ID: "t2", AccountID: "acct-5", Ticker: "ACME", Side: "SELL", Qty: 4, Price: 110, Kind: "FILL"},
		{ID: "t3", AccountID: "acct-5", Ticker: "GLOBEX", Side: "BUY", Qty: 2, Price: 250, Kind: "FILL"},
	}
	for _, e := range entries {
		tx, err := d.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("BeginTx: %v", err)
		}
		if err := d.InsertTransactionTx(ctx, tx, e); err != nil {
			t.Fatalf("InsertTransactionTx: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	t.Run("CashFlow sums signed notional", func(t *testing.T) {
		flow, err := d.CashFlow(ctx, "acct-5")
		if err != nil {
			t.Fatalf("CashFlow: %v", err)
		}
		// -1000 + 440 - 500
		if flow != -1060 {
			t.Errorf("expected -1060, got %.2f", flow)
		}
	})

	t.Run("NetPosition sums signed qty per ticker", func(t *testing.T) {
		qty, err := d.NetPosition(ctx, "acct-5", "ACME")
		if err != nil {
			t.Fatalf("NetPosition: %v", err)
		}
		if qty != 6 {
			t.Errorf("expected 6, got %.2f", qty)
		}
	})

	t.Run("CountFillsByOrder counts only fills", func(t *testing.T) {
		tx, _ := d.DB.BeginTx(ctx, nil)
		_ = d.InsertTransactionTx(ctx, tx, Transaction{
			ID: "t4", AccountID: "acct-5", OrderID: "ord-x", Ticker: "ACME",
			Side: "BUY", Qty: 1, Price: 100, Kind: "FILL",
		})
		_ = d.InsertTransactionTx(ctx, tx, Transaction{
			ID: "t5", AccountID: "acct-5", OrderID: "ord-x", Ticker: "ACME",
			Side: "BUY", Qty: 1, Price: 0, Kind: "ADJUSTMENT",
		})
		tx.Commit()

		n, err := d.CountFillsByOrder(ctx, "ord-x")
		if err != nil {
			t.Fatalf("CountFillsByOrder: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 fill, got %d", n)
		}
	})
}

func TestBarStorage(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	if err := d.UpsertTicker(ctx, Ticker{Symbol: "ACME", Name: "Acme Corp", AssetType: "EQUITY"}); err != nil {
		t.Fatalf("UpsertTicker: %v", err)
	}

	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		b := Bar{
			Ticker: "ACME",
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   100 + float64(i),
			High:   101 + float64(i),
			Low:    99 + float64(i),
			Close:  100.5 + float64(i),
			Volume: 1000000,
			Source: "SIM",
		}
		if err := d.InsertBar(ctx, b); err != nil {
			t.Fatalf("InsertBar: %v", err)
		}
	}

	t.Run("LatestBar returns most recent", func(t *testing.T) {
		b, err := d.LatestBar(ctx, "ACME")
		if err != nil {
			t.Fatalf("LatestBar: %v", err)
		}
		if b.Close != 104.5 {
			t.Errorf("expected close 104.5, got %.2f", b.Close)
		}
	})

	t.Run("ListBars ascending with limit", func(t *testing.T) {
		bars, err := d.ListBars(ctx, "ACME", 3)
		if err != nil {
			t.Fatalf("ListBars: %v", err)
		}
		if len(bars) != 3 {
			t.Fatalf("expected 3 bars, got %d", len(bars))
		}
		for i := 1; i < len(bars); i++ {
			if !bars[i].Time.After(bars[i-1].Time) {
				t.Errorf("bars not ascending at %d", i)
			}
		}
		if bars[len(bars)-1].Close != 104.5 {
			t.Errorf("expected window to end at newest bar, got %.2f", bars[len(bars)-1].Close)
		}
	})

	t.Run("LatestBar missing ticker returns ErrNotFound", func(t *testing.T) {
		_, err := d.LatestBar(ctx, "NOPE")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestGroupQueries(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	seedAccountWithUser(t, d, "gacct-1", "founder", "owner")

	g := Group{ID: "grp-1", Name: "Desk Alpha", AccountID: "gacct-1", CreatedBy: "founder"}
	if err := d.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := d.AddGroupMember(ctx, "grp-1", "founder", "owner"); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}

	t.Run("GroupNameExists is case-insensitive", func(t *testing.T) {
		exists, err := d.GroupNameExists(ctx, "desk alpha", "")
		if err != nil {
			t.Fatalf("GroupNameExists: %v", err)
		}
		if !exists {
			t.Errorf("expected case-insensitive match")
		}
		exists, _ = d.GroupNameExists(ctx, "desk alpha", "grp-1")
		if exists {
			t.Errorf("expected exclusion of own ID")
		}
	})

	t.Run("GetGroupByAccount resolves group", func(t *testing.T) {
		got, err := d.GetGroupByAccount(ctx, "gacct-1")
		if err != nil {
			t.Fatalf("GetGroupByAccount: %v", err)
		}
		if got.ID != "grp-1" {
			t.Errorf("expected grp-1, got %s", got.ID)
		}
	})

	t.Run("CountGroupOwners tracks role changes", func(t *testing.T) {
		n, err := d.CountGroupOwners(ctx, "grp-1")
		if err != nil {
			t.Fatalf("CountGroupOwners: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 owner, got %d", n)
		}
	})

	t.Run("DiscoverGroups excludes joined groups by default", func(t *testing.T) {
		groups, err := d.DiscoverGroups(ctx, "founder", "", false, 10)
		if err != nil {
			t.Fatalf("DiscoverGroups: %v", err)
		}
		if len(groups) != 0 {
			t.Errorf("expected no discoverable groups for a member, got %d", len(groups))
		}
		groups, err = d.DiscoverGroups(ctx, "founder", "", true, 10)
		if err != nil {
			t.Fatalf("DiscoverGroups: %v", err)
		}
		if len(groups) != 1 {
			t.Errorf("expected own group with include_mine, got %d", len(groups))
		}
	})
}
