package balance

import (
	"log"
	"sync"

	"papertrade-core/pkg/i18n"
)

// hold reserves resources for one order while it waits for approval. Buys
// hold cash at the price seen on submission; sells hold quantity.
type hold struct {
	accountID string
	ticker    string
	side      string
	cash      float64
	qty       float64
}

// Holds tracks soft reservations for orders sitting in the approval queue.
// Holds are advisory: the engine re-validates against the ledger at fill
// time, so a stale hold can never corrupt the books. They exist to stop a
// queue of pending orders from promising the same cash twice.
type Holds struct {
	mu       sync.RWMutex
	byOrder  map[string]hold
	released uint64
	placed   uint64
}

// NewHolds creates an empty hold tracker.
func NewHolds() *Holds {
	return &Holds{byOrder: make(map[string]hold)}
}

// Place reserves resources for a pending order. Placing twice for the same
// order replaces the previous hold.
func (h *Holds) Place(accountID, orderID, ticker, side string, qty, price float64) {
	entry := hold{
		accountID: accountID,
		ticker:    ticker,
		side:      side,
	}
	if side == "BUY" {
		entry.cash = qty * price
	} else {
		entry.qty = qty
	}

	h.mu.Lock()
	h.byOrder[orderID] = entry
	h.placed++
	h.mu.Unlock()

	log.Printf(i18n.Get("HoldPlaced"), accountID, orderID, qty*price)
}

// Release drops the hold for an order; safe to call for unknown orders.
func (h *Holds) Release(orderID string) {
	h.mu.Lock()
	_, ok := h.byOrder[orderID]
	if ok {
		delete(h.byOrder, orderID)
		h.released++
	}
	h.mu.Unlock()

	if ok {
		log.Printf(i18n.Get("HoldReleased"), orderID)
	}
}

// HeldCash returns the cash reserved for an account's pending buys.
func (h *Holds) HeldCash(accountID string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var sum float64
	for _, entry := range h.byOrder {
		if entry.accountID == accountID {
			sum += entry.cash
		}
	}
	return sum
}

// HeldQty returns the quantity reserved for an account's pending sells of
// one ticker.
func (h *Holds) HeldQty(accountID, ticker string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var sum float64
	for _, entry := range h.byOrder {
		if entry.accountID == accountID && entry.ticker == ticker {
			sum += entry.qty
		}
	}
	return sum
}

// Active returns the number of live holds.
func (h *Holds) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byOrder)
}
