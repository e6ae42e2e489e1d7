package reconciliation

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"papertrade-core/internal/events"
	"papertrade-core/internal/ledger"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/i18n"
)

// Finding is one discrepancy the audit pass surfaced.
type Finding struct {
	AccountID string    `json:"account_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Accounts  int       `json:"accounts"`
	Findings  []Finding `json:"findings"`
}

// Service audits the books on a fixed interval. Because positions and cash
// are pure folds over an append-only ledger they cannot silently drift; this
// pass exists to catch bugs, not to fix data, so findings are reported and
// never auto-corrected.
type Service struct {
	database   *db.Database
	ledger     *ledger.Service
	bus        *events.Bus
	interval   time.Duration
	allowShort bool

	mu     sync.Mutex
	last   *Report
	passes uint64
}

// NewService creates the reconciliation service.
func NewService(database *db.Database, ldg *ledger.Service, bus *events.Bus, interval time.Duration, allowShort bool) *Service {
	return &Service{
		database:   database,
		ledger:     ldg,
		bus:        bus,
		interval:   interval,
		allowShort: allowShort,
	}
}

// Start begins periodic reconciliation.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					log.Printf(i18n.Get("ReconPassFailed"), err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Println(i18n.Get("ReconStarted"))
}

// Reconcile runs one audit pass over every account.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{Timestamp: time.Now().UTC()}

	ids, err := s.database.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	report.Accounts = len(ids)

	for _, id := range ids {
		findings, err := s.auditAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Findings = append(report.Findings, findings...)
	}

	orderFindings, err := s.auditFilledOrders(ctx)
	if err != nil {
		return nil, err
	}
	report.Findings = append(report.Findings, orderFindings...)

	for _, f := range report.Findings {
		s.alert(f)
	}

	s.mu.Lock()
	s.last = report
	s.passes++
	s.mu.Unlock()
	return report, nil
}

// auditAccount recomputes an account's cash and positions from the ledger
// and checks the platform invariants hold.
func (s *Service) auditAccount(ctx context.Context, accountID string) ([]Finding, error) {
	var findings []Finding
	now := time.Now().UTC()

	account, err := s.database.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// cash conservation: starting cash plus replayed flow must equal the
	// aggregate the queries report
	flow, err := s.database.CashFlow(ctx, accountID)
	if err != nil {
		return nil, err
	}
	history, err := s.ledger.History(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var replayed float64
	for _, t := range history {
		replayed += t.CashEffect()
	}
	if math.Abs(replayed-flow) > 1e-6 {
		ledgerCash := account.StartingCash + replayed
		reported := account.StartingCash + flow
		log.Printf(i18n.Get("ReconCashMismatch"), accountID, ledgerCash, reported)
		findings = append(findings, Finding{
			AccountID: accountID,
			Kind:      "cash_mismatch",
			Detail:    fmt.Sprintf("replayed flow %.2f disagrees with aggregate %.2f", replayed, flow),
			At:        now,
		})
	}

	if !s.allowShort {
		for ticker, p := range ledger.Fold(history) {
			if p.Qty < -1e-9 {
				log.Printf(i18n.Get("ReconShortPosition"), accountID, ticker, p.Qty)
				findings = append(findings, Finding{
					AccountID: accountID,
					Kind:      "negative_position",
					Detail:    fmt.Sprintf("%s at %.4f with shorting disabled", ticker, p.Qty),
					At:        now,
				})
			}
		}
	}
	return findings, nil
}

// auditFilledOrders checks every FILLED order produced exactly one fill row.
func (s *Service) auditFilledOrders(ctx context.Context) ([]Finding, error) {
	rows, err := s.database.DB.QueryContext(ctx, `
		SELECT o.id, COUNT(t.id)
		FROM orders o
		LEFT JOIN transactions t ON t.order_id = o.id AND t.kind = 'FILL'
		WHERE o.status = 'FILLED'
		GROUP BY o.id
		HAVING COUNT(t.id) != 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []Finding
	now := time.Now().UTC()
	for rows.Next() {
		var (
			orderID string
			fills   int
		)
		if err := rows.Scan(&orderID, &fills); err != nil {
			return nil, err
		}
		log.Printf(i18n.Get("ReconFillMismatch"), orderID, fills)
		findings = append(findings, Finding{
			Kind:   "fill_mismatch",
			Detail: fmt.Sprintf("order %s has %d fill rows", orderID, fills),
			At:     now,
		})
	}
	return findings, rows.Err()
}

func (s *Service) alert(f Finding) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventReconAlert, events.ReconAlert{
		AccountID: f.AccountID,
		Kind:      f.Kind,
		Detail:    f.Detail,
		At:        f.At,
	})
}

// LastReport returns the most recent pass, nil before the first one.
func (s *Service) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Passes returns how many audit passes have completed.
func (s *Service) Passes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}
