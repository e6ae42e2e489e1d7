package market

import (
	"context"
	"hash/fnv"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"papertrade-core/internal/events"
	"papertrade-core/pkg/cache"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/i18n"
)

const (
	// maxStepPct bounds a single bar's relative move.
	maxStepPct = 0.005
	// seedStepSigma is the stddev of the log-return walk used for backfill.
	seedStepSigma = 0.002
	// floorPrice keeps the walk from reaching zero or going negative.
	floorPrice = 0.01
	// barVolume is the fixed synthetic volume per bar.
	barVolume = 1_000_000
	// sourceSim marks bars produced by the simulator.
	sourceSim = "SIM"

	numLocks = 32
)

// Simulator produces the synthetic price series every other component trades
// against. Bars are generated by a bounded random walk, appended to the bar
// store and fanned out on the event bus. Generation is serialized per ticker
// so the series stays strictly monotonic in time.
type Simulator struct {
	database *db.Database
	cache    *cache.LastCloseCache
	bus      *events.Bus

	defaultStartPx float64
	interval       time.Duration

	locks [numLocks]sync.Mutex
}

// NewSimulator creates a price simulator.
func NewSimulator(database *db.Database, closes *cache.LastCloseCache, bus *events.Bus, defaultStartPx float64, interval time.Duration) *Simulator {
	if defaultStartPx <= 0 {
		defaultStartPx = 100.0
	}
	return &Simulator{
		database:       database,
		cache:          closes,
		bus:            bus,
		defaultStartPx: defaultStartPx,
		interval:       interval,
	}
}

func (s *Simulator) lockFor(ticker string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(ticker))
	return &s.locks[h.Sum32()%numLocks]
}

// Advance generates the next bar for a ticker. The new bar opens at the
// previous close; a ticker with no history starts at its configured start
// price (or the global default).
func (s *Simulator) Advance(ctx context.Context, ticker string, startPx float64) (*db.Bar, error) {
	mu := s.lockFor(ticker)
	mu.Lock()
	defer mu.Unlock()

	open := startPx
	if open <= 0 {
		open = s.defaultStartPx
	}
	var prevTime time.Time
	prev, err := s.database.LatestBar(ctx, ticker)
	switch {
	case err == nil:
		open = prev.Close
		prevTime = prev.Time
	case err == db.ErrNotFound:
		// cold start, use the configured price
	default:
		return nil, err
	}

	now := time.Now().UTC()
	if !now.After(prevTime) {
		// clock went backwards or two ticks landed in the same instant;
		// bump so the (ticker, time) key stays unique
		now = prevTime.Add(time.Millisecond)
	}

	step := (rand.Float64()*2 - 1) * maxStepPct
	bar := nextBar(ticker, now, open, step)

	if err := s.database.InsertBar(ctx, bar); err != nil {
		return nil, err
	}
	s.cache.Set(ticker, bar.Close)
	s.publish(bar)
	return &bar, nil
}

// nextBar derives one OHLCV bar from the opening price and a relative step.
func nextBar(ticker string, t time.Time, open, step float64) db.Bar {
	close := open * (1 + step)
	if close < floorPrice {
		close = floorPrice
	}
	spread := math.Abs(step) * 0.5
	high := math.Max(open, close) * (1 + spread)
	low := math.Min(open, close) * (1 - spread)
	return db.Bar{
		Ticker: ticker,
		Time:   t,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: barVolume,
		Source: sourceSim,
	}
}

// Seed backfills a history of bars ending at the current time, spaced evenly.
// A ticker that already has bars is left untouched, so startup reseeding is
// idempotent.
func (s *Simulator) Seed(ctx context.Context, ticker string, bars int, spacing time.Duration, startPx float64) error {
	mu := s.lockFor(ticker)
	mu.Lock()
	defer mu.Unlock()

	n, err := s.database.BarCount(ctx, ticker)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if startPx <= 0 {
		startPx = s.defaultStartPx
	}
	if bars <= 0 {
		bars = 1
	}

	now := time.Now().UTC()
	open := startPx
	var last db.Bar
	for i := 0; i < bars; i++ {
		t := now.Add(-time.Duration(bars-1-i) * spacing)
		step := math.Expm1(rand.NormFloat64() * seedStepSigma)
		bar := nextBar(ticker, t, open, step)
		if err := s.database.InsertBar(ctx, bar); err != nil {
			return err
		}
		open = bar.Close
		last = bar
	}
	s.cache.Set(ticker, last.Close)
	log.Printf(i18n.Get("TickerSeeded"), bars, ticker, startPx)
	return nil
}

// Latest returns the newest close for a ticker, preferring the write-through
// cache over the bar store.
func (s *Simulator) Latest(ctx context.Context, ticker string) (float64, error) {
	if close, ok := s.cache.Get(ticker); ok {
		return close, nil
	}
	bar, err := s.database.LatestBar(ctx, ticker)
	if err != nil {
		return 0, err
	}
	s.cache.Set(ticker, bar.Close)
	return bar.Close, nil
}

// History returns up to limit bars for a ticker in ascending time order.
func (s *Simulator) History(ctx context.Context, ticker string, limit int) ([]db.Bar, error) {
	return s.database.ListBars(ctx, ticker, limit)
}

// Run advances every registered ticker on a fixed interval until the context
// is cancelled.
func (s *Simulator) Run(ctx context.Context, specs []TickerSpec) {
	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, spec := range specs {
					if _, err := s.Advance(ctx, spec.Symbol, spec.StartPrice); err != nil {
						log.Printf(i18n.Get("BarGenerateFailed"), spec.Symbol, err)
					}
				}
			}
		}
	}()
	log.Printf(i18n.Get("SimulatorStarted"), len(specs), s.interval)
}

func (s *Simulator) publish(bar db.Bar) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventBarTick, events.BarTick{
		Ticker: bar.Ticker,
		Time:   bar.Time,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	})
}
