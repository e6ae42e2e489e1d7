package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrade-core/internal/api"
	"papertrade-core/internal/authz"
	"papertrade-core/internal/balance"
	"papertrade-core/internal/engine"
	"papertrade-core/internal/events"
	"papertrade-core/internal/ledger"
	"papertrade-core/internal/market"
	"papertrade-core/internal/monitor"
	"papertrade-core/internal/portfolio"
	"papertrade-core/internal/reconciliation"
	"papertrade-core/internal/risk"
	"papertrade-core/pkg/cache"
	"papertrade-core/pkg/config"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/i18n"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	closes := cache.NewLastCloseCache()
	ledgerSvc := ledger.NewService(database)
	sim := market.NewSimulator(database, closes, bus, cfg.DefaultStartPx, cfg.TickInterval)

	// Instrument universe from YAML, synced to DB and backfilled
	specs, err := market.LoadTickers(cfg.TickersConfig)
	if err != nil {
		log.Fatalf(i18n.Get("TickerConfigLoadFailed"), err)
	}
	if err := market.SyncTickersToDB(ctx, database, specs); err != nil {
		log.Fatalf(i18n.Get("TickerSyncFailed"), err)
	}
	symbols := make([]string, 0, len(specs))
	for _, spec := range specs {
		symbols = append(symbols, spec.Symbol)
		if err := sim.Seed(ctx, spec.Symbol, cfg.SeedBars, cfg.SeedSpacing, spec.StartPrice); err != nil {
			log.Printf(i18n.Get("BarGenerateFailed"), spec.Symbol, err)
		}
	}

	riskMgr := risk.NewManager(cfg.ApprovalNotional)
	holds := balance.NewHolds()
	eng := engine.New(database, ledgerSvc, sim, riskMgr, holds, bus, cfg.AllowShort)
	groups := authz.NewGroups(database, bus, cfg.StartingCash)
	pf := portfolio.NewService(database, ledgerSvc, closes, holds)

	sysMetrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("SystemMetricsInit"))

	recon := reconciliation.NewService(database, ledgerSvc, bus, cfg.ReconInterval, cfg.AllowShort)
	recon.Start(ctx)

	// Bar ticks drive working-order evaluation and metrics
	tickStream, unsubTicks := bus.Subscribe(events.EventBarTick, 100)
	defer unsubTicks()
	go func() {
		for msg := range tickStream {
			tick, ok := msg.(events.BarTick)
			if !ok {
				continue
			}
			sysMetrics.IncrementBars()
			eng.EvaluateWorking(ctx, tick)
		}
	}()

	fillStream, unsubFills := bus.Subscribe(events.EventOrderFilled, 100)
	defer unsubFills()
	go func() {
		for range fillStream {
			sysMetrics.IncrementFills()
		}
	}()

	// Keep gauges fresh for the metrics endpoint
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sysMetrics.SetGaugeStats(holds.Active(), riskMgr.Snapshot())
			}
		}
	}()

	if cfg.SimEnabled {
		sim.Run(ctx, specs)
	} else {
		log.Println(i18n.Get("SimulatorDisabled"))
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	server := api.NewServer(
		bus,
		database,
		eng,
		groups,
		pf,
		sim,
		sysMetrics,
		recon,
		api.SystemMeta{
			SimEnabled:   cfg.SimEnabled,
			Tickers:      symbols,
			StartingCash: cfg.StartingCash,
			Version:      buildVersion,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
}
