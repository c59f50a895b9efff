// Command fundingarb runs the delta-neutral funding-rate arbitrage worker:
// load config, build the venue gateway and audit journal it asks for, then
// run until told to stop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fundingarb/internal/audit"
	"fundingarb/internal/config"
	"fundingarb/internal/model"
	"fundingarb/internal/units"
	"fundingarb/internal/venue"
	"fundingarb/internal/venue/paper"
	"fundingarb/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "./config.yaml", "path to the YAML config overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("config loaded: asset=%s dry_run=%t", cfg.Asset.PerpSymbol, cfg.DryRun)

	journal, err := newJournal(cfg)
	if err != nil {
		log.Fatalf("audit journal init failed: %v", err)
	}
	defer journal.Close()

	gw := newGateway(cfg)

	w := worker.New(cfg, gw, journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shutting down")
		cancel()
	}()

	if err := w.Run(ctx); err != nil {
		log.Fatalf("worker exited with error: %v", err)
	}
	log.Println("stopped")
}

// newJournal constructs the sqlite-backed audit.Journal when cfg asks for
// durability, falling back to the always-available in-memory ring buffer
// otherwise (or if sqlite init fails, since reconciliation rebuilds
// position/balance truth from the venue regardless).
func newJournal(cfg config.Config) (audit.Journal, error) {
	if !cfg.UseSQLiteAudit {
		return audit.NewMemory(10_000), nil
	}
	j, err := audit.NewSQLite(cfg.AuditDBPath)
	if err != nil {
		log.Printf("sqlite audit journal unavailable, falling back to memory: %v", err)
		return audit.NewMemory(10_000), nil
	}
	return j, nil
}

// newGateway picks the venue adapter. Only the in-process paper venue ships
// with this core; a live venue adapter is a separate binary concern wired
// in the same way once one exists.
func newGateway(cfg config.Config) venue.Gateway {
	return paper.New(paper.Config{
		FeeRateBps: units.NewBps(5),
		Clock:      model.SystemClock{},
	})
}
