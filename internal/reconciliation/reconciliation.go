// Package reconciliation sweeps the venue's own account state against
// internal/statestore and overwrites the store with what the venue reports,
// logging any drift beyond configured tolerances. Grounded on the teacher's
// Service.Reconcile overwrite-then-diff-then-report shape, generalized from
// a single position-quantity comparison to a balances/positions/ticker/
// funding sweep. Open orders are not fetched from the venue or compared.
package reconciliation

import (
	"context"
	"log"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/statestore"
	"fundingarb/internal/units"
	"fundingarb/internal/venue"
)

// Severity classifies how far a diff is outside tolerance.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Config is the reconciler's tunable tolerances and asset identity.
type Config struct {
	Interval            time.Duration
	ToleranceSizeBps    units.Bps
	TolerancePriceBps   units.Bps
	ToleranceBalanceBps units.Bps
	PerpSymbol          string
	BaseAsset           string
	QuoteAsset          string
	BaseDecimals        int
}

// DefaultConfig mirrors spec.md §6's ReconcilerConfig defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            60 * time.Second,
		ToleranceSizeBps:    units.NewBps(10),
		TolerancePriceBps:   units.NewBps(10),
		ToleranceBalanceBps: units.NewBps(10),
	}
}

// Diff is one field found outside tolerance between the local store and the
// venue's authoritative answer.
type Diff struct {
	Field      string
	LocalValue string
	VenueValue string
	DeltaBps   units.Bps
	Severity   Severity
}

// Report is the result of one reconciliation pass.
type Report struct {
	Timestamp time.Time
	Diffs     []Diff
	HasDiffs  bool
}

// severityOf classifies deltaBps against cfg's warning (toleranceBps) and
// critical (2x toleranceBps) bands. Within tolerance is SeverityNone.
func severityOf(deltaBps, toleranceBps units.Bps) Severity {
	abs := deltaBps.Abs()
	if abs.Cmp(toleranceBps) <= 0 {
		return SeverityNone
	}
	critical := toleranceBps.Add(toleranceBps)
	if abs.Cmp(critical) > 0 {
		return SeverityCritical
	}
	return SeverityWarning
}

// Reconcile fetches balances, positions, ticker, and funding from gw,
// compares them against store's current view, overwrites store with the
// venue's answer (the venue is always authoritative), and returns a report
// of what drifted. A nil position on the venue side that the store still
// holds open is reported as the largest possible drift (10000 bps).
func Reconcile(ctx context.Context, gw venue.Gateway, store *statestore.Store, cfg Config, now time.Time) (Report, error) {
	report := Report{Timestamp: now}

	balances, err := gw.GetBalances(ctx)
	if err != nil {
		return Report{}, err
	}
	positions, err := gw.GetPositions(ctx)
	if err != nil {
		return Report{}, err
	}

	for _, b := range balances {
		if local, ok := store.Balance(b.Asset); ok {
			if d := diffBalance(b, local, cfg.ToleranceBalanceBps); d != nil {
				report.Diffs = append(report.Diffs, *d)
			}
		}
	}

	localPositions := map[string]model.Position{}
	for _, p := range store.Positions() {
		localPositions[p.Symbol] = p
	}
	seen := map[string]bool{}
	for _, p := range positions {
		seen[p.Symbol] = true
		if local, ok := localPositions[p.Symbol]; ok {
			if d := diffPosition(p, local, cfg.ToleranceSizeBps); d != nil {
				report.Diffs = append(report.Diffs, *d)
			}
		}
	}
	for symbol := range localPositions {
		if !seen[symbol] {
			report.Diffs = append(report.Diffs, Diff{
				Field:      "position:" + symbol,
				LocalValue: "open",
				VenueValue: "flat",
				DeltaBps:   units.NewBps(10000),
				Severity:   SeverityCritical,
			})
		}
	}

	if cfg.PerpSymbol != "" {
		if ticker, err := gw.GetTicker(ctx, cfg.PerpSymbol); err == nil {
			store.SetTicker(ticker)
		}
		if funding, err := gw.GetFundingRate(ctx, cfg.PerpSymbol); err == nil {
			store.SetFunding(funding)
		}
	}

	store.ReplaceBalancesAndPositions(balances, positions)

	report.HasDiffs = len(report.Diffs) > 0
	logReport(report)
	return report, nil
}

func diffBalance(venueBal, localBal model.Balance, toleranceBps units.Bps) *Diff {
	deltaBps := units.BpsOfBase(venueBal.TotalBase.Sub(localBal.TotalBase).Abs(), localBal.TotalBase)
	sev := severityOf(deltaBps, toleranceBps)
	if sev == SeverityNone {
		return nil
	}
	return &Diff{
		Field:      "balance:" + venueBal.Asset,
		LocalValue: localBal.TotalBase.String(),
		VenueValue: venueBal.TotalBase.String(),
		DeltaBps:   deltaBps,
		Severity:   sev,
	}
}

func diffPosition(venuePos, localPos model.Position, toleranceBps units.Bps) *Diff {
	deltaBps := units.BpsOfBase(venuePos.SizeBase.Sub(localPos.SizeBase).Abs(), localPos.SizeBase)
	sev := severityOf(deltaBps, toleranceBps)
	if sev == SeverityNone {
		return nil
	}
	return &Diff{
		Field:      "position:" + venuePos.Symbol,
		LocalValue: localPos.SizeBase.String(),
		VenueValue: venuePos.SizeBase.String(),
		DeltaBps:   deltaBps,
		Severity:   sev,
	}
}

func logReport(report Report) {
	if !report.HasDiffs {
		log.Printf("reconcile: ok, no diffs")
		return
	}
	for _, d := range report.Diffs {
		log.Printf("reconcile: %s local=%s venue=%s delta=%sbps severity=%s",
			d.Field, d.LocalValue, d.VenueValue, d.DeltaBps.String(), d.Severity)
	}
}
