// Package accounting tracks the equity figures the risk engine's
// RiskSnapshot needs but no other component owns: current equity, the
// running peak (for drawdown), and the current UTC day's realized+
// unrealized P&L window (spec.md §4.I calls dailyPnlQuote "caller-tracked
// window P&L"). Grounded on the teacher's balance.Manager cache-then-sync
// shape, adapted from a single float balance cache to an integer equity
// tracker with peak/daily bookkeeping.
package accounting

import (
	"sync"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
)

// Tracker holds the running equity high-water mark and the start-of-day
// baseline used to compute today's P&L window.
type Tracker struct {
	mu sync.Mutex

	peakEquityQuote units.Quote
	dayStartEquity  units.Quote
	dayStartDate    string // YYYY-MM-DD in UTC, rolls the window at midnight
}

// New constructs an empty Tracker; the first Update call seeds the peak and
// the day's baseline.
func New() *Tracker {
	return &Tracker{}
}

// Update folds in a freshly computed equity figure and returns the
// dailyPnlQuote/peakEquityQuote pair the risk engine needs. now must be in
// UTC-comparable terms; callers pass wall-clock time.
func (t *Tracker) Update(equityQuote units.Quote, now time.Time) (dailyPnlQuote, peakEquityQuote units.Quote) {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := now.UTC().Format("2006-01-02")
	if t.dayStartDate != today {
		t.dayStartDate = today
		t.dayStartEquity = equityQuote
	}

	if equityQuote.Cmp(t.peakEquityQuote) > 0 {
		t.peakEquityQuote = equityQuote
	}

	return equityQuote.Sub(t.dayStartEquity), t.peakEquityQuote
}

// Equity computes total account equity as quote-asset cash plus the venue
// position's unrealized P&L: the same "cash + open position value" figure a
// venue's own account-equity endpoint reports. quoteBalance is the balance
// entry for the asset cfg.QuoteAsset names, already denominated in the
// quote asset's own smallest unit, which by convention in this module
// shares Quote's scale, so no price conversion is needed here (unlike a
// base-asset balance, which would need NotionalQuote).
func Equity(quoteBalance *model.Balance, venuePosition *model.Position) units.Quote {
	total := units.ZeroQuote()
	if quoteBalance != nil {
		total = units.QuoteFromBig(quoteBalance.TotalBase.Int())
	}
	if venuePosition != nil {
		total = total.Add(venuePosition.UnrealizedPnlQuote)
	}
	return total
}

// MarginUsed returns the venue position's reported margin, or zero if flat.
func MarginUsed(venuePosition *model.Position) units.Quote {
	if venuePosition == nil {
		return units.ZeroQuote()
	}
	return venuePosition.MarginQuote
}
