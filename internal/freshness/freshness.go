// Package freshness decides whether the state store's REST-sourced snapshot
// is recent enough to drive trading decisions. WS freshness is a separate
// concern owned by internal/health.
package freshness

import (
	"time"

	"fundingarb/internal/statestore"
)

// Config bounds how old each domain's last update may be before it counts
// as stale.
type Config struct {
	MaxTickerAgeMs  int64
	MaxFundingAgeMs int64
	MaxAccountAgeMs int64
}

// RestFresh reports whether the store's last-update timestamps are all
// within Config's bounds as of now. A missing (zero) timestamp counts as
// stale.
func RestFresh(cfg Config, last statestore.LastUpdate, now time.Time) bool {
	return within(last.Ticker, cfg.MaxTickerAgeMs, now) &&
		within(last.Funding, cfg.MaxFundingAgeMs, now) &&
		within(last.Account, cfg.MaxAccountAgeMs, now)
}

func within(t time.Time, maxAgeMs int64, now time.Time) bool {
	if t.IsZero() {
		return false
	}
	age := now.Sub(t)
	return age <= time.Duration(maxAgeMs)*time.Millisecond
}
