package statestore

import (
	"testing"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/units"
	"fundingarb/internal/venue"
)

func TestTickerRoundTrip(t *testing.T) {
	s := New(nil)
	if _, ok := s.Ticker(); ok {
		t.Fatal("Ticker() ok = true before any SetTicker")
	}
	s.SetTicker(venue.Ticker{Symbol: "BTCUSDT", LastPriceQuote: units.NewQuote(1)})
	got, ok := s.Ticker()
	if !ok || got.Symbol != "BTCUSDT" {
		t.Fatalf("Ticker() = (%+v, %v), want BTCUSDT", got, ok)
	}
}

func TestFundingHistoryBoundedToMaxFundingHistory(t *testing.T) {
	s := New(nil)
	for i := 0; i < model.MaxFundingHistory+10; i++ {
		s.SetFunding(model.FundingRateSnapshot{Symbol: "BTCUSDT", CurrentRateBps: units.NewBps(int64(i))})
	}
	hist := s.FundingHistory()
	if len(hist) != model.MaxFundingHistory {
		t.Fatalf("len(FundingHistory()) = %d, want %d", len(hist), model.MaxFundingHistory)
	}
	if hist[len(hist)-1].CurrentRateBps.Int64() != int64(model.MaxFundingHistory+9) {
		t.Fatalf("most recent retained rate = %d, want %d", hist[len(hist)-1].CurrentRateBps.Int64(), model.MaxFundingHistory+9)
	}
}

func TestBalancePositionRoundTrip(t *testing.T) {
	s := New(nil)
	s.SetBalances([]model.Balance{{Asset: "USDT", TotalBase: units.NewBase(1000)}})
	b, ok := s.Balance("USDT")
	if !ok || b.TotalBase.Int64() != 1000 {
		t.Fatalf("Balance(USDT) = (%+v, %v), want 1000", b, ok)
	}

	s.SetPosition(model.Position{Symbol: "BTCUSDT", SizeBase: units.NewBase(5)})
	p, ok := s.Position("BTCUSDT")
	if !ok || p.SizeBase.Int64() != 5 {
		t.Fatalf("Position(BTCUSDT) = (%+v, %v), want size 5", p, ok)
	}

	s.ClearPosition("BTCUSDT")
	if _, ok := s.Position("BTCUSDT"); ok {
		t.Fatal("Position() ok = true after ClearPosition")
	}
}

func TestOpenOrdersExcludesTerminal(t *testing.T) {
	s := New(nil)
	s.UpsertOrder(model.ManagedOrder{ID: "1", Status: model.OrderAcked})
	s.UpsertOrder(model.ManagedOrder{ID: "2", Status: model.OrderFilled})

	open := s.OpenOrders()
	if len(open) != 1 || open[0].ID != "1" {
		t.Fatalf("OpenOrders() = %+v, want only order 1", open)
	}

	s.RemoveOrder("1")
	if len(s.OpenOrders()) != 0 {
		t.Fatalf("OpenOrders() after RemoveOrder = %+v, want empty", s.OpenOrders())
	}
}

func TestEntryContextRoundTripAndClear(t *testing.T) {
	s := New(nil)
	ec := model.EntryContext{Time: time.Unix(100, 0)}
	s.SetEntryContext("BTCUSDT", ec)
	got, ok := s.EntryContext("BTCUSDT")
	if !ok || !got.Time.Equal(ec.Time) {
		t.Fatalf("EntryContext() = (%+v, %v), want %+v", got, ok, ec)
	}
	s.ClearEntryContext("BTCUSDT")
	if _, ok := s.EntryContext("BTCUSDT"); ok {
		t.Fatal("EntryContext() ok = true after ClearEntryContext")
	}
}

func TestLastUpdateSnapshotTracksEachDomainIndependently(t *testing.T) {
	s := New(nil)
	before := s.LastUpdateSnapshot()
	if !before.Ticker.IsZero() || !before.Funding.IsZero() || !before.Account.IsZero() {
		t.Fatalf("LastUpdateSnapshot() before any write = %+v, want all zero", before)
	}

	s.SetTicker(venue.Ticker{Symbol: "BTCUSDT"})
	after := s.LastUpdateSnapshot()
	if after.Ticker.IsZero() {
		t.Fatal("LastUpdateSnapshot().Ticker still zero after SetTicker")
	}
	if !after.Funding.IsZero() {
		t.Fatal("LastUpdateSnapshot().Funding non-zero after only SetTicker")
	}
}

func TestReplaceBalancesAndPositionsOverwritesAtomically(t *testing.T) {
	s := New(nil)
	s.SetBalances([]model.Balance{{Asset: "USDT", TotalBase: units.NewBase(1)}})
	s.SetPosition(model.Position{Symbol: "BTCUSDT", SizeBase: units.NewBase(1)})

	s.ReplaceBalancesAndPositions(
		[]model.Balance{{Asset: "USDT", TotalBase: units.NewBase(999)}},
		nil,
	)

	b, _ := s.Balance("USDT")
	if b.TotalBase.Int64() != 999 {
		t.Fatalf("Balance(USDT) after replace = %s, want 999", b.TotalBase)
	}
	if _, ok := s.Position("BTCUSDT"); ok {
		t.Fatal("Position(BTCUSDT) still present after replace with empty positions slice")
	}
}

func TestTickerReturnsCopyNotAlias(t *testing.T) {
	s := New(nil)
	s.SetTicker(venue.Ticker{Symbol: "BTCUSDT", LastPriceQuote: units.NewQuote(1)})
	got, _ := s.Ticker()
	got.Symbol = "mutated"
	again, _ := s.Ticker()
	if again.Symbol != "BTCUSDT" {
		t.Fatalf("internal state mutated via returned copy, Ticker() = %+v", again)
	}
}
