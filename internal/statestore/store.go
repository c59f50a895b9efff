// Package statestore holds the in-memory, thread-safe view of ticker,
// funding, balances, positions, and open orders that the evaluator reads
// every tick. Writers are serialized by a single mutex; readers always get
// copies, never aliases into internal maps, and no I/O is ever performed
// while the lock is held.
package statestore

import (
	"sync"
	"time"

	"fundingarb/internal/model"
	"fundingarb/internal/venue"
)

// LastUpdate tracks, per domain, when the store was last written.
type LastUpdate struct {
	Ticker  time.Time
	Funding time.Time
	Account time.Time
}

// Store is the single shared mutable state container the worker owns.
type Store struct {
	mu sync.RWMutex

	ticker         *venue.Ticker
	funding        *model.FundingRateSnapshot
	fundingHistory []model.FundingRateSnapshot
	balances       map[string]model.Balance
	positions      map[string]model.Position
	orders         map[string]model.ManagedOrder
	entryContexts  map[string]model.EntryContext

	lastUpdate LastUpdate
	clock      model.Clock
}

// New constructs an empty Store. clock defaults to the system clock if nil.
func New(clock model.Clock) *Store {
	if clock == nil {
		clock = model.SystemClock{}
	}
	return &Store{
		balances:      map[string]model.Balance{},
		positions:     map[string]model.Position{},
		orders:        map[string]model.ManagedOrder{},
		entryContexts: map[string]model.EntryContext{},
		clock:         clock,
	}
}

// SetTicker overwrites the latest ticker and bumps its last-update time.
func (s *Store) SetTicker(t venue.Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.ticker = &cp
	s.lastUpdate.Ticker = s.clock.Now()
}

// Ticker returns a copy of the latest ticker, or false if none is set.
func (s *Store) Ticker() (venue.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ticker == nil {
		return venue.Ticker{}, false
	}
	return *s.ticker, true
}

// SetFunding overwrites the latest funding snapshot and appends it to the
// bounded trailing history the strategy engine's trend analysis reads.
func (s *Store) SetFunding(f model.FundingRateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := f
	s.funding = &cp
	s.lastUpdate.Funding = s.clock.Now()

	s.fundingHistory = append(s.fundingHistory, f)
	if len(s.fundingHistory) > model.MaxFundingHistory {
		s.fundingHistory = s.fundingHistory[len(s.fundingHistory)-model.MaxFundingHistory:]
	}
}

// Funding returns a copy of the latest funding snapshot, or false if none is set.
func (s *Store) Funding() (model.FundingRateSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.funding == nil {
		return model.FundingRateSnapshot{}, false
	}
	return *s.funding, true
}

// FundingHistory returns a copy of the trailing funding-rate snapshots,
// oldest first, bounded to model.MaxFundingHistory.
func (s *Store) FundingHistory() []model.FundingRateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FundingRateSnapshot, len(s.fundingHistory))
	copy(out, s.fundingHistory)
	return out
}

// SetBalances overwrites the full balances map, keyed by asset.
func (s *Store) SetBalances(balances []model.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]model.Balance, len(balances))
	for _, b := range balances {
		next[b.Asset] = b
	}
	s.balances = next
	s.lastUpdate.Account = s.clock.Now()
}

// Balance returns a copy of one asset's balance, or false if unknown.
func (s *Store) Balance(asset string) (model.Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[asset]
	return b, ok
}

// Balances returns a snapshot slice of all balances.
func (s *Store) Balances() []model.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Balance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	return out
}

// SetPosition overwrites one symbol's venue-reported position.
func (s *Store) SetPosition(p model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Symbol] = p
	s.lastUpdate.Account = s.clock.Now()
}

// ClearPosition removes a symbol's position (fully closed).
func (s *Store) ClearPosition(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
	s.lastUpdate.Account = s.clock.Now()
}

// Position returns a copy of one symbol's position, or false if flat.
func (s *Store) Position(symbol string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return p, ok
}

// Positions returns a snapshot slice of all open positions.
func (s *Store) Positions() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// UpsertOrder inserts or overwrites a managed order by id.
func (s *Store) UpsertOrder(o model.ManagedOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	s.lastUpdate.Account = s.clock.Now()
}

// RemoveOrder deletes a managed order once it reaches a terminal state and
// is no longer needed for open-orders bookkeeping.
func (s *Store) RemoveOrder(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
}

// OpenOrders returns a snapshot of all non-terminal managed orders.
func (s *Store) OpenOrders() []model.ManagedOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ManagedOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if !o.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// SetEntryContext records the facts at the moment a hedge is opened for a
// symbol, so a later exit-signal evaluation can detect trend/regime reversal
// since entry without the venue itself needing to track it.
func (s *Store) SetEntryContext(symbol string, ctx model.EntryContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryContexts[symbol] = ctx
}

// EntryContext returns a symbol's recorded entry context, or false if the
// hedge was opened before this process started or has since been cleared.
func (s *Store) EntryContext(symbol string) (model.EntryContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.entryContexts[symbol]
	return ctx, ok
}

// ClearEntryContext removes a symbol's entry context once its hedge is fully
// closed.
func (s *Store) ClearEntryContext(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entryContexts, symbol)
}

// LastUpdateSnapshot returns a copy of the per-domain last-update timestamps.
func (s *Store) LastUpdateSnapshot() LastUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// ReplaceBalancesAndPositions is used by the reconciler: it overwrites both
// maps atomically under a single lock acquisition so that a reader can never
// observe a half-overwritten snapshot.
func (s *Store) ReplaceBalancesAndPositions(balances []model.Balance, positions []model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nextB := make(map[string]model.Balance, len(balances))
	for _, b := range balances {
		nextB[b.Asset] = b
	}
	nextP := make(map[string]model.Position, len(positions))
	for _, p := range positions {
		nextP[p.Symbol] = p
	}
	s.balances = nextB
	s.positions = nextP
	s.lastUpdate.Account = s.clock.Now()
}
