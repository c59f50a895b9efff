// Package health tracks per-stream last-message timestamps and exposes a
// single isHealthy() boolean per spec.md §4.M. No teacher analogue (the
// teacher has no freshness/liveness gate of its own); grounded on the same
// staleness-comparison idiom internal/freshness uses for the REST side.
package health

import (
	"sync"
	"time"

	"fundingarb/internal/model"
)

// Monitor tracks the last-seen time of each named stream and its staleness
// threshold.
type Monitor struct {
	mu         sync.Mutex
	lastSeen   map[string]time.Time
	thresholds map[string]time.Duration
	clock      model.Clock
}

// New constructs an empty Monitor. clock defaults to the system clock if nil.
func New(clock model.Clock) *Monitor {
	if clock == nil {
		clock = model.SystemClock{}
	}
	return &Monitor{
		lastSeen:   map[string]time.Time{},
		thresholds: map[string]time.Duration{},
		clock:      clock,
	}
}

// Register declares a stream and its staleness threshold. Call once per
// stream at startup; a stream with no recorded message is unhealthy until
// its first Touch.
func (m *Monitor) Register(stream string, threshold time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[stream] = threshold
}

// Touch records that a qualifying message was just received on stream.
func (m *Monitor) Touch(stream string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[stream] = m.clock.Now()
}

// IsHealthy reports whether stream's time-since-last-message is under its
// registered staleness threshold. An unregistered stream is always unhealthy.
func (m *Monitor) IsHealthy(stream string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold, ok := m.thresholds[stream]
	if !ok {
		return false
	}
	last, ok := m.lastSeen[stream]
	if !ok {
		return false
	}
	return m.clock.Now().Sub(last) < threshold
}

// Age returns time since stream's last message, or a zero duration and
// false if the stream has never reported.
func (m *Monitor) Age(stream string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSeen[stream]
	if !ok {
		return 0, false
	}
	return m.clock.Now().Sub(last), true
}
