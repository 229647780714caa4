package reminder

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ManualTimer is a Timer driven by an explicit clock. Callbacks fire only from Advance.
type ManualTimer struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int64
	pending map[string]*manualEntry
}

type manualEntry struct {
	scheduledAt time.Time
	due         time.Time
	seq         int64
	fn          func()
}

// NewManualTimer creates a ManualTimer whose clock starts at start.
func NewManualTimer(start time.Time) *ManualTimer {
	return &ManualTimer{now: start, pending: make(map[string]*manualEntry)}
}

// Now returns the current manual time.
func (m *ManualTimer) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// ScheduleAfter registers fn to fire once the clock passes now+delay.
func (m *ManualTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", ErrNilCallback
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("manual_%d", m.nextID)
	m.pending[id] = &manualEntry{scheduledAt: m.now, due: m.now.Add(delay), seq: m.nextID, fn: fn}
	return id, nil
}

// Cancel removes a pending callback. Unknown IDs are ignored.
func (m *ManualTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

// Stop removes every pending callback.
func (m *ManualTimer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]*manualEntry)
}

// ListActive returns the pending callbacks ordered by due time.
func (m *ManualTimer) ListActive() []TimerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TimerInfo, 0, len(m.pending))
	for id, e := range m.pending {
		out = append(out, TimerInfo{ID: id, ScheduledAt: e.scheduledAt, ExpiresAt: e.due, Remaining: e.due.Sub(m.now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Advance moves the clock forward by d and fires every callback that falls due, in due order.
// Callbacks scheduled while advancing fire too if they fall inside the window.
func (m *ManualTimer) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		m.mu.Lock()
		id, entry := m.earliestLocked(target)
		if entry == nil {
			m.now = target
			m.mu.Unlock()
			return fired
		}
		delete(m.pending, id)
		m.now = entry.due
		m.mu.Unlock()

		entry.fn()
		fired++
	}
}

func (m *ManualTimer) earliestLocked(limit time.Time) (string, *manualEntry) {
	var (
		bestID string
		best   *manualEntry
	)
	for id, e := range m.pending {
		if e.due.After(limit) {
			continue
		}
		if best == nil || e.due.Before(best.due) || (e.due.Equal(best.due) && e.seq < best.seq) {
			bestID, best = id, e
		}
	}
	return bestID, best
}
