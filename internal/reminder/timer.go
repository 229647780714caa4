package reminder

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNilCallback is returned when a nil callback is scheduled.
var ErrNilCallback = errors.New("timer callback cannot be nil")

// Timer schedules cancelable delayed callbacks.
type Timer interface {
	// ScheduleAfter runs fn once after delay and returns an ID usable with Cancel.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel stops a scheduled callback. Unknown or already fired IDs are ignored.
	Cancel(id string) error
	// Stop cancels every scheduled callback.
	Stop()
	// ListActive describes the callbacks that have not fired yet, soonest first.
	ListActive() []TimerInfo
}

// TimerInfo describes one pending callback.
type TimerInfo struct {
	ID          string        `json:"id"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Remaining   time.Duration `json:"remaining"`
}

type pendingCall struct {
	t     *time.Timer
	armed time.Time
	due   time.Time
}

// SimpleTimer is a Timer backed by time.AfterFunc. Callbacks run on the runtime's timer
// goroutines; the reminder scheduler hands them to the agent loop through its dispatcher.
type SimpleTimer struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingCall
}

// NewSimpleTimer returns an idle SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{pending: make(map[string]*pendingCall)}
}

// ScheduleAfter arms fn. A negative delay fires immediately.
func (s *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", ErrNilCallback
	}
	delay = max(delay, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("reminder_%d", s.seq)
	armed := time.Now()
	s.pending[id] = &pendingCall{
		t:     time.AfterFunc(delay, func() { s.fire(id, fn) }),
		armed: armed,
		due:   armed.Add(delay),
	}
	slog.Debug("SimpleTimer armed", "id", id, "delay", delay)
	return id, nil
}

// fire runs fn unless the call was canceled between expiry and acquiring the lock.
func (s *SimpleTimer) fire(id string, fn func()) {
	s.mu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	slog.Debug("SimpleTimer fired", "id", id)
	fn()
}

// Cancel disarms id.
func (s *SimpleTimer) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.pending[id]
	if !ok {
		return nil
	}
	call.t.Stop()
	delete(s.pending, id)
	slog.Debug("SimpleTimer canceled", "id", id)
	return nil
}

// Stop disarms everything.
func (s *SimpleTimer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.pending {
		call.t.Stop()
	}
	slog.Info("SimpleTimer stopped", "disarmed", len(s.pending))
	s.pending = make(map[string]*pendingCall)
}

// ListActive returns the armed callbacks ordered by due time.
func (s *SimpleTimer) ListActive() []TimerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]TimerInfo, 0, len(s.pending))
	for id, call := range s.pending {
		out = append(out, TimerInfo{
			ID:          id,
			ScheduledAt: call.armed,
			ExpiresAt:   call.due,
			Remaining:   max(call.due.Sub(now), 0),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}
