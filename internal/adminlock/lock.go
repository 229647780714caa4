// Package adminlock implements the process-wide admin panel switch.
package adminlock

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ErrNotHolder is returned when someone other than the holder tries to release the lock.
var ErrNotHolder = errors.New("only the admin who activated the panel can deactivate it")

// Lock is a single global flag with an owning user. At most one admin holds it.
type Lock struct {
	mu     sync.RWMutex
	active bool
	holder models.UserID
}

// New returns an inactive lock.
func New() *Lock {
	return &Lock{}
}

// Acquire activates the lock for id. The last acquirer wins.
func (l *Lock) Acquire(id models.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active && l.holder != id {
		slog.Warn("AdminLock taken over", "previous_holder", l.holder, "holder", id)
	}
	l.active = true
	l.holder = id
	slog.Info("AdminLock acquired", "holder", id)
}

// Release deactivates the lock if id is the holder. The caller performs the global reset
// after a successful release.
func (l *Lock) Release(id models.UserID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active || l.holder != id {
		slog.Warn("AdminLock release rejected", "user_id", id, "holder", l.holder, "active", l.active)
		return ErrNotHolder
	}
	l.active = false
	l.holder = ""
	slog.Info("AdminLock released", "user_id", id)
	return nil
}

// IsBlocked reports whether automated replies are suppressed for id.
func (l *Lock) IsBlocked(id models.UserID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active && l.holder == id
}

// Active reports whether the lock is held.
func (l *Lock) Active() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Holder returns the current holder and whether the lock is active.
func (l *Lock) Holder() (models.UserID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holder, l.active
}
