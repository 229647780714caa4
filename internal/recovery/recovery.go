// Package recovery runs the startup steps that rebuild in-memory state after a restart:
// loading the persisted snapshot and re-arming reminders from their declarative records.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context) error
}

// RecoverFunc adapts a plain function to Recoverable.
type RecoverFunc func(ctx context.Context) error

// RecoverState calls f.
func (f RecoverFunc) RecoverState(ctx context.Context) error { return f(ctx) }

type namedRecoverable struct {
	name string
	r    Recoverable
}

// RecoveryManager runs registered components in registration order.
type RecoveryManager struct {
	recoverables []namedRecoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// RegisterRecoverable adds a component that can be recovered. Components run in the order
// they are registered, so the snapshot loader must be registered before its consumers.
func (rm *RecoveryManager) RegisterRecoverable(name string, r Recoverable) {
	rm.recoverables = append(rm.recoverables, namedRecoverable{name: name, r: r})
}

// Len returns the number of registered components.
func (rm *RecoveryManager) Len() int { return len(rm.recoverables) }

// RecoverAll performs recovery of all registered components. A failing component is logged
// and skipped; the remaining components still run.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0

	for _, nr := range rm.recoverables {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recovery interrupted before %s: %w", nr.name, err)
		}
		if err := nr.r.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "component", nr.name, "error", err)
			errorCount++
			continue
		}
		slog.Debug("Component recovered", "component", nr.name)
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}

	return nil
}
