package recovery

import (
	"context"
	"fmt"
	"testing"
)

// Mock recoverable for testing
type mockRecoverable struct {
	recoverError  error
	recoverCalled bool
	order         *[]string
	name          string
}

func (m *mockRecoverable) RecoverState(ctx context.Context) error {
	m.recoverCalled = true
	if m.order != nil {
		*m.order = append(*m.order, m.name)
	}
	return m.recoverError
}

func TestRecoveryManager_RecoverAll_Success(t *testing.T) {
	manager := NewRecoveryManager()
	var order []string

	mock1 := &mockRecoverable{name: "state", order: &order}
	mock2 := &mockRecoverable{name: "reminders", order: &order}

	manager.RegisterRecoverable(mock1.name, mock1)
	manager.RegisterRecoverable(mock2.name, mock2)

	if manager.Len() != 2 {
		t.Fatalf("expected 2 registered components, got %d", manager.Len())
	}

	if err := manager.RecoverAll(context.Background()); err != nil {
		t.Errorf("RecoverAll failed: %v", err)
	}

	if !mock1.recoverCalled || !mock2.recoverCalled {
		t.Error("RecoverState was not called on every component")
	}

	if len(order) != 2 || order[0] != "state" || order[1] != "reminders" {
		t.Errorf("components ran out of order: %v", order)
	}
}

func TestRecoveryManager_RecoverAll_WithErrors(t *testing.T) {
	manager := NewRecoveryManager()

	mock1 := &mockRecoverable{recoverError: fmt.Errorf("snapshot corrupt")}
	mock2 := &mockRecoverable{}

	manager.RegisterRecoverable("state", mock1)
	manager.RegisterRecoverable("reminders", mock2)

	err := manager.RecoverAll(context.Background())

	if err == nil {
		t.Error("Expected error from RecoverAll when components fail")
	}

	if !mock1.recoverCalled || !mock2.recoverCalled {
		t.Error("All recoverables should be called despite errors")
	}
}

func TestRecoverFunc(t *testing.T) {
	called := false
	manager := NewRecoveryManager()
	manager.RegisterRecoverable("func", RecoverFunc(func(ctx context.Context) error {
		called = true
		return nil
	}))

	if err := manager.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if !called {
		t.Error("RecoverFunc was not invoked")
	}
}

func TestRecoveryManager_CanceledContext(t *testing.T) {
	manager := NewRecoveryManager()
	mock := &mockRecoverable{}
	manager.RegisterRecoverable("state", mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := manager.RecoverAll(ctx); err == nil {
		t.Error("expected an error for a canceled context")
	}
	if mock.recoverCalled {
		t.Error("no component should run after cancellation")
	}
}
