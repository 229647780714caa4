package telegram

import (
	"context"
	"errors"
	"testing"
)

func TestNewClientRejectsEmptyToken(t *testing.T) {
	if _, err := NewClient("   "); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestListenRequiresClient(t *testing.T) {
	var c *Client
	if err := c.Listen(context.Background(), nil); err == nil {
		t.Fatal("expected error from nil client")
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	m.FailNote = true
	ctx := context.Background()

	if err := m.SendText(ctx, 42, "hi"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if err := m.SendVideo(ctx, 42, "/tmp/a.mp4", true); err == nil {
		t.Error("expected video note failure")
	}
	if err := m.SendVideo(ctx, 42, "/tmp/a.mp4", false); err != nil {
		t.Errorf("regular video failed: %v", err)
	}

	calls := m.Snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[0].ChatID != 42 || calls[0].Text != "hi" {
		t.Errorf("unexpected first call %+v", calls[0])
	}
}
