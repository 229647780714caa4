package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/telegram"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestTelegramService_ImplementsService(t *testing.T) {
	var _ Service = (*TelegramService)(nil)
	var _ Service = (*MockService)(nil)
}

func TestTelegramService_Send(t *testing.T) {
	mock := telegram.NewMockClient()
	mock.FailNote = true
	svc := NewTelegramService(mock)
	ctx := context.Background()

	if err := svc.SendText(ctx, "1001", "hi"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if err := svc.SendVideoNote(ctx, "1001", "/tmp/a.mp4", false); err == nil {
		t.Error("expected video note failure from mock")
	}
	if err := svc.SendVideoNote(ctx, "1001", "/tmp/a.mp4", true); err != nil {
		t.Errorf("alternate mode failed: %v", err)
	}
	if err := svc.SendText(ctx, "not-a-number", "hi"); err == nil {
		t.Error("expected error for invalid chat id")
	}

	calls := mock.Snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[0].ChatID != 1001 || !calls[1].Note || calls[2].Note {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestTelegramService_HandleUpdate(t *testing.T) {
	svc := NewTelegramService(telegram.NewMockClient())
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	svc.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, UserName: "ivan", FirstName: "Иван", LastName: "Петров"},
		Chat:      &tgbotapi.Chat{ID: 4200},
		Text:      "Хочу консультацию",
		Date:      int(at.Unix()),
	}})
	svc.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 4200},
	}})
	svc.handleUpdate(context.Background(), tgbotapi.Update{})

	select {
	case msg := <-svc.Messages():
		if msg.UserID != "42" || msg.Chat != "4200" || msg.ID != "7" {
			t.Errorf("unexpected ids %+v", msg)
		}
		if msg.Username != "ivan" || msg.LastName != "Петров" || !msg.SentAt.Equal(at) {
			t.Errorf("unexpected identity %+v", msg)
		}
	default:
		t.Fatal("expected forwarded message")
	}
	select {
	case msg := <-svc.Messages():
		t.Errorf("empty update should be ignored, got %+v", msg)
	default:
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
