package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/telegram"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramService implements Service over the Telegram Bot API.
type TelegramService struct {
	client   telegram.Sender
	tgClient *telegram.Client // long-polling source; nil for mocks
	messages chan models.InboundMessage
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTelegramService creates a TelegramService wrapping the given sender.
func NewTelegramService(client telegram.Sender) *TelegramService {
	s := &TelegramService{
		client:   client,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
	if tg, ok := client.(*telegram.Client); ok {
		s.tgClient = tg
		slog.Debug("TelegramService created with full client for update polling")
	} else {
		slog.Debug("TelegramService created with interface client (likely mock)")
	}
	return s
}

// Start begins long-polling updates.
func (s *TelegramService) Start(ctx context.Context) error {
	if s.tgClient == nil {
		slog.Debug("TelegramService no full client available, skipping update polling")
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.tgClient.Listen(ctx, s.handleUpdate); err != nil {
			slog.Error("TelegramService polling stopped", "error", err)
		}
	}()
	slog.Info("TelegramService polling started")
	return nil
}

// Stop stops polling and closes the messages channel.
func (s *TelegramService) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.messages)
		slog.Info("TelegramService stopped")
	})
	return nil
}

// Messages returns the inbound message channel.
func (s *TelegramService) Messages() <-chan models.InboundMessage {
	return s.messages
}

// SendText sends a text message.
func (s *TelegramService) SendText(ctx context.Context, chat models.ChatRef, text string) error {
	chatID, err := parseChatID(chat)
	if err != nil {
		return err
	}
	if err := s.client.SendText(ctx, chatID, text); err != nil {
		slog.Error("TelegramService SendText error", "chat", chat, "error", err)
		return err
	}
	slog.Debug("TelegramService message sent", "chat", chat, "length", len(text))
	return nil
}

// SendVideoNote sends a video note, or a regular video in alternate mode.
func (s *TelegramService) SendVideoNote(ctx context.Context, chat models.ChatRef, path string, alternate bool) error {
	chatID, err := parseChatID(chat)
	if err != nil {
		return err
	}
	return s.client.SendVideo(ctx, chatID, path, !alternate)
}

// MarkRead is a no-op: bots cannot mark messages as read.
func (s *TelegramService) MarkRead(ctx context.Context, msg models.InboundMessage) error {
	return nil
}

func (s *TelegramService) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		slog.Debug("TelegramService ignoring non-text message", "user_id", m.From.ID)
		return
	}
	msg := models.InboundMessage{
		ID:        strconv.Itoa(m.MessageID),
		UserID:    models.UserID(strconv.FormatInt(m.From.ID, 10)),
		Chat:      models.ChatRef(strconv.FormatInt(m.Chat.ID, 10)),
		Username:  m.From.UserName,
		FirstName: m.From.FirstName,
		LastName:  m.From.LastName,
		Text:      text,
		SentAt:    m.Time(),
	}
	if forward(s.messages, msg, "TelegramService") {
		slog.Debug("TelegramService inbound message forwarded", "user_id", msg.UserID)
	}
}

func parseChatID(chat models.ChatRef) (int64, error) {
	id, err := strconv.ParseInt(string(chat), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat %q: %w", chat, err)
	}
	return id, nil
}
