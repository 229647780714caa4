package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	messages  chan models.InboundMessage
	handlerID uint32
	stopOnce  sync.Once
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// Start registers the event handler on the underlying client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Disconnected:
			slog.Warn("WhatsAppService disconnected")
		case *events.Connected:
			slog.Info("WhatsAppService connected")
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop unregisters the event handler and closes the messages channel.
func (s *WhatsAppService) Stop() error {
	s.stopOnce.Do(func() {
		if s.waClient != nil && s.waClient.GetClient() != nil {
			s.waClient.GetClient().RemoveEventHandler(s.handlerID)
			s.waClient.Disconnect()
		}
		close(s.messages)
		slog.Info("WhatsAppService stopped and channel closed")
	})
	return nil
}

// Messages returns the inbound message channel.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.messages
}

// SendText sends a text message.
func (s *WhatsAppService) SendText(ctx context.Context, chat models.ChatRef, text string) error {
	if err := s.client.SendText(ctx, string(chat), text); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "chat", chat)
		return err
	}
	slog.Debug("WhatsAppService message sent", "chat", chat, "length", len(text))
	return nil
}

// SendVideoNote uploads the file and sends it as a PTV message, or a regular video in alternate mode.
func (s *WhatsAppService) SendVideoNote(ctx context.Context, chat models.ChatRef, path string, alternate bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read video %s: %w", path, err)
	}
	return s.client.SendVideo(ctx, string(chat), data, !alternate)
}

// MarkRead sends a read receipt for msg.
func (s *WhatsAppService) MarkRead(ctx context.Context, msg models.InboundMessage) error {
	return s.client.MarkRead(ctx, string(msg.Chat), msg.Sender, msg.ID, msg.SentAt)
}

// handleIncomingMessage converts private text messages into inbound messages
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	msg := models.InboundMessage{
		ID:        string(evt.Info.ID),
		UserID:    models.UserID(evt.Info.Sender.User),
		Chat:      models.ChatRef(evt.Info.Chat.String()),
		Sender:    evt.Info.Sender.ToNonAD().String(),
		Username:  evt.Info.PushName,
		FirstName: evt.Info.PushName,
		Text:      text,
		SentAt:    evt.Info.Timestamp,
	}
	if forward(s.messages, msg, "WhatsAppService") {
		slog.Debug("WhatsAppService inbound message forwarded", "user_id", msg.UserID)
	}
}
