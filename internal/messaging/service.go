// Package messaging defines the chat transport abstraction used by the agent and its
// Telegram and WhatsApp implementations.
package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Constants shared by the transport implementations
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound message channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// Service defines a pluggable chat transport.
type Service interface {
	// SendText sends a text message to a chat.
	SendText(ctx context.Context, chat models.ChatRef, text string) error

	// SendVideoNote sends a local video file. The default mode is a round video note;
	// alternate sends the same file as a regular video.
	SendVideoNote(ctx context.Context, chat models.ChatRef, path string, alternate bool) error

	// MarkRead marks an inbound message as read where the transport supports it.
	MarkRead(ctx context.Context, msg models.InboundMessage) error

	// Start begins receiving inbound messages.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the Messages channel.
	Stop() error

	// Messages returns the channel of inbound text messages.
	Messages() <-chan models.InboundMessage
}

// forward delivers msg to ch, dropping it if the channel stays full for DefaultChannelTimeout.
func forward(ch chan<- models.InboundMessage, msg models.InboundMessage, service string) bool {
	select {
	case ch <- msg:
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(service+" messages channel blocked, dropping message", "user_id", msg.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}
