package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ErrVideoRejected is returned by MockService when a video send is configured to fail.
var ErrVideoRejected = errors.New("video rejected")

// Sent is one outbound call recorded by MockService.
type Sent struct {
	Chat      models.ChatRef
	Text      string
	VideoPath string
	Alternate bool
}

// MockService is an in-memory Service for tests and dry runs.
type MockService struct {
	mu       sync.Mutex
	sent     []Sent
	read     []string
	messages chan models.InboundMessage
	stopOnce sync.Once

	// FailVideoNote rejects video notes in the default mode.
	FailVideoNote bool
	// FailAllVideo rejects every video send.
	FailAllVideo bool
}

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{messages: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

// SendText records a text message.
func (m *MockService) SendText(ctx context.Context, chat models.ChatRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Sent{Chat: chat, Text: text})
	return nil
}

// SendVideoNote records a video send.
func (m *MockService) SendVideoNote(ctx context.Context, chat models.ChatRef, path string, alternate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Sent{Chat: chat, VideoPath: path, Alternate: alternate})
	if m.FailAllVideo || (m.FailVideoNote && !alternate) {
		return ErrVideoRejected
	}
	return nil
}

// MarkRead records the message ID.
func (m *MockService) MarkRead(ctx context.Context, msg models.InboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, msg.ID)
	return nil
}

// Start is a no-op.
func (m *MockService) Start(ctx context.Context) error { return nil }

// Stop closes the messages channel.
func (m *MockService) Stop() error {
	m.stopOnce.Do(func() { close(m.messages) })
	return nil
}

// Messages returns the inbound channel fed by Inject.
func (m *MockService) Messages() <-chan models.InboundMessage { return m.messages }

// Inject queues an inbound message.
func (m *MockService) Inject(msg models.InboundMessage) {
	m.messages <- msg
}

// Sent returns a copy of every recorded send.
func (m *MockService) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Texts returns the recorded text messages sent to chat.
func (m *MockService) Texts(chat models.ChatRef) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.Chat == chat && s.VideoPath == "" {
			out = append(out, s.Text)
		}
	}
	return out
}

// LastText returns the most recent text sent to chat.
func (m *MockService) LastText(chat models.ChatRef) string {
	texts := m.Texts(chat)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// Read returns the IDs passed to MarkRead.
func (m *MockService) Read() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.read...)
}

// Reset forgets every recorded call.
func (m *MockService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.read = nil
}
