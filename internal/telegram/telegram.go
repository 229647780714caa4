// Package telegram wraps the Telegram Bot API client for LeadPipe.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultPollTimeout is the long-polling timeout in seconds.
const DefaultPollTimeout = 30

// ErrEmptyToken is returned when no bot token is configured.
var ErrEmptyToken = errors.New("telegram bot token is empty")

// Sender is the subset of the client used by the messaging service (production and tests).
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	// SendVideo sends a local file as a round video note when note is set, or as a regular video.
	SendVideo(ctx context.Context, chatID int64, path string, note bool) error
}

// UpdateHandler receives every update from the long-polling loop.
type UpdateHandler func(context.Context, tgbotapi.Update)

// Client wraps tgbotapi.BotAPI.
type Client struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
}

// Option configures a Client.
type Option func(*Client)

// WithDebug toggles verbose Bot API logging.
func WithDebug(debug bool) Option {
	return func(c *Client) { c.api.Debug = debug }
}

// WithPollTimeout sets the long-polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(c *Client) { c.pollTimeout = seconds }
}

// NewClient authenticates against the Bot API.
func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}
	c := &Client{api: api, pollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(c)
	}
	slog.Info("Telegram bot authorized", "username", api.Self.UserName)
	return c, nil
}

// Listen long-polls updates and passes each one to handler until ctx is canceled.
func (c *Client) Listen(ctx context.Context, handler UpdateHandler) error {
	if c == nil || c.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = c.pollTimeout
	updates := c.api.GetUpdatesChan(updateCfg)

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			handler(ctx, update)
		}
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// SendVideo uploads a local video file.
func (c *Client) SendVideo(ctx context.Context, chatID int64, path string, note bool) error {
	var msg tgbotapi.Chattable = tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
	if note {
		msg = tgbotapi.NewVideoNote(chatID, 0, tgbotapi.FilePath(path))
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("send video to %d: %w", chatID, err)
	}
	return nil
}

// MockCall records one call made on a MockClient.
type MockCall struct {
	Method string
	ChatID int64
	Text   string
	Note   bool
}

// MockClient implements Sender without network access and records every call.
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall
	// FailNote makes video-note sends fail so callers exercise their fallback.
	FailNote bool
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendText records a text send.
func (m *MockClient) SendText(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: "SendText", ChatID: chatID, Text: text})
	return nil
}

// SendVideo records a video send.
func (m *MockClient) SendVideo(ctx context.Context, chatID int64, path string, note bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: "SendVideo", ChatID: chatID, Text: path, Note: note})
	if note && m.FailNote {
		return fmt.Errorf("video note rejected")
	}
	return nil
}

// Snapshot returns a copy of the recorded calls.
func (m *MockClient) Snapshot() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.Calls...)
}
