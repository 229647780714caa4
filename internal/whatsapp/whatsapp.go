// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in LeadPipe.
//
// It provides text and video sending, read receipts and access to the underlying client for
// event handling.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultSQLitePath holds the paired device when no WHATSAPP_DB_DSN is given.
	DefaultSQLitePath = "/var/lib/leadpipe/whatsmeow.db"
	// JIDSuffix is appended to bare phone numbers.
	JIDSuffix = "s.whatsapp.net"
)

// Sender is the subset of the client used by the messaging service (production and tests).
type Sender interface {
	SendText(ctx context.Context, chat string, body string) error
	// SendVideo uploads data and sends it as a round video note when ptv is set,
	// or as a regular video otherwise.
	SendVideo(ctx context.Context, chat string, data []byte, ptv bool) error
	MarkRead(ctx context.Context, chat, sender, messageID string, at time.Time) error
}

// Opts configures device storage and pairing.
type Opts struct {
	DBDSN       string // device store, sqlite path or postgres URL
	QRPath      string // pairing output file, stdout when empty
	NumericCode bool   // print the raw pairing code instead of rendering a QR
}

// Option mutates Opts.
type Option func(*Opts)

// WithDBDSN selects the device store.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes pairing output to path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the pairing code as text.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client is a connected, paired whatsmeow session.
type Client struct {
	waClient *whatsmeow.Client
}

// DriverForDSN returns the database/sql driver name whatsmeow should use for dsn.
func DriverForDSN(dsn string) string {
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		return "postgres"
	}
	return "sqlite3"
}

// HasForeignKeys reports whether a SQLite DSN enables foreign keys.
func HasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store and connects. An unpaired device blocks until pairing
// completes.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
	}
	slog.Debug("whatsapp client options", "dsn_default", cfg.DBDSN == "", "qr_path", cfg.QRPath, "numeric_code", cfg.NumericCode)

	dbDriver := DriverForDSN(dbDSN)
	if dbDriver == "sqlite3" && !HasForeignKeys(dbDSN) {
		slog.Warn("WhatsApp device store DSN lacks foreign keys", "hint", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp device store (%s): %w", dbDriver, err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	paired := waClient.Store.ID != nil
	if !paired {
		err = pair(ctx, waClient, cfg)
	} else {
		err = waClient.Connect()
	}
	if err != nil {
		return nil, fmt.Errorf("connect whatsapp (paired=%t): %w", paired, err)
	}
	slog.Info("WhatsApp connected", "paired_before", paired, "driver", dbDriver)
	return &Client{waClient: waClient}, nil
}

// pair connects an unpaired device and renders every pairing code until the channel closes.
func pair(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("create pairing output %s: %w", cfg.QRPath, err)
		}
		defer f.Close()
		out = f
	}

	codes, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		return err
	}
	slog.Info("WhatsApp device not paired, waiting for pairing", "output", cfg.QRPath)
	for evt := range codes {
		switch {
		case evt.Event != "code":
			slog.Info("WhatsApp pairing event", "event", evt.Event)
		case cfg.NumericCode:
			fmt.Fprintln(out, evt.Code)
		default:
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		}
	}
	return nil
}

// ParseChat converts a chat reference into a JID. Bare phone numbers get the user suffix.
func ParseChat(chat string) (types.JID, error) {
	if chat == "" {
		return types.JID{}, fmt.Errorf("recipient cannot be empty")
	}
	if !strings.Contains(chat, "@") {
		return types.NewJID(strings.TrimPrefix(chat, "+"), JIDSuffix), nil
	}
	jid, err := types.ParseJID(chat)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid chat %q: %w", chat, err)
	}
	return jid, nil
}

func (c *Client) ready() error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client store not available")
	}
	return nil
}

// SendText sends a text message to a chat.
func (c *Client) SendText(ctx context.Context, chat string, body string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	jid, err := ParseChat(chat)
	if err != nil {
		return err
	}

	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		return fmt.Errorf("send text to %s: %w", chat, err)
	}
	slog.Debug("WhatsApp text sent", "chat", chat, "length", len(body))
	return nil
}

// SendVideo uploads an MP4 and sends it either as a video note (PTV) or a regular video.
func (c *Client) SendVideo(ctx context.Context, chat string, data []byte, ptv bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	jid, err := ParseChat(chat)
	if err != nil {
		return err
	}

	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaVideo)
	if err != nil {
		return fmt.Errorf("failed to upload video: %w", err)
	}
	video := &waE2E.VideoMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		Mimetype:      proto.String(http.DetectContentType(data)),
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uint64(len(data))),
	}
	msg := &waE2E.Message{VideoMessage: video}
	if ptv {
		msg = &waE2E.Message{PtvMessage: video}
	}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send video to %s: %w", chat, err)
	}
	slog.Debug("WhatsApp video sent", "chat", chat, "ptv", ptv, "size", len(data))
	return nil
}

// MarkRead sends a read receipt for one message.
func (c *Client) MarkRead(ctx context.Context, chat, sender, messageID string, at time.Time) error {
	if err := c.ready(); err != nil {
		return err
	}
	chatJID, err := ParseChat(chat)
	if err != nil {
		return err
	}
	senderJID := types.EmptyJID
	if sender != "" {
		if senderJID, err = ParseChat(sender); err != nil {
			return err
		}
	}
	return c.waClient.MarkRead([]types.MessageID{types.MessageID(messageID)}, at, chatJID, senderJID)
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MockCall records one call made on a MockClient.
type MockCall struct {
	Method string
	Chat   string
	Sender string
	Body   string
	PTV    bool
	Size   int
}

// MockClient implements Sender without a WhatsApp connection and records every call.
type MockClient struct {
	mu    sync.Mutex
	Calls []MockCall
	// FailPTV makes video-note sends fail so callers exercise their fallback.
	FailPTV bool
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(c MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}

// SendText records a text send.
func (m *MockClient) SendText(ctx context.Context, chat string, body string) error {
	m.record(MockCall{Method: "SendText", Chat: chat, Body: body})
	return nil
}

// SendVideo records a video send.
func (m *MockClient) SendVideo(ctx context.Context, chat string, data []byte, ptv bool) error {
	m.record(MockCall{Method: "SendVideo", Chat: chat, PTV: ptv, Size: len(data)})
	if ptv && m.FailPTV {
		return fmt.Errorf("ptv not supported")
	}
	return nil
}

// MarkRead records a read receipt.
func (m *MockClient) MarkRead(ctx context.Context, chat, sender, messageID string, at time.Time) error {
	m.record(MockCall{Method: "MarkRead", Chat: chat, Sender: sender, Body: messageID})
	return nil
}

// Snapshot returns a copy of the recorded calls.
func (m *MockClient) Snapshot() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.Calls...)
}
