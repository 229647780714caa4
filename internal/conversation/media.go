package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// MaxVideoSize is the largest video file the bot will try to send.
const MaxVideoSize = 50 * 1024 * 1024

// Media rejection reasons.
var (
	ErrVideoMissing   = errors.New("video file not found")
	ErrVideoTooLarge  = errors.New("video file exceeds 50MB")
	ErrVideoExtension = errors.New("video file must be .mp4")
)

// Media holds the optional video files sent with the greeting and the contact request.
type Media struct {
	GreetingVideo      string
	PhoneQuestionVideo string
}

// CheckVideo validates a video file before sending.
func CheckVideo(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrVideoMissing, path)
		}
		return fmt.Errorf("stat video %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrVideoMissing, path)
	}
	if info.Size() > MaxVideoSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrVideoTooLarge, path, info.Size())
	}
	if !strings.EqualFold(filepath.Ext(path), ".mp4") {
		return fmt.Errorf("%w: %s", ErrVideoExtension, path)
	}
	return nil
}

// sendVideo sends a video note, retrying once as a regular video. Failures never block the
// conversation.
func (m *Machine) sendVideo(ctx context.Context, chat models.ChatRef, path, purpose string) {
	if path == "" {
		return
	}
	if err := CheckVideo(path); err != nil {
		slog.Warn("Conversation video skipped, lost opportunity", "purpose", purpose, "chat", chat, "error", err)
		return
	}
	err := m.transport.SendVideoNote(ctx, chat, path, false)
	if err == nil {
		slog.Debug("Conversation video note sent", "purpose", purpose, "chat", chat)
		return
	}
	slog.Warn("Conversation video note failed, retrying as regular video", "purpose", purpose, "chat", chat, "error", err)
	if err := m.transport.SendVideoNote(ctx, chat, path, true); err != nil {
		slog.Warn("Conversation video failed, lost opportunity", "purpose", purpose, "chat", chat, "error", err)
	}
}
