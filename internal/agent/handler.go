package agent

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/conversation"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// HandleMessage runs one inbound message through the pipeline. Call it on the event loop.
func (a *Agent) HandleMessage(ctx context.Context, msg models.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Agent handler panic", "user_id", msg.UserID, "chat", msg.Chat, "panic", r, "stack", string(debug.Stack()))
			a.reply(ctx, msg.Chat, a.script.Messages.Apology)
		}
	}()

	text := strings.TrimSpace(msg.Text)
	id := msg.UserID
	if text == "" || id == "" {
		return
	}

	if a.isStale(msg) {
		slog.Info("Agent dropping stale message", "user_id", id, "sent_at", msg.SentAt, "max_age", a.staleAge)
		return
	}

	if strings.HasPrefix(text, "/") {
		if a.isAdmin(msg) {
			a.markRead(ctx, msg)
			a.handleCommand(ctx, msg, text)
			return
		}
		slog.Warn("Agent admin command from non-admin", "user_id", id, "username", msg.Username, "command", text)
		a.reply(ctx, msg.Chat, textAccessDenied)
	}

	if a.lock.IsBlocked(id) {
		slog.Debug("Agent message ignored: admin lock holder", "user_id", id)
		return
	}
	if a.repo.IsDeactivated(id) {
		slog.Debug("Agent message ignored: user deactivated", "user_id", id)
		return
	}
	if !a.gate.Evaluate(ctx, id, text) {
		return
	}

	a.repo.TouchLastMessage(id, a.now())
	a.reminders.CancelAll(ctx, id)
	_ = a.repo.Persist(ctx)
	a.markRead(ctx, msg)

	if err := a.advance(ctx, msg, text); err != nil {
		if errors.Is(err, conversation.ErrWrongPhase) {
			slog.Warn("Agent conversation out of phase", "user_id", id, "error", err)
			return
		}
		slog.Error("Agent conversation step failed", "user_id", id, "error", err)
		a.reply(ctx, msg.Chat, a.script.Messages.Apology)
	}
}

func (a *Agent) advance(ctx context.Context, msg models.InboundMessage, text string) error {
	id := msg.UserID
	if a.machine.NeedsStart(id) {
		slog.Info("Agent starting conversation", "user_id", id)
		return a.machine.Start(ctx, msg.Chat, msg.Identity())
	}
	switch a.machine.Phase(id) {
	case models.PhaseAwaitingContact:
		return a.machine.SubmitContact(ctx, msg.Chat, id, text)
	default:
		return a.machine.Answer(ctx, msg.Chat, id, text)
	}
}

func (a *Agent) isStale(msg models.InboundMessage) bool {
	if msg.SentAt.IsZero() {
		return false
	}
	return a.now().Sub(msg.SentAt) > a.staleAge
}

// isAdmin checks the username against the admin list and remembers the user ID of a
// recognized admin for messages that arrive without a username.
func (a *Agent) isAdmin(msg models.InboundMessage) bool {
	if u := config.NormalizeUsername(msg.Username); u != "" {
		if _, ok := a.admins[u]; ok {
			if _, seen := a.adminIDs[msg.UserID]; !seen {
				slog.Info("Agent admin recognized", "user_id", msg.UserID, "username", u)
			}
			a.adminIDs[msg.UserID] = u
			return true
		}
	}
	_, ok := a.adminIDs[msg.UserID]
	return ok
}

func (a *Agent) markRead(ctx context.Context, msg models.InboundMessage) {
	if err := a.transport.MarkRead(ctx, msg); err != nil {
		slog.Warn("Agent mark read failed", "user_id", msg.UserID, "message_id", msg.ID, "error", err)
	}
}

func (a *Agent) reply(ctx context.Context, chat models.ChatRef, text string) {
	if text == "" {
		return
	}
	if err := a.transport.SendText(ctx, chat, text); err != nil {
		slog.Error("Agent reply failed", "chat", chat, "error", err)
	}
}
