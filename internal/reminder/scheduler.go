// Package reminder schedules the follow-up messages sent to users who go quiet during the
// questionnaire or while the bot is waiting for their phone number.
//
// A Scheduler is owned by the agent event loop. Timer callbacks never touch state directly:
// they hand a closure to the dispatcher, which runs it on the loop, and the closure
// re-validates the user's state before sending anything.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/state"
)

// Sender delivers reminder texts.
type Sender interface {
	SendText(ctx context.Context, chat models.ChatRef, text string) error
}

// Dispatcher runs fn on the goroutine that owns the state repository.
type Dispatcher func(fn func())

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDispatcher sets the function that marshals timer callbacks onto the event loop.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Scheduler) { s.dispatch = d }
}

// Scheduler arms, cancels and restores reminders for individual users.
type Scheduler struct {
	repo     *state.Repository
	timer    Timer
	sender   Sender
	messages config.Messages
	now      func() time.Time
	dispatch Dispatcher

	// handles maps a reminder key to its live timer ID.
	handles map[string]string
}

// NewScheduler creates a Scheduler. Without WithDispatcher callbacks run on the timer goroutine.
func NewScheduler(repo *state.Repository, timer Timer, sender Sender, messages config.Messages, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:     repo,
		timer:    timer,
		sender:   sender,
		messages: messages,
		now:      time.Now,
		dispatch: func(fn func()) { fn() },
		handles:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func contactKey(id models.UserID) string { return string(id) }

func surveyKey(id models.UserID) string { return "survey_" + string(id) }

// ArmSurvey schedules the one-time questionnaire reminder. Re-arming replaces a pending
// survey reminder; nothing is armed once the reminder has been sent in this conversation.
func (s *Scheduler) ArmSurvey(ctx context.Context, id models.UserID, chat models.ChatRef) {
	if s.repo.SurveyReminderSent(id) {
		slog.Debug("ReminderScheduler ArmSurvey: already sent", "user_id", id)
		return
	}
	key := surveyKey(id)
	s.cancelHandle(key)

	armedAt := s.now()
	var timerID string
	timerID, err := s.timer.ScheduleAfter(SurveyDelay, func() {
		s.dispatch(func() { s.fireSurvey(context.Background(), id, chat, key, timerID, armedAt) })
	})
	if err != nil {
		slog.Error("ReminderScheduler ArmSurvey failed", "user_id", id, "error", err)
		return
	}
	s.handles[key] = timerID
	slog.Info("ReminderScheduler survey reminder armed", "user_id", id, "delay", SurveyDelay)
}

// ArmContact schedules a contact reminder tier, replacing any outstanding contact reminder,
// and persists its declarative record.
func (s *Scheduler) ArmContact(ctx context.Context, id models.UserID, chat models.ChatRef, tier models.ReminderTier) {
	delay, err := TierDelay(tier)
	if err != nil {
		slog.Error("ReminderScheduler ArmContact failed", "user_id", id, "error", err)
		return
	}
	now := s.now()
	rem := models.ScheduledReminder{
		UserID:       id,
		Chat:         chat,
		DelayMinutes: int(delay / time.Minute),
		Tier:         tier,
		ScheduledAt:  now.Add(delay),
		CreatedAt:    now,
	}
	if s.schedule(rem, delay) {
		s.repo.PutReminder(rem)
		_ = s.repo.Persist(ctx)
	}
}

func (s *Scheduler) schedule(rem models.ScheduledReminder, delay time.Duration) bool {
	key := contactKey(rem.UserID)
	s.cancelHandle(key)

	var timerID string
	timerID, err := s.timer.ScheduleAfter(delay, func() {
		s.dispatch(func() { s.fireContact(context.Background(), rem, timerID) })
	})
	if err != nil {
		slog.Error("ReminderScheduler schedule failed", "user_id", rem.UserID, "tier", rem.Tier, "error", err)
		return false
	}
	s.handles[key] = timerID
	slog.Info("ReminderScheduler contact reminder armed", "user_id", rem.UserID, "tier", rem.Tier, "delay", delay)
	return true
}

// CancelAll cancels every reminder of a user, including the survey reminder, and drops the
// persisted record. Canceling a fired or missing reminder is a no-op.
func (s *Scheduler) CancelAll(ctx context.Context, id models.UserID) {
	s.cancelHandle(contactKey(id))
	s.cancelHandle(surveyKey(id))
	if s.repo.DeleteReminder(id) {
		_ = s.repo.Persist(ctx)
		slog.Debug("ReminderScheduler scheduled reminder cleared", "user_id", id)
	}
}

// StopAll cancels every live timer without touching persisted records.
func (s *Scheduler) StopAll() {
	s.timer.Stop()
	s.handles = make(map[string]string)
	slog.Info("ReminderScheduler stopped all reminders")
}

// Pending returns the number of live reminder timers.
func (s *Scheduler) Pending() int {
	return len(s.handles)
}

// RecoverState re-arms persisted contact reminders after a restart. Reminders whose time has
// passed or whose user no longer waits for a phone number are discarded without sending.
func (s *Scheduler) RecoverState(ctx context.Context) error {
	now := s.now()
	restored, discarded := 0, 0
	for _, rem := range s.repo.Reminders() {
		st, ok := s.repo.State(rem.UserID)
		remaining := rem.ScheduledAt.Sub(now)
		switch {
		case !ok || st.Phase() != models.PhaseAwaitingContact:
			slog.Debug("ReminderScheduler discarding reminder: user not awaiting contact", "user_id", rem.UserID)
		case !rem.Tier.Valid():
			slog.Warn("ReminderScheduler discarding reminder with unknown tier", "user_id", rem.UserID, "tier", rem.Tier)
		case remaining <= 0:
			slog.Info("ReminderScheduler discarding missed reminder", "user_id", rem.UserID, "tier", rem.Tier, "scheduled_at", rem.ScheduledAt)
		default:
			if s.schedule(rem, remaining) {
				restored++
				continue
			}
		}
		s.repo.DeleteReminder(rem.UserID)
		discarded++
	}
	if discarded > 0 {
		if err := s.repo.Persist(ctx); err != nil {
			return err
		}
	}
	slog.Info("ReminderScheduler recovery complete", "restored", restored, "discarded", discarded)
	return nil
}

// release drops the handle for key if it still points at timerID. A mismatch means the
// reminder was canceled or replaced after the timer fired.
func (s *Scheduler) release(key, timerID string) bool {
	if current, ok := s.handles[key]; !ok || current != timerID {
		return false
	}
	delete(s.handles, key)
	return true
}

func (s *Scheduler) cancelHandle(key string) {
	timerID, ok := s.handles[key]
	if !ok {
		return
	}
	delete(s.handles, key)
	_ = s.timer.Cancel(timerID)
}

func (s *Scheduler) fireSurvey(ctx context.Context, id models.UserID, chat models.ChatRef, key, timerID string, armedAt time.Time) {
	if !s.release(key, timerID) {
		slog.Debug("ReminderScheduler survey fire ignored: canceled", "user_id", id)
		return
	}
	st, ok := s.repo.State(id)
	if !ok || st.Phase() != models.PhaseAnswering {
		slog.Debug("ReminderScheduler survey reminder dropped: user left questionnaire", "user_id", id)
		return
	}
	if last, ok := s.repo.LastMessageTime(id); ok && last.After(armedAt) {
		slog.Debug("ReminderScheduler survey reminder dropped: user replied", "user_id", id)
		return
	}
	if s.repo.SurveyReminderSent(id) {
		return
	}
	if err := s.sender.SendText(ctx, chat, s.messages.SurveyReminder); err != nil {
		slog.Error("ReminderScheduler survey reminder send failed", "user_id", id, "error", err)
		return
	}
	s.repo.MarkSurveyReminderSent(id)
	_ = s.repo.Persist(ctx)
	slog.Info("ReminderScheduler survey reminder sent", "user_id", id)
}

func (s *Scheduler) fireContact(ctx context.Context, rem models.ScheduledReminder, timerID string) {
	id := rem.UserID
	if !s.release(contactKey(id), timerID) {
		slog.Debug("ReminderScheduler contact fire ignored: canceled", "user_id", id, "tier", rem.Tier)
		return
	}

	st, ok := s.repo.State(id)
	if !ok || st.Phase() != models.PhaseAwaitingContact {
		slog.Debug("ReminderScheduler contact reminder dropped: user not awaiting contact", "user_id", id)
		s.dropRecord(ctx, id)
		return
	}
	if last, ok := s.repo.LastMessageTime(id); ok && last.After(rem.CreatedAt) {
		slog.Debug("ReminderScheduler contact reminder dropped: user replied", "user_id", id, "tier", rem.Tier)
		s.dropRecord(ctx, id)
		return
	}

	if err := s.sender.SendText(ctx, rem.Chat, s.textFor(rem.Tier)); err != nil {
		slog.Error("ReminderScheduler contact reminder send failed", "user_id", id, "tier", rem.Tier, "error", err)
	} else {
		slog.Info("ReminderScheduler contact reminder sent", "user_id", id, "tier", rem.Tier)
	}
	s.repo.DeleteReminder(id)

	if next, ok := NextTier(rem.Tier); ok {
		s.ArmContact(ctx, id, rem.Chat, next)
		return
	}
	s.repo.ClearUser(id)
	_ = s.repo.Persist(ctx)
	slog.Info("ReminderScheduler reminder chain finished, conversation cleared", "user_id", id)
}

func (s *Scheduler) dropRecord(ctx context.Context, id models.UserID) {
	if s.repo.DeleteReminder(id) {
		_ = s.repo.Persist(ctx)
	}
}

func (s *Scheduler) textFor(t models.ReminderTier) string {
	if t == models.TierFinal {
		return s.messages.FinalReminder
	}
	return s.messages.FirstReminder
}
