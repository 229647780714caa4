package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/state"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	chat models.ChatRef
	text string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingSender) SendText(_ context.Context, chat models.ChatRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{chat: chat, text: text})
	return nil
}

func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.text)
	}
	return out
}

var testMessages = config.Messages{
	SurveyReminder: "survey",
	FirstReminder:  "first",
	FinalReminder:  "final",
}

type fixture struct {
	repo   *state.Repository
	timer  *ManualTimer
	sender *recordingSender
	sched  *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	timer := NewManualTimer(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repo := state.NewRepository(store.NewInMemoryStore())
	repo.SetClock(timer.Now)
	sender := &recordingSender{}
	return &fixture{
		repo:   repo,
		timer:  timer,
		sender: sender,
		sched:  NewScheduler(repo, timer, sender, testMessages, WithClock(timer.Now)),
	}
}

func (f *fixture) awaitingContact(id models.UserID) {
	f.repo.PutState(id, models.ConversationState{CurrentQuestion: 5, WaitingForContact: true})
	f.repo.TouchLastMessage(id, f.timer.Now())
}

func TestTierTable(t *testing.T) {
	next, ok := NextTier(models.TierFirst)
	require.True(t, ok)
	assert.Equal(t, models.TierFinal, next)
	assert.True(t, Terminal(models.TierFinal))
	assert.False(t, Terminal(models.TierFirst))

	d, err := TierDelay(models.TierFirst)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)
	d, err = TierDelay(models.TierFinal)
	require.NoError(t, err)
	assert.Equal(t, 1434*time.Minute, d)

	_, err = TierDelay("second")
	assert.Error(t, err)
}

func TestContactChainClearsConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.awaitingContact("u1")
	f.repo.PutAnswer("u1", 1, "a")

	f.sched.ArmContact(ctx, "u1", "c1", models.TierFirst)
	rem, ok := f.repo.Reminder("u1")
	require.True(t, ok)
	assert.Equal(t, models.TierFirst, rem.Tier)
	assert.Equal(t, 5, rem.DelayMinutes)

	assert.Equal(t, 0, f.timer.Advance(4*time.Minute))
	assert.Equal(t, 1, f.timer.Advance(time.Minute))
	assert.Equal(t, []string{"first"}, f.sender.texts())

	rem, ok = f.repo.Reminder("u1")
	require.True(t, ok, "final tier armed immediately after first")
	assert.Equal(t, models.TierFinal, rem.Tier)
	assert.Equal(t, f.timer.Now().Add(1434*time.Minute), rem.ScheduledAt)

	assert.Equal(t, 1, f.timer.Advance(1434*time.Minute))
	assert.Equal(t, []string{"first", "final"}, f.sender.texts())

	_, ok = f.repo.State("u1")
	assert.False(t, ok)
	assert.Nil(t, f.repo.Answers("u1"))
	_, ok = f.repo.LastMessageTime("u1")
	assert.False(t, ok)
	_, ok = f.repo.Reminder("u1")
	assert.False(t, ok)
	assert.Zero(t, f.sched.Pending())
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.awaitingContact("u1")

	f.sched.ArmContact(ctx, "u1", "c1", models.TierFirst)
	f.sched.CancelAll(ctx, "u1")
	f.sched.CancelAll(ctx, "u1")
	f.sched.CancelAll(ctx, "never-armed")

	f.timer.Advance(48 * time.Hour)
	assert.Empty(t, f.sender.texts())
	_, ok := f.repo.Reminder("u1")
	assert.False(t, ok)
}

func TestCancelAfterFireDoesNotResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.awaitingContact("u1")

	f.sched.ArmContact(ctx, "u1", "c1", models.TierFirst)
	f.timer.Advance(5 * time.Minute)
	f.sched.CancelAll(ctx, "u1")
	f.sched.CancelAll(ctx, "u1")

	f.timer.Advance(48 * time.Hour)
	assert.Equal(t, []string{"first"}, f.sender.texts())
}

func TestFireRevalidatesState(t *testing.T) {
	t.Run("user replied after arm", func(t *testing.T) {
		f := newFixture(t)
		f.awaitingContact("u1")
		f.sched.ArmContact(context.Background(), "u1", "c1", models.TierFirst)

		f.repo.TouchLastMessage("u1", f.timer.Now().Add(time.Minute))
		f.timer.Advance(5 * time.Minute)

		assert.Empty(t, f.sender.texts())
		_, ok := f.repo.Reminder("u1")
		assert.False(t, ok)
	})

	t.Run("user left awaiting contact", func(t *testing.T) {
		f := newFixture(t)
		f.awaitingContact("u1")
		f.sched.ArmContact(context.Background(), "u1", "c1", models.TierFirst)

		f.repo.DeleteState("u1")
		f.timer.Advance(5 * time.Minute)

		assert.Empty(t, f.sender.texts())
		assert.Zero(t, f.sched.Pending())
	})
}

func TestSurveyReminderLatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.PutState("u1", models.ConversationState{CurrentQuestion: 1})
	f.repo.TouchLastMessage("u1", f.timer.Now())

	f.sched.ArmSurvey(ctx, "u1", "c1")
	f.timer.Advance(10 * time.Minute)
	f.sched.ArmSurvey(ctx, "u1", "c1")
	assert.Equal(t, 1, f.sched.Pending(), "re-arm replaces the pending survey reminder")

	f.timer.Advance(20 * time.Minute)
	assert.Equal(t, []string{"survey"}, f.sender.texts())
	assert.True(t, f.repo.SurveyReminderSent("u1"))

	f.sched.ArmSurvey(ctx, "u1", "c1")
	assert.Zero(t, f.sched.Pending())
	f.timer.Advance(time.Hour)
	assert.Len(t, f.sender.texts(), 1)
}

func TestSurveyReminderSkippedOutsideQuestionnaire(t *testing.T) {
	f := newFixture(t)
	f.repo.PutState("u1", models.ConversationState{CurrentQuestion: 2})
	f.sched.ArmSurvey(context.Background(), "u1", "c1")

	f.repo.PutState("u1", models.ConversationState{CurrentQuestion: 5, WaitingForContact: true})
	f.timer.Advance(SurveyDelay)

	assert.Empty(t, f.sender.texts())
	assert.False(t, f.repo.SurveyReminderSent("u1"))
}

func TestCancelAllCoversSurveyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.PutState("u1", models.ConversationState{CurrentQuestion: 1})
	f.sched.ArmSurvey(ctx, "u1", "c1")
	f.sched.CancelAll(ctx, "u1")

	f.timer.Advance(time.Hour)
	assert.Empty(t, f.sender.texts())
}

func TestRecoverState(t *testing.T) {
	f := newFixture(t)
	now := f.timer.Now()
	f.awaitingContact("live")
	f.repo.TouchLastMessage("live", now.Add(-1440*time.Minute))
	f.awaitingContact("missed")
	f.repo.PutState("answering", models.ConversationState{CurrentQuestion: 2})

	f.repo.PutReminder(models.ScheduledReminder{UserID: "live", Chat: "c-live", Tier: models.TierFinal, DelayMinutes: 1434, ScheduledAt: now.Add(2 * time.Minute), CreatedAt: now.Add(-1432 * time.Minute)})
	f.repo.PutReminder(models.ScheduledReminder{UserID: "missed", Chat: "c-missed", Tier: models.TierFirst, DelayMinutes: 5, ScheduledAt: now.Add(-time.Minute), CreatedAt: now.Add(-6 * time.Minute)})
	f.repo.PutReminder(models.ScheduledReminder{UserID: "answering", Chat: "c-a", Tier: models.TierFirst, DelayMinutes: 5, ScheduledAt: now.Add(time.Minute), CreatedAt: now})
	f.repo.PutReminder(models.ScheduledReminder{UserID: "gone", Chat: "c-g", Tier: models.TierFirst, DelayMinutes: 5, ScheduledAt: now.Add(time.Minute), CreatedAt: now})

	require.NoError(t, f.sched.RecoverState(context.Background()))

	active := f.timer.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, 2*time.Minute, active[0].Remaining)
	assert.Len(t, f.repo.Reminders(), 1)
	rem, ok := f.repo.Reminder("live")
	require.True(t, ok)
	assert.Equal(t, models.TierFinal, rem.Tier)

	f.timer.Advance(2 * time.Minute)
	assert.Equal(t, []string{"final"}, f.sender.texts(), "missed reminder never sends")
	_, ok = f.repo.State("live")
	assert.False(t, ok, "restored final tier clears the conversation")
	_, ok = f.repo.State("missed")
	assert.True(t, ok)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	f.awaitingContact("u1")
	f.sched.ArmContact(context.Background(), "u1", "c1", models.TierFirst)
	f.sched.StopAll()

	f.timer.Advance(time.Hour)
	assert.Empty(t, f.sender.texts())
	assert.Zero(t, f.sched.Pending())
}

func TestDispatcherReceivesCallbacks(t *testing.T) {
	f := newFixture(t)
	var queued []func()
	f.sched = NewScheduler(f.repo, f.timer, f.sender, testMessages,
		WithClock(f.timer.Now),
		WithDispatcher(func(fn func()) { queued = append(queued, fn) }))
	f.awaitingContact("u1")

	f.sched.ArmContact(context.Background(), "u1", "c1", models.TierFirst)
	f.timer.Advance(5 * time.Minute)
	require.Len(t, queued, 1)
	assert.Empty(t, f.sender.texts(), "nothing runs until the loop executes the callback")

	queued[0]()
	assert.Equal(t, []string{"first"}, f.sender.texts())
}

func TestSimpleTimer(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	fired := make(chan string, 2)
	_, err := timer.ScheduleAfter(10*time.Millisecond, func() { fired <- "kept" })
	require.NoError(t, err)
	id, err := timer.ScheduleAfter(10*time.Millisecond, func() { fired <- "canceled" })
	require.NoError(t, err)
	require.NoError(t, timer.Cancel(id))
	require.NoError(t, timer.Cancel(id))

	select {
	case got := <-fired:
		assert.Equal(t, "kept", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	select {
	case got := <-fired:
		t.Fatalf("unexpected callback %q", got)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, timer.ListActive())

	_, err = timer.ScheduleAfter(time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
}
