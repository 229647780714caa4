// Package state owns all per-user conversation, activation and reminder bookkeeping.
//
// Repository is the single in-memory owner of the maps that make up a models.Snapshot.
// It is not safe for concurrent use: the agent event loop is its only caller, and every
// mutating operation ends with Persist.
package state

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// DefaultPersistTimeout bounds a single snapshot write.
const DefaultPersistTimeout = 5 * time.Second

type userSet map[models.UserID]struct{}

// Repository holds per-user state and writes it through to a store.
type Repository struct {
	store store.Store
	now   func() time.Time

	states      map[models.UserID]models.ConversationState
	answers     map[models.UserID]models.Answers
	counts      map[models.UserID]int
	activated   userSet
	expired     userSet
	deactivated userSet
	surveySent  map[models.UserID]bool
	lastMessage map[models.UserID]time.Time
	reminders   map[models.UserID]models.ScheduledReminder
}

// Stats summarizes the repository contents.
type Stats struct {
	Conversations      int `json:"conversations"`
	AwaitingContact    int `json:"awaiting_contact"`
	Activated          int `json:"activated"`
	Expired            int `json:"expired"`
	Deactivated        int `json:"deactivated"`
	ScheduledReminders int `json:"scheduled_reminders"`
	TrackedUsers       int `json:"tracked_users"`
}

// NewRepository creates an empty repository backed by st.
func NewRepository(st store.Store) *Repository {
	r := &Repository{store: st, now: time.Now}
	r.reset()
	return r
}

// SetClock overrides the time source used for snapshot timestamps.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// Load replaces the in-memory state with the persisted snapshot. A load failure leaves the
// repository empty and is returned to the caller for logging.
func (r *Repository) Load(ctx context.Context) error {
	snap, err := r.store.LoadSnapshot(ctx)
	if err != nil {
		slog.Error("Repository Load failed, starting with empty state", "error", err)
		r.reset()
		return err
	}
	r.apply(snap)
	slog.Info("Repository state restored",
		"conversations", len(r.states),
		"activated", len(r.activated),
		"expired", len(r.expired),
		"deactivated", len(r.deactivated),
		"reminders", len(r.reminders))
	return nil
}

// Persist writes the full snapshot. Failures are logged and returned; callers continue degraded.
func (r *Repository) Persist(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultPersistTimeout)
	defer cancel()
	if err := r.store.SaveSnapshot(ctx, r.Snapshot()); err != nil {
		slog.Error("Repository Persist failed", "error", err)
		return err
	}
	return nil
}

// Snapshot builds a versioned snapshot of the current state.
func (r *Repository) Snapshot() *models.Snapshot {
	snap := models.NewSnapshot()
	for id, s := range r.states {
		snap.UserStates[id] = s
	}
	for id, a := range r.answers {
		cp := make(models.Answers, len(a))
		for n, v := range a {
			cp[n] = v
		}
		snap.UserAnswers[id] = cp
	}
	for id, c := range r.counts {
		snap.MessageCounts[id] = c
	}
	snap.Activated = models.SortedUserIDs(r.activated)
	snap.Expired = models.SortedUserIDs(r.expired)
	snap.Deactivated = models.SortedUserIDs(r.deactivated)
	for id, v := range r.surveySent {
		snap.SurveyReminderSent[id] = v
	}
	for id, t := range r.lastMessage {
		snap.LastMessageTimes[id] = t
	}
	for id, rem := range r.reminders {
		snap.ScheduledReminders[id] = rem
	}
	snap.SavedAt = r.now()
	return snap
}

// Reset clears every per-user map.
func (r *Repository) Reset() {
	r.reset()
	slog.Info("Repository cleared all user state")
}

// State returns the conversation state of a user.
func (r *Repository) State(id models.UserID) (models.ConversationState, bool) {
	s, ok := r.states[id]
	return s, ok
}

// PutState stores the conversation state of a user.
func (r *Repository) PutState(id models.UserID, s models.ConversationState) {
	r.states[id] = s
}

// DeleteState removes the conversation state and answers of a user.
func (r *Repository) DeleteState(id models.UserID) {
	delete(r.states, id)
	delete(r.answers, id)
}

// Answers returns the recorded answers of a user.
func (r *Repository) Answers(id models.UserID) models.Answers {
	return r.answers[id]
}

// PutAnswer records the answer to a 1-based question ordinal.
func (r *Repository) PutAnswer(id models.UserID, ordinal int, text string) {
	a, ok := r.answers[id]
	if !ok {
		a = make(models.Answers)
		r.answers[id] = a
	}
	a[ordinal] = text
}

// ResetAnswers replaces the answers of a user with an empty set.
func (r *Repository) ResetAnswers(id models.UserID) {
	r.answers[id] = make(models.Answers)
}

// Activation returns the gate record of a user.
func (r *Repository) Activation(id models.UserID) models.ActivationRecord {
	rec := models.ActivationRecord{MessageCount: r.counts[id], Status: models.ActivationPending}
	switch {
	case has(r.deactivated, id):
		rec.Status = models.ActivationDeactivated
	case has(r.activated, id):
		rec.Status = models.ActivationActivated
	case has(r.expired, id):
		rec.Status = models.ActivationExpired
	}
	return rec
}

// IncrementMessageCount bumps and returns the message count of a user.
func (r *Repository) IncrementMessageCount(id models.UserID) int {
	r.counts[id]++
	return r.counts[id]
}

// SetActivation moves a user into exactly one activation set. Pending removes the user
// from all of them; Deactivated also drops the message count.
func (r *Repository) SetActivation(id models.UserID, status models.ActivationStatus) {
	delete(r.activated, id)
	delete(r.expired, id)
	delete(r.deactivated, id)
	switch status {
	case models.ActivationActivated:
		r.activated[id] = struct{}{}
	case models.ActivationExpired:
		r.expired[id] = struct{}{}
	case models.ActivationDeactivated:
		r.deactivated[id] = struct{}{}
		delete(r.counts, id)
	}
}

// IsDeactivated reports whether the user already submitted a lead.
func (r *Repository) IsDeactivated(id models.UserID) bool {
	return has(r.deactivated, id)
}

// SurveyReminderSent reports whether the survey reminder latch is set for a user.
func (r *Repository) SurveyReminderSent(id models.UserID) bool {
	return r.surveySent[id]
}

// MarkSurveyReminderSent sets the survey reminder latch.
func (r *Repository) MarkSurveyReminderSent(id models.UserID) {
	r.surveySent[id] = true
}

// ClearSurveyReminder drops the survey reminder latch.
func (r *Repository) ClearSurveyReminder(id models.UserID) {
	delete(r.surveySent, id)
}

// LastMessageTime returns the time of the latest qualifying message from a user.
func (r *Repository) LastMessageTime(id models.UserID) (time.Time, bool) {
	t, ok := r.lastMessage[id]
	return t, ok
}

// TouchLastMessage records a qualifying message time.
func (r *Repository) TouchLastMessage(id models.UserID, at time.Time) {
	r.lastMessage[id] = at
}

// Reminder returns the scheduled contact reminder of a user.
func (r *Repository) Reminder(id models.UserID) (models.ScheduledReminder, bool) {
	rem, ok := r.reminders[id]
	return rem, ok
}

// PutReminder stores the declarative record of an armed contact reminder.
func (r *Repository) PutReminder(rem models.ScheduledReminder) {
	r.reminders[rem.UserID] = rem
}

// DeleteReminder removes the contact reminder record of a user and reports whether one existed.
func (r *Repository) DeleteReminder(id models.UserID) bool {
	_, ok := r.reminders[id]
	delete(r.reminders, id)
	return ok
}

// Reminders returns every scheduled contact reminder.
func (r *Repository) Reminders() []models.ScheduledReminder {
	out := make([]models.ScheduledReminder, 0, len(r.reminders))
	for _, rem := range r.reminders {
		out = append(out, rem)
	}
	return out
}

// ClearUser tears down the conversation of a single user: state, answers, survey latch,
// last message time and reminder record. Activation bookkeeping is left untouched.
func (r *Repository) ClearUser(id models.UserID) {
	delete(r.states, id)
	delete(r.answers, id)
	delete(r.surveySent, id)
	delete(r.lastMessage, id)
	delete(r.reminders, id)
	slog.Debug("Repository cleared user conversation", "user_id", id)
}

// Stats summarizes the stored state.
func (r *Repository) Stats() Stats {
	s := Stats{
		Conversations:      len(r.states),
		Activated:          len(r.activated),
		Expired:            len(r.expired),
		Deactivated:        len(r.deactivated),
		ScheduledReminders: len(r.reminders),
		TrackedUsers:       len(r.counts),
	}
	for _, st := range r.states {
		if st.WaitingForContact {
			s.AwaitingContact++
		}
	}
	return s
}

// ActivatedUsers returns the activated user IDs in a stable order.
func (r *Repository) ActivatedUsers() []models.UserID { return models.SortedUserIDs(r.activated) }

// ExpiredUsers returns the expired user IDs in a stable order.
func (r *Repository) ExpiredUsers() []models.UserID { return models.SortedUserIDs(r.expired) }

// DeactivatedUsers returns the deactivated user IDs in a stable order.
func (r *Repository) DeactivatedUsers() []models.UserID { return models.SortedUserIDs(r.deactivated) }

// TrackedUsers returns the users with a message count in a stable order.
func (r *Repository) TrackedUsers() []models.UserID {
	set := make(map[models.UserID]struct{}, len(r.counts))
	for id := range r.counts {
		set[id] = struct{}{}
	}
	return models.SortedUserIDs(set)
}

func (r *Repository) reset() {
	r.states = make(map[models.UserID]models.ConversationState)
	r.answers = make(map[models.UserID]models.Answers)
	r.counts = make(map[models.UserID]int)
	r.activated = make(userSet)
	r.expired = make(userSet)
	r.deactivated = make(userSet)
	r.surveySent = make(map[models.UserID]bool)
	r.lastMessage = make(map[models.UserID]time.Time)
	r.reminders = make(map[models.UserID]models.ScheduledReminder)
}

func (r *Repository) apply(snap *models.Snapshot) {
	r.reset()
	snap.Normalize()
	for id, s := range snap.UserStates {
		r.states[id] = s
	}
	for id, a := range snap.UserAnswers {
		if a == nil {
			a = make(models.Answers)
		}
		r.answers[id] = a
	}
	for id, c := range snap.MessageCounts {
		r.counts[id] = c
	}
	// Later sets win so a snapshot with overlapping membership still loads exclusive sets.
	for _, id := range snap.Activated {
		r.SetActivation(id, models.ActivationActivated)
	}
	for _, id := range snap.Expired {
		if !has(r.activated, id) {
			r.SetActivation(id, models.ActivationExpired)
		}
	}
	for _, id := range snap.Deactivated {
		r.SetActivation(id, models.ActivationDeactivated)
	}
	for id, v := range snap.SurveyReminderSent {
		if v {
			r.surveySent[id] = true
		}
	}
	for id, t := range snap.LastMessageTimes {
		r.lastMessage[id] = t
	}
	for id, rem := range snap.ScheduledReminders {
		if rem.UserID == "" {
			rem.UserID = id
		}
		r.reminders[id] = rem
	}
}

func has(set userSet, id models.UserID) bool {
	_, ok := set[id]
	return ok
}
