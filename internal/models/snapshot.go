package models

import (
	"sort"
	"time"
)

// SnapshotVersion is the current on-disk snapshot format.
const SnapshotVersion = 1

// Snapshot is the whole persisted per-user state, written atomically on every mutation.
type Snapshot struct {
	Version            int                          `json:"version"`
	UserStates         map[UserID]ConversationState `json:"user_states"`
	UserAnswers        map[UserID]Answers           `json:"user_answers"`
	MessageCounts      map[UserID]int               `json:"user_message_counts"`
	Activated          []UserID                     `json:"activated_users"`
	Expired            []UserID                     `json:"expired_users"`
	Deactivated        []UserID                     `json:"deactivated_users"`
	SurveyReminderSent map[UserID]bool              `json:"survey_reminder_sent"`
	LastMessageTimes   map[UserID]time.Time         `json:"last_message_times"`
	ScheduledReminders map[UserID]ScheduledReminder `json:"scheduled_reminders"`
	SavedAt            time.Time                    `json:"last_save"`
}

// NewSnapshot returns an empty snapshot of the current version.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.Normalize()
	return s
}

// Normalize fills every missing field with its default so older or partial
// snapshots load without errors.
func (s *Snapshot) Normalize() {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	if s.UserStates == nil {
		s.UserStates = make(map[UserID]ConversationState)
	}
	if s.UserAnswers == nil {
		s.UserAnswers = make(map[UserID]Answers)
	}
	if s.MessageCounts == nil {
		s.MessageCounts = make(map[UserID]int)
	}
	if s.SurveyReminderSent == nil {
		s.SurveyReminderSent = make(map[UserID]bool)
	}
	if s.LastMessageTimes == nil {
		s.LastMessageTimes = make(map[UserID]time.Time)
	}
	if s.ScheduledReminders == nil {
		s.ScheduledReminders = make(map[UserID]ScheduledReminder)
	}
	if s.Activated == nil {
		s.Activated = []UserID{}
	}
	if s.Expired == nil {
		s.Expired = []UserID{}
	}
	if s.Deactivated == nil {
		s.Deactivated = []UserID{}
	}
}

// IsEmpty reports whether the snapshot carries no per-user state.
func (s *Snapshot) IsEmpty() bool {
	return len(s.UserStates) == 0 && len(s.UserAnswers) == 0 && len(s.MessageCounts) == 0 &&
		len(s.Activated) == 0 && len(s.Expired) == 0 && len(s.Deactivated) == 0 &&
		len(s.SurveyReminderSent) == 0 && len(s.LastMessageTimes) == 0 && len(s.ScheduledReminders) == 0
}

// SortedUserIDs returns the keys of a user set in a stable order.
func SortedUserIDs(set map[UserID]struct{}) []UserID {
	out := make([]UserID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
