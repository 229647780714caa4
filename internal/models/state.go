package models

import (
	"fmt"
	"sort"
	"time"
)

// Phase is the position of a user inside the lead-qualification conversation.
type Phase string

const (
	PhaseNotStarted      Phase = "not_started"
	PhaseAnswering       Phase = "answering"
	PhaseAwaitingContact Phase = "awaiting_contact"
	PhaseCompleted       Phase = "completed"
)

// ConversationState is the persisted progress of one user through the questionnaire.
type ConversationState struct {
	CurrentQuestion   int    `json:"current_question"`
	WaitingForContact bool   `json:"waiting_for_contact"`
	Username          string `json:"username,omitempty"`
	FirstName         string `json:"first_name,omitempty"`
	LastName          string `json:"last_name,omitempty"`
}

// Phase derives the conversation phase from the stored progress.
func (s ConversationState) Phase() Phase {
	if s.WaitingForContact {
		return PhaseAwaitingContact
	}
	return PhaseAnswering
}

// Identity returns the identity captured when the conversation started.
func (s ConversationState) Identity(id UserID) Identity {
	return Identity{UserID: id, Username: s.Username, FirstName: s.FirstName, LastName: s.LastName}
}

// Answers maps a 1-based question ordinal to the free-text answer.
type Answers map[int]string

// Ordered returns the answers sorted by question ordinal.
func (a Answers) Ordered() []string {
	ordinals := make([]int, 0, len(a))
	for n := range a {
		ordinals = append(ordinals, n)
	}
	sort.Ints(ordinals)
	out := make([]string, 0, len(ordinals))
	for _, n := range ordinals {
		out = append(out, a[n])
	}
	return out
}

// Keyed returns the answers keyed as "question_N".
func (a Answers) Keyed() map[string]string {
	out := make(map[string]string, len(a))
	for n, v := range a {
		out[fmt.Sprintf("question_%d", n)] = v
	}
	return out
}

// ActivationStatus is the gate membership of a user. The sets are mutually exclusive.
type ActivationStatus string

const (
	ActivationPending     ActivationStatus = "pending"
	ActivationActivated   ActivationStatus = "activated"
	ActivationExpired     ActivationStatus = "expired"
	ActivationDeactivated ActivationStatus = "deactivated"
)

// ActivationRecord describes the gate bookkeeping of a single user.
type ActivationRecord struct {
	MessageCount int              `json:"message_count"`
	Status       ActivationStatus `json:"status"`
}

// ReminderTier is one stage of the contact-collection reminder chain.
type ReminderTier string

const (
	TierFirst ReminderTier = "first"
	TierFinal ReminderTier = "final"
)

// Valid reports whether the tier is a known stage.
func (t ReminderTier) Valid() bool {
	return t == TierFirst || t == TierFinal
}

// ScheduledReminder is the declarative record of an outstanding contact reminder.
type ScheduledReminder struct {
	UserID       UserID       `json:"user_id"`
	Chat         ChatRef      `json:"chat_id"`
	DelayMinutes int          `json:"delay_minutes"`
	Tier         ReminderTier `json:"reminder_type"`
	ScheduledAt  time.Time    `json:"scheduled_time"`
	CreatedAt    time.Time    `json:"created_at"`
}
