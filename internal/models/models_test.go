package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestInboundMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     InboundMessage
		wantErr error
	}{
		{"valid", InboundMessage{UserID: "1", Chat: "1", Text: "hi"}, nil},
		{"missing user", InboundMessage{Chat: "1", Text: "hi"}, ErrEmptyUserID},
		{"missing chat", InboundMessage{UserID: "1", Text: "hi"}, ErrEmptyChatRef},
		{"blank text", InboundMessage{UserID: "1", Chat: "1", Text: "   "}, ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestInboundMessageIsCommand(t *testing.T) {
	if !(InboundMessage{Text: " /status"}).IsCommand() {
		t.Error("expected /status to be a command")
	}
	if (InboundMessage{Text: "хочу консультацию"}).IsCommand() {
		t.Error("plain text must not be a command")
	}
}

func TestAnswersOrdered(t *testing.T) {
	a := Answers{3: "c", 1: "a", 2: "b"}
	got := a.Ordered()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Ordered() = %v", got)
	}
	keyed := a.Keyed()
	if keyed["question_2"] != "b" {
		t.Errorf("Keyed()[question_2] = %q", keyed["question_2"])
	}
}

func TestSnapshotNormalizeDefaultsMissingFields(t *testing.T) {
	var s Snapshot
	if err := json.Unmarshal([]byte(`{"user_states":{"42":{"current_question":2}}}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s.Normalize()

	if s.Version != SnapshotVersion {
		t.Errorf("Version = %d, want %d", s.Version, SnapshotVersion)
	}
	if s.ScheduledReminders == nil || s.LastMessageTimes == nil || s.MessageCounts == nil {
		t.Fatal("expected maps to be initialized")
	}
	if s.UserStates["42"].CurrentQuestion != 2 {
		t.Errorf("user state not preserved: %+v", s.UserStates["42"])
	}
	if s.IsEmpty() {
		t.Error("snapshot with a user state must not be empty")
	}
}

func TestNewSnapshotIsEmpty(t *testing.T) {
	s := NewSnapshot()
	if !s.IsEmpty() {
		t.Error("new snapshot should be empty")
	}
	s.LastMessageTimes["1"] = time.Now()
	if s.IsEmpty() {
		t.Error("snapshot with last message time should not be empty")
	}
}

func TestConversationStatePhase(t *testing.T) {
	if (ConversationState{CurrentQuestion: 1}).Phase() != PhaseAnswering {
		t.Error("expected answering phase")
	}
	if (ConversationState{WaitingForContact: true}).Phase() != PhaseAwaitingContact {
		t.Error("expected awaiting contact phase")
	}
}
