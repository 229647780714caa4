// Package models defines the core data structures for LeadPipe.
//
// It includes user identities, inbound chat messages, per-user conversation and activation
// records, persisted reminder schedules and lead records, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// UserID identifies a chat user across transports (Telegram numeric ID or WhatsApp JID user).
type UserID string

// ChatRef identifies the chat a reply must be sent to.
type ChatRef string

// String returns the raw identifier.
func (u UserID) String() string { return string(u) }

// String returns the raw chat reference.
func (c ChatRef) String() string { return string(c) }

// Error variables for better error handling and testability
var (
	ErrEmptyUserID  = errors.New("user id cannot be empty")
	ErrEmptyChatRef = errors.New("chat reference cannot be empty")
	ErrEmptyText    = errors.New("message text cannot be empty")
)

// Identity holds the profile fields captured when a conversation starts.
type Identity struct {
	UserID    UserID `json:"user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName returns "First Last" with empty parts omitted.
func (i Identity) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
}

// InboundMessage is a text message received from a chat transport.
type InboundMessage struct {
	ID        string    `json:"id"`
	UserID    UserID    `json:"user_id"`
	Chat      ChatRef   `json:"chat"`
	Sender    string    `json:"sender,omitempty"` // transport address of the sender, used for read receipts
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// Identity extracts the sender identity from the message.
func (m InboundMessage) Identity() Identity {
	return Identity{
		UserID:    m.UserID,
		Username:  m.Username,
		FirstName: m.FirstName,
		LastName:  m.LastName,
	}
}

// Validate checks the fields every handler relies on.
func (m InboundMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Chat == "" {
		return ErrEmptyChatRef
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// IsCommand reports whether the message text is a slash command.
func (m InboundMessage) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(m.Text), "/")
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response carrying only a message.
func SuccessWithMessage(message string) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
