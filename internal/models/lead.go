package models

import "time"

// ConsultationTimeUnspecified is stored when the contact message carries no time hint.
const ConsultationTimeUnspecified = "Не указано"

// Application status values written to the local application log.
const (
	ApplicationStatusNew       = "new"
	ApplicationValidationValid = "validated"
)

// Lead is the finalized record handed to the CRM.
type Lead struct {
	Identity
	Phone            string    `json:"phone"`
	ConsultationTime string    `json:"consultation_time"`
	Answers          []string  `json:"answers"`
	CreatedAt        time.Time `json:"created_at"`
}

// Application is an entry of the local rolling application log.
type Application struct {
	ID               string            `json:"id"`
	UserID           UserID            `json:"user_id"`
	Username         string            `json:"username,omitempty"`
	FirstName        string            `json:"first_name,omitempty"`
	LastName         string            `json:"last_name,omitempty"`
	PhoneNumber      string            `json:"phone_number"`
	ConsultationTime string            `json:"consultation_time"`
	Answers          map[string]string `json:"answers"`
	Status           string            `json:"status"`
	ValidationStatus string            `json:"validation_status"`
	CreatedAt        time.Time         `json:"timestamp"`
}

// LeadEvent is published to the message broker after a lead is saved locally.
type LeadEvent struct {
	ID               string    `json:"id"`
	UserID           UserID    `json:"user_id"`
	Username         string    `json:"username,omitempty"`
	Phone            string    `json:"phone"`
	ConsultationTime string    `json:"consultation_time"`
	CRMLeadID        string    `json:"crm_lead_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
