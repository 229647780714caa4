package conversation

import (
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/google/uuid"
)

// BuildLead assembles the CRM lead and the application log entry for a completed conversation.
func BuildLead(who models.Identity, answers models.Answers, phone, consultationTime string, at time.Time) (models.Lead, models.Application) {
	lead := models.Lead{
		Identity:         who,
		Phone:            phone,
		ConsultationTime: consultationTime,
		Answers:          answers.Ordered(),
		CreatedAt:        at,
	}
	app := models.Application{
		ID:               uuid.NewString(),
		UserID:           who.UserID,
		Username:         who.Username,
		FirstName:        who.FirstName,
		LastName:         who.LastName,
		PhoneNumber:      phone,
		ConsultationTime: consultationTime,
		Answers:          answers.Keyed(),
		Status:           models.ApplicationStatusNew,
		ValidationStatus: models.ApplicationValidationValid,
		CreatedAt:        at,
	}
	return lead, app
}
