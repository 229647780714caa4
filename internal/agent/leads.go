package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/crm"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/notify"
)

// submitLead hands a completed lead to the CRM and the notifiers off the event loop.
// Failures are logged; the local application log already holds the lead.
func (a *Agent) submitLead(_ context.Context, lead models.Lead, app models.Application) {
	labels := a.script.QuestionLabels
	a.background("submit_lead", func(ctx context.Context) {
		var crmID string
		if a.crm != nil {
			id, err := a.crm.CreateLead(ctx, lead)
			switch {
			case errors.Is(err, crm.ErrNotConfigured):
				slog.Warn("Agent lead not sent to CRM: not configured", "user_id", lead.UserID, "application_id", app.ID)
			case err != nil:
				slog.Error("Agent CRM submission failed", "user_id", lead.UserID, "application_id", app.ID, "error", err)
			default:
				crmID = id
			}
		}

		if a.notifier == nil {
			return
		}
		n := notify.Notification{
			Lead:          lead,
			ApplicationID: app.ID,
			CRMLeadID:     crmID,
			Summary:       crm.FormatComment(lead, labels, lead.CreatedAt),
		}
		if err := a.notifier.Notify(ctx, n); err != nil {
			slog.Error("Agent lead notification failed", "user_id", lead.UserID, "application_id", app.ID, "error", err)
		}
	})
}
