// Package notify tells operators about freshly submitted leads.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Notification describes one submitted lead.
type Notification struct {
	Lead          models.Lead
	ApplicationID string
	CRMLeadID     string
	// Summary is the human-readable lead block used as the e-mail body.
	Summary string
}

// Notifier delivers a Notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Name() string
}

// Fanout delivers a notification to every notifier.
type Fanout []Notifier

// Notify calls every notifier and joins their errors. One failure does not stop the others.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Notify(ctx, n); err != nil {
			slog.Error("Notify failed", "notifier", notifier.Name(), "user_id", n.Lead.UserID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}
		slog.Debug("Notify delivered", "notifier", notifier.Name(), "user_id", n.Lead.UserID)
	}
	return errors.Join(errs...)
}

// Name returns "fanout".
func (f Fanout) Name() string { return "fanout" }

// Close closes every notifier that holds a connection.
func (f Fanout) Close() error {
	var errs []error
	for _, notifier := range f {
		if c, ok := notifier.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
