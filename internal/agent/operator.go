package agent

import (
	"context"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// CurrentStatus returns Status computed on the event loop.
func (a *Agent) CurrentStatus(ctx context.Context) (Status, error) {
	var s Status
	err := a.Do(ctx, func() { s = a.Status() })
	return s, err
}

// Applications returns the retained application log, newest first.
func (a *Agent) Applications(ctx context.Context) ([]models.Application, error) {
	var (
		apps    []models.Application
		listErr error
	)
	if err := a.Do(ctx, func() { apps, listErr = a.apps.ListApplications(ctx) }); err != nil {
		return nil, err
	}
	return apps, listErr
}

// Reset performs a full reset on the event loop.
func (a *Agent) Reset(ctx context.Context, source string) error {
	return a.Do(ctx, func() { a.ResetAll(ctx, source) })
}

// RequestReset queues a full reset without waiting for it.
func (a *Agent) RequestReset(source string) {
	a.Post(func() { a.ResetAll(context.Background(), source) })
}
