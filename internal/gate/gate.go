// Package gate implements the activation gate: a user may enter the conversation only after
// asking for a consultation within their first messages.
package gate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/state"
)

// DefaultQuota is the number of messages scanned for the activation keywords.
const DefaultQuota = 5

// Activation keywords. The request token is mandatory together with either consultation form.
const keywordWant = "хочу"

var consultationKeywords = []string{"консультацию", "консультация"}

// ActivationPredicate reports whether text asks for a consultation.
func ActivationPredicate(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, keywordWant) {
		return false
	}
	for _, kw := range consultationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Gate decides whether a message from a user may proceed into the conversation.
type Gate struct {
	repo  *state.Repository
	quota int
}

// New creates a gate over the given repository with the default quota.
func New(repo *state.Repository) *Gate {
	return &Gate{repo: repo, quota: DefaultQuota}
}

// Quota returns the number of messages scanned per user.
func (g *Gate) Quota() int { return g.quota }

// Evaluate counts the message and returns whether the user is activated.
func (g *Gate) Evaluate(ctx context.Context, id models.UserID, text string) bool {
	if g.repo.IsDeactivated(id) {
		slog.Debug("Gate Evaluate: user deactivated", "user_id", id)
		return false
	}

	count := g.repo.IncrementMessageCount(id)
	status := g.repo.Activation(id).Status

	switch {
	case status == models.ActivationActivated:
		g.persist(ctx)
		return true
	case count <= g.quota && ActivationPredicate(text):
		g.repo.SetActivation(id, models.ActivationActivated)
		g.persist(ctx)
		slog.Info("Gate user activated", "user_id", id, "message_count", count)
		return true
	case count >= g.quota && status != models.ActivationExpired:
		g.repo.SetActivation(id, models.ActivationExpired)
		g.persist(ctx)
		slog.Info("Gate quota exhausted without activation", "user_id", id, "message_count", count)
		return false
	default:
		g.persist(ctx)
		slog.Debug("Gate message did not activate", "user_id", id, "message_count", count, "quota", g.quota)
		return false
	}
}

func (g *Gate) persist(ctx context.Context) {
	// Persist logs its own failures; the gate decision stands either way.
	_ = g.repo.Persist(ctx)
}
