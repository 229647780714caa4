package reminder

import (
	"fmt"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Reminder delays.
const (
	SurveyDelay = 20 * time.Minute
	FirstDelay  = 5 * time.Minute
	FinalDelay  = 1434 * time.Minute
)

// tierStep is one row of the contact reminder chain.
type tierStep struct {
	delay time.Duration
	// next is armed when this tier fires. An empty next ends the chain and clears the user.
	next models.ReminderTier
}

var tierTable = map[models.ReminderTier]tierStep{
	models.TierFirst: {delay: FirstDelay, next: models.TierFinal},
	models.TierFinal: {delay: FinalDelay},
}

// TierDelay returns the delay at which a tier fires after being armed.
func TierDelay(t models.ReminderTier) (time.Duration, error) {
	step, ok := tierTable[t]
	if !ok {
		return 0, fmt.Errorf("unknown reminder tier %q", t)
	}
	return step.delay, nil
}

// NextTier returns the tier armed after t fires and whether one exists.
func NextTier(t models.ReminderTier) (models.ReminderTier, bool) {
	step, ok := tierTable[t]
	if !ok || step.next == "" {
		return "", false
	}
	return step.next, true
}

// Terminal reports whether firing t ends the conversation.
func Terminal(t models.ReminderTier) bool {
	_, ok := NextTier(t)
	return !ok
}
