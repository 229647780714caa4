// Package scheduler runs LeadPipe's periodic housekeeping jobs.
//
// Jobs are registered with cron expressions or descriptors such as "@every 5s": the reset
// flag-file poll and the application log pruning.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// Default job schedules.
const (
	FlagPollSpec = "@every 5s"
	PruneSpec    = "@hourly"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field expressions plus @every/@hourly descriptors; panics in jobs are recovered.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// FlagFileJob returns a job that calls onFlag when path exists and then removes the file.
func FlagFileJob(path string, onFlag func()) func() {
	return func() {
		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Error("Scheduler flag file check failed", "path", path, "error", err)
			}
			return
		}
		slog.Info("Scheduler reset flag detected", "path", path)
		onFlag()
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Error("Scheduler failed to remove flag file", "path", path, "error", err)
			return
		}
		slog.Info("Scheduler reset flag handled", "path", path)
	}
}

// Pruner drops applications created before a cutoff.
type Pruner interface {
	PruneApplications(ctx context.Context, cutoff time.Time) (int, error)
}

// PruneJob returns a job that removes applications older than retention.
func PruneJob(p Pruner, retention time.Duration, now func() time.Time) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := p.PruneApplications(ctx, now().Add(-retention))
		if err != nil {
			slog.Error("Scheduler application pruning failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Scheduler pruned old applications", "removed", n, "retention", retention)
		}
	}
}
