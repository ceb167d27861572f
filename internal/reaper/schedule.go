package reaper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/worldline-go/hardloop"
)

// cronRunner is satisfied by hardloop's unexported *cronJob type (returned
// by hardloop.NewCron), letting Scheduler store it without naming it.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Scheduler runs a Reaper pass on a cron schedule, adapted from the
// teacher's hardloop-based trigger scheduler (internal/service/workflow's
// Scheduler) down to a single fixed job instead of a dynamic trigger set.
type Scheduler struct {
	reaper *Reaper
	cron   cronRunner
}

// NewScheduler builds a scheduler that runs r.Run on every match of the
// standard cron expression spec.
func NewScheduler(r *Reaper, spec string) (*Scheduler, error) {
	s := &Scheduler{reaper: r}

	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  "orphan-reaper",
		Specs: []string{spec},
		Func:  s.tick,
	})
	if err != nil {
		return nil, fmt.Errorf("reaper: create cron runner: %w", err)
	}

	s.cron = cronJob

	return s, nil
}

func (s *Scheduler) tick(ctx context.Context) error {
	if err := s.reaper.Run(ctx); err != nil {
		slog.Error("reaper: pass failed", "error", err)
	}
	return nil
}

// Start begins the cron schedule; it returns once started, running in the
// background until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.cron.Start(ctx)
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}
