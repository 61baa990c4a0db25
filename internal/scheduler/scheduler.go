// Package scheduler runs ChatDesk's periodic maintenance jobs.
//
// Jobs are registered with 5-field cron expressions. Expressions are validated up front so
// a bad RETENTION_CRON fails at startup instead of silently never firing.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
)

// DefaultRetentionCron runs maintenance daily at 03:00.
const DefaultRetentionCron = "0 3 * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field parser (min, hour, dom, month, dow); panicking jobs are recovered.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// Validate reports whether expr is a usable 5-field cron expression.
func Validate(expr string) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %q", expr)
	}
	return nil
}

// NextRun returns the first tick of expr strictly after now.
func NextRun(expr string, now time.Time) (time.Time, error) {
	if err := Validate(expr); err != nil {
		return time.Time{}, err
	}
	return gronx.NextTickAfter(expr, now, false)
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	if err := Validate(expr); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	if next, err := NextRun(expr, time.Now()); err == nil {
		slog.Info("Scheduler.AddJob: job scheduled", "job", name, "cron", expr, "next_run", next)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
