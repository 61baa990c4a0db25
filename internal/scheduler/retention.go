package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/throttle"
)

// DefaultHistoryRetention is how long AI chat history is kept.
const DefaultHistoryRetention = 30 * 24 * time.Hour

// HistoryPruner deletes chat history older than a cutoff.
type HistoryPruner interface {
	DeleteChatHistoryBefore(ctx context.Context, before time.Time) (int64, error)
}

// RetentionJob prunes old chat history and expired welcome throttle entries.
type RetentionJob struct {
	History   HistoryPruner
	Throttle  throttle.Purger // optional
	Retention time.Duration
	Timeout   time.Duration
	Now       func() time.Time
}

// Run performs one pass. Failures are logged; the next tick retries.
func (j *RetentionJob) Run(ctx context.Context) {
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	retention := j.Retention
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}

	if j.History != nil {
		cutoff := now().Add(-retention)
		n, err := j.History.DeleteChatHistoryBefore(ctx, cutoff)
		if err != nil {
			slog.Error("RetentionJob.Run: failed to prune chat history", "cutoff", cutoff, "error", err)
		} else if n > 0 {
			slog.Info("RetentionJob.Run: pruned chat history", "deleted", n, "cutoff", cutoff)
		}
	}
	if j.Throttle != nil {
		n, err := j.Throttle.PurgeExpired(ctx)
		if err != nil {
			slog.Error("RetentionJob.Run: failed to purge welcome throttle", "error", err)
		} else if n > 0 {
			slog.Debug("RetentionJob.Run: purged welcome throttle", "deleted", n)
		}
	}
}

// Schedule registers the job on s under expr.
func (j *RetentionJob) Schedule(ctx context.Context, s *Scheduler, expr string) error {
	return s.AddJob("retention", expr, func() { j.Run(ctx) })
}
