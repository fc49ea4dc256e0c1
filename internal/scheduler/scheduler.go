package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kumona/notify-core/internal/dispatch"
	"github.com/kumona/notify-core/internal/domain"
	"github.com/kumona/notify-core/internal/store"
)

// claimBatch bounds how many due reminders one tick processes.
const claimBatch = 100

// Scheduler periodically polls the store and dispatches due reminders.
type Scheduler struct {
	repo    store.Repo
	disp    *dispatch.Dispatcher
	log     *zap.Logger
	period  time.Duration
	running atomic.Bool
}

// New creates a Scheduler. The period bounds how late a reminder can fire:
// with a one-minute period no reminder is ever more than one minute late;
// longer periods trade punctuality for load.
func New(repo store.Repo, disp *dispatch.Dispatcher, log *zap.Logger, period time.Duration) *Scheduler {
	if period <= 0 {
		period = time.Minute
	}
	return &Scheduler{
		repo:   repo,
		disp:   disp,
		log:    log,
		period: period,
	}
}

// Run starts the loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick performs one scheduling cycle: claim due reminders, dispatch each on
// its enabled channels, reschedule. Time is a parameter so tests drive the
// clock. A tick that would overlap a still-running one is skipped; the due
// reminders stay claimed-or-due and the next tick picks them up.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("tick skipped, previous tick still running")
		return
	}
	defer s.running.Store(false)

	reminders, err := s.repo.ClaimDue(ctx, now, claimBatch)
	if err != nil {
		s.log.Error("claim due reminders failed", zap.Error(err))
		return
	}

	// Per-reminder sequential, and one reminder's failure never stops the
	// rest of the batch.
	for i := range reminders {
		s.fire(ctx, &reminders[i], now)
	}
}

func (s *Scheduler) fire(ctx context.Context, rem *domain.Reminder, now time.Time) {
	for _, ch := range rem.Channels() {
		if _, err := s.disp.SendForReminder(ctx, rem, ch); err != nil {
			// Only log-store failures surface here; channel failures are
			// already degraded inside the dispatcher.
			s.log.Error("reminder dispatch failed",
				zap.Error(err),
				zap.String("reminderID", rem.ID),
				zap.String("channel", string(ch)),
			)
		}
	}

	next, err := domain.NextOccurrence(rem.Frequency, rem.TimeOfDay, rem.Days, now)
	if err != nil {
		// A corrupt stored row must not crash the tick. ClaimDue already
		// deferred next_at, so the reminder retries later instead of spinning.
		s.log.Warn("next occurrence failed, keeping deferred schedule",
			zap.Error(err),
			zap.String("reminderID", rem.ID),
		)
		return
	}
	if err := s.repo.SetSchedule(ctx, rem.ID, next, &now); err != nil {
		s.log.Error("set schedule failed", zap.Error(err), zap.String("reminderID", rem.ID))
		return
	}
	s.log.Debug("reminder fired",
		zap.String("reminderID", rem.ID),
		zap.String("userID", rem.UserID),
		zap.Time("nextAt", next),
	)
}
