package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/intellecta-lk/attendee/internal/repository"
)

// joinWindow is how far around now a scheduled bot's join_at may fall to be
// launched this cycle. Bots missed by more than this are left for the reaper.
const joinWindow = 5 * time.Minute

// Launcher starts the runtime for one claimed bot.
type Launcher interface {
	LaunchBot(ctx context.Context, bot repository.Bot) error
}

// Scheduler polls for SCHEDULED bots whose join_at is due and dispatches them.
type Scheduler struct {
	repo     repository.Repository
	launcher Launcher
	interval time.Duration
	now      func() time.Time
}

func New(repo repository.Repository, launcher Launcher, interval time.Duration) *Scheduler {
	return &Scheduler{
		repo:     repo,
		launcher: launcher,
		interval: interval,
		now:      time.Now,
	}
}

func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run polls until ctx is cancelled. Each cycle sleeps only the remainder of
// the interval, in one second chunks so shutdown stays responsive.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.interval)
	for {
		began := time.Now()
		if err := s.RunCycle(ctx); err != nil {
			slog.Error("scheduler cycle failed", "error", err)
		}
		elapsed := time.Since(began)
		if elapsed > s.interval {
			slog.Warn("scheduler cycle overran interval", "elapsed", elapsed, "interval", s.interval)
		}

		remaining := s.interval - elapsed
		for remaining > 0 {
			chunk := time.Second
			if remaining < chunk {
				chunk = remaining
			}
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopped")
				return
			case <-time.After(chunk):
			}
			remaining -= chunk
		}
		if ctx.Err() != nil {
			slog.Info("scheduler stopped")
			return
		}
	}
}

// RunCycle claims and launches every due scheduled bot once. Launching
// inside the claim keeps the rows held against concurrent schedulers until
// dispatch is done.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	now := s.now()
	claimed, err := s.repo.ClaimScheduledBots(ctx, now.Add(-joinWindow), now.Add(joinWindow), func(bot repository.Bot) {
		slog.Info("launching scheduled bot", "bot_id", bot.ID, "join_at", bot.JoinAt)
		if err := s.launcher.LaunchBot(ctx, bot); err != nil {
			slog.Error("failed to launch scheduled bot", "error", err, "bot_id", bot.ID)
		}
	})
	if err != nil {
		return err
	}
	if claimed > 0 {
		slog.Info("scheduler cycle complete", "launched", claimed)
	}
	return nil
}
