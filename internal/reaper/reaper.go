package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/intellecta-lk/attendee/internal/lifecycle"
	"github.com/intellecta-lk/attendee/internal/orchestrator"
	"github.com/intellecta-lk/attendee/internal/repository"
)

// Reaper force-terminates bots whose runtime has gone silent or never
// started. It only ever reads heartbeats; the single write it makes is the
// terminal transition itself.
type Reaper struct {
	repo               repository.Repository
	events             *lifecycle.EventManager
	orch               orchestrator.Orchestrator
	heartbeatTimeout   time.Duration
	neverLaunchedGrace time.Duration
	now                func() time.Time
}

func New(repo repository.Repository, events *lifecycle.EventManager, orch orchestrator.Orchestrator, heartbeatTimeout, neverLaunchedGrace time.Duration) *Reaper {
	return &Reaper{
		repo:               repo,
		events:             events,
		orch:               orch,
		heartbeatTimeout:   heartbeatTimeout,
		neverLaunchedGrace: neverLaunchedGrace,
		now:                time.Now,
	}
}

func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// Sweep examines every non-terminal bot once. Bots with a future join_at are
// exempt regardless of age.
func (r *Reaper) Sweep(ctx context.Context) error {
	bots, err := r.repo.ListNonTerminalBots(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	for _, bot := range bots {
		if bot.JoinAt != nil && bot.JoinAt.After(now) {
			continue
		}
		subType := r.classify(&bot, now)
		if subType == "" {
			continue
		}
		r.terminate(ctx, &bot, subType)
	}
	return nil
}

func (r *Reaper) classify(bot *repository.Bot, now time.Time) string {
	if bot.LastHeartbeatAt != nil {
		if now.Sub(*bot.LastHeartbeatAt) > r.heartbeatTimeout {
			return lifecycle.SubTypeHeartbeatTimeout
		}
		return ""
	}
	if bot.FirstHeartbeatAt == nil && now.Sub(bot.CreatedAt) > r.neverLaunchedGrace {
		return lifecycle.SubTypeNeverLaunched
	}
	return ""
}

func (r *Reaper) terminate(ctx context.Context, bot *repository.Bot, subType string) {
	slog.Warn("reaping unhealthy bot", "bot_id", bot.ID, "state", bot.State, "sub_type", subType)
	if _, err := r.events.CreateEvent(ctx, bot.ID, lifecycle.EventFatalError, subType, nil); err != nil {
		if errors.Is(err, repository.ErrIllegalTransition) {
			// Already terminal; another actor won the race.
			return
		}
		slog.Error("failed to force fatal transition", "error", err, "bot_id", bot.ID)
		return
	}
	if err := r.orch.DeleteComputeUnit(ctx, bot.PodName()); err != nil {
		slog.Error("failed to delete compute unit", "error", err, "bot_id", bot.ID, "pod_name", bot.PodName())
	}
}
