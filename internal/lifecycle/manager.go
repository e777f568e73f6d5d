package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/repository"
)

// StateChangeNotifier receives every committed transition, after commit.
type StateChangeNotifier interface {
	NotifyBotStateChange(ctx context.Context, bot *repository.Bot, event *repository.BotEvent)
}

// EventManager is the authoritative writer of bot state. All transitions go
// through CreateEvent; nothing else mutates Bot.State.
type EventManager struct {
	repo          repository.Repository
	notifier      StateChangeNotifier
	runner        dispatch.Runner
	chargeCredits bool
	creditCost    int64
}

type EventManagerOptions struct {
	ChargeCredits bool
	CreditCost    int64
}

func NewEventManager(repo repository.Repository, notifier StateChangeNotifier, runner dispatch.Runner, opts EventManagerOptions) *EventManager {
	return &EventManager{
		repo:          repo,
		notifier:      notifier,
		runner:        runner,
		chargeCredits: opts.ChargeCredits,
		creditCost:    opts.CreditCost,
	}
}

// CreateEvent validates and applies one transition atomically, then notifies
// subscribers and, at terminal entry, charges credits. The returned error is
// repository.ErrIllegalTransition when the bot's current state is outside the
// event's source set.
func (m *EventManager) CreateEvent(ctx context.Context, botID uuid.UUID, eventType, subType string, metadata json.RawMessage) (*repository.BotEvent, error) {
	allowedFrom, ok := AllowedSourceStates(eventType)
	if !ok {
		return nil, fmt.Errorf("unknown bot event type %q", eventType)
	}
	target, _ := TargetState(eventType)

	bot, event, err := m.repo.ApplyTransition(ctx, repository.ApplyTransitionInput{
		BotID:        botID,
		EventType:    eventType,
		EventSubType: subType,
		AllowedFrom:  allowedFrom,
		NewState:     target,
		Metadata:     metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("apply transition %s for bot %s: %w", eventType, botID, err)
	}
	slog.Info("bot state transition",
		"bot_id", botID,
		"event_type", eventType,
		"event_sub_type", subType,
		"old_state", event.OldState,
		"new_state", event.NewState)

	// The notification and the credit charge feed off the transition's own
	// write; a committed transition must never lose either to a failed reload.
	if m.notifier != nil {
		m.runner.Go(func() {
			m.notifier.NotifyBotStateChange(context.Background(), bot, event)
		})
	}

	if m.chargeCredits && IsTerminal(event.NewState) {
		if err := m.repo.InsertCreditTransaction(ctx, botID, m.creditCost); err != nil {
			slog.Error("failed to record credit transaction", "error", err, "bot_id", botID)
		}
	}
	return event, nil
}
