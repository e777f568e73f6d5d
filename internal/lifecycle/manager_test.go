package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/repository"
	"github.com/intellecta-lk/attendee/internal/testutil"
)

type recordingNotifier struct {
	bots   []*repository.Bot
	events []*repository.BotEvent
}

func (n *recordingNotifier) NotifyBotStateChange(_ context.Context, bot *repository.Bot, event *repository.BotEvent) {
	n.bots = append(n.bots, bot)
	n.events = append(n.events, event)
}

// readFailingRepo fails every single-row bot read, leaving ApplyTransition
// as the only source of post-transition bot state.
type readFailingRepo struct {
	*testutil.FakeRepository
}

func (r *readFailingRepo) GetBot(_ context.Context, _ uuid.UUID) (*repository.Bot, error) {
	return nil, errors.New("connection reset by peer")
}

func TestCreateEvent_AppliesTransitionAndNotifies(t *testing.T) {
	repo := testutil.NewFakeRepository()
	bot := repo.SeedBot(repository.BotStateReady)
	notifier := &recordingNotifier{}
	m := NewEventManager(repo, notifier, dispatch.NewSynchronous(), EventManagerOptions{})

	event, err := m.CreateEvent(context.Background(), bot.ID, EventJoinRequested, "", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event.OldState != repository.BotStateReady || event.NewState != repository.BotStateJoining {
		t.Fatalf("unexpected transition %s -> %s", event.OldState, event.NewState)
	}
	got, _ := repo.GetBot(context.Background(), bot.ID)
	if got.State != repository.BotStateJoining {
		t.Fatalf("bot state not persisted: %s", got.State)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.events))
	}
}

func TestCreateEvent_IllegalTransition(t *testing.T) {
	repo := testutil.NewFakeRepository()
	bot := repo.SeedBot(repository.BotStateEnded)
	m := NewEventManager(repo, nil, dispatch.NewSynchronous(), EventManagerOptions{})

	_, err := m.CreateEvent(context.Background(), bot.ID, EventLeaveRequested, SubTypeUserRequested, nil)
	if !errors.Is(err, repository.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	got, _ := repo.GetBot(context.Background(), bot.ID)
	if got.State != repository.BotStateEnded {
		t.Fatalf("state changed by illegal transition: %s", got.State)
	}
	if events, _ := repo.ListBotEvents(context.Background(), bot.ID); len(events) != 0 {
		t.Fatalf("illegal transition appended %d events", len(events))
	}
}

func TestCreateEvent_UnknownEventType(t *testing.T) {
	repo := testutil.NewFakeRepository()
	bot := repo.SeedBot(repository.BotStateReady)
	m := NewEventManager(repo, nil, dispatch.NewSynchronous(), EventManagerOptions{})

	if _, err := m.CreateEvent(context.Background(), bot.ID, "bogus", "", nil); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestCreateEvent_SideEffectsSurviveFailedBotRead(t *testing.T) {
	inner := testutil.NewFakeRepository()
	bot := inner.SeedBot(repository.BotStatePostProcessing)
	notifier := &recordingNotifier{}
	m := NewEventManager(&readFailingRepo{FakeRepository: inner}, notifier, dispatch.NewSynchronous(),
		EventManagerOptions{ChargeCredits: true, CreditCost: 5})

	event, err := m.CreateEvent(context.Background(), bot.ID, EventPostProcessingCompleted, "", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event.NewState != repository.BotStateEnded {
		t.Fatalf("unexpected new state %s", event.NewState)
	}
	if len(notifier.events) != 1 {
		t.Fatal("committed transition was not delivered to the notifier")
	}
	if notifier.bots[0].State != repository.BotStateEnded {
		t.Fatalf("notifier saw stale bot state %s", notifier.bots[0].State)
	}
	if inner.Credits[bot.ID] != 5 {
		t.Fatalf("terminal credit charge missing, got %d", inner.Credits[bot.ID])
	}
}

func TestCreateEvent_ChargesCreditsAtTerminal(t *testing.T) {
	repo := testutil.NewFakeRepository()
	bot := repo.SeedBot(repository.BotStatePostProcessing)
	m := NewEventManager(repo, nil, dispatch.NewSynchronous(), EventManagerOptions{ChargeCredits: true, CreditCost: 5})

	if _, err := m.CreateEvent(context.Background(), bot.ID, EventPostProcessingCompleted, "", nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if repo.Credits[bot.ID] != 5 {
		t.Fatalf("expected 5 credits charged, got %d", repo.Credits[bot.ID])
	}
}

func TestCreateEvent_NoChargeBeforeTerminal(t *testing.T) {
	repo := testutil.NewFakeRepository()
	bot := repo.SeedBot(repository.BotStateReady)
	m := NewEventManager(repo, nil, dispatch.NewSynchronous(), EventManagerOptions{ChargeCredits: true, CreditCost: 5})

	if _, err := m.CreateEvent(context.Background(), bot.ID, EventJoinRequested, "", nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, charged := repo.Credits[bot.ID]; charged {
		t.Fatal("credits charged before terminal state")
	}
}
