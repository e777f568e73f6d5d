package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/intellecta-lk/attendee/internal/repository"
	"github.com/intellecta-lk/attendee/internal/testutil"
)

type mockLauncher struct {
	launched []uuid.UUID
	err      error
}

func (m *mockLauncher) LaunchBot(_ context.Context, bot repository.Bot) error {
	m.launched = append(m.launched, bot.ID)
	return m.err
}

func seedScheduled(repo *testutil.FakeRepository, joinAt time.Time) *repository.Bot {
	bot := repo.SeedBot(repository.BotStateScheduled)
	bot.JoinAt = &joinAt
	return bot
}

func TestRunCycle_LaunchesOnlyWithinWindow(t *testing.T) {
	repo := testutil.NewFakeRepository()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	due := seedScheduled(repo, now.Add(2*time.Minute))
	overdue := seedScheduled(repo, now.Add(-4*time.Minute))
	tooEarly := seedScheduled(repo, now.Add(20*time.Minute))
	tooLate := seedScheduled(repo, now.Add(-30*time.Minute))

	launcher := &mockLauncher{}
	s := New(repo, launcher, time.Minute)
	s.SetClock(func() time.Time { return now })

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	launched := map[uuid.UUID]bool{}
	for _, id := range launcher.launched {
		launched[id] = true
	}
	if !launched[due.ID] || !launched[overdue.ID] {
		t.Fatalf("in-window bots not launched: %v", launcher.launched)
	}
	if launched[tooEarly.ID] || launched[tooLate.ID] {
		t.Fatalf("out-of-window bot launched: %v", launcher.launched)
	}
}

func TestRunCycle_SkipsNonScheduledStates(t *testing.T) {
	repo := testutil.NewFakeRepository()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	joining := repo.SeedBot(repository.BotStateJoining)
	joinAt := now
	joining.JoinAt = &joinAt

	launcher := &mockLauncher{}
	s := New(repo, launcher, time.Minute)
	s.SetClock(func() time.Time { return now })

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(launcher.launched) != 0 {
		t.Fatalf("non-scheduled bot launched: %v", launcher.launched)
	}
}

func TestRunCycle_LaunchFailureDoesNotAbortCycle(t *testing.T) {
	repo := testutil.NewFakeRepository()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seedScheduled(repo, now)
	seedScheduled(repo, now)

	launcher := &mockLauncher{err: errors.New("no capacity")}
	s := New(repo, launcher, time.Minute)
	s.SetClock(func() time.Time { return now })

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(launcher.launched) != 2 {
		t.Fatalf("expected both bots attempted, got %d", len(launcher.launched))
	}
}

// claimObservingRepo records whether each launch happened inside the claim,
// i.e. before the repository released the claimed rows.
type claimObservingRepo struct {
	*testutil.FakeRepository
	launcher          *mockLauncher
	launchedInClaim   int
	launchedAfterward int
}

func (r *claimObservingRepo) ClaimScheduledBots(ctx context.Context, lower, upper time.Time, claim func(repository.Bot)) (int, error) {
	n, err := r.FakeRepository.ClaimScheduledBots(ctx, lower, upper, func(bot repository.Bot) {
		before := len(r.launcher.launched)
		claim(bot)
		if len(r.launcher.launched) > before {
			r.launchedInClaim++
		}
	})
	r.launchedAfterward = len(r.launcher.launched) - r.launchedInClaim
	return n, err
}

func TestRunCycle_DispatchesWhileClaimIsHeld(t *testing.T) {
	inner := testutil.NewFakeRepository()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seedScheduled(inner, now)
	seedScheduled(inner, now.Add(time.Minute))

	launcher := &mockLauncher{}
	repo := &claimObservingRepo{FakeRepository: inner, launcher: launcher}
	s := New(repo, launcher, time.Minute)
	s.SetClock(func() time.Time { return now })

	if err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if repo.launchedInClaim != 2 {
		t.Fatalf("expected 2 launches inside the claim, got %d", repo.launchedInClaim)
	}
	if repo.launchedAfterward != 0 {
		t.Fatalf("%d launches escaped the claim", repo.launchedAfterward)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := testutil.NewFakeRepository()
	launcher := &mockLauncher{}
	s := New(repo, launcher, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
