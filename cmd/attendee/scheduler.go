package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	meetingimpl "github.com/intellecta-lk/attendee/external/meeting"
	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/controller"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/lifecycle"
	"github.com/intellecta-lk/attendee/internal/repository"
	"github.com/intellecta-lk/attendee/internal/scheduler"
	"github.com/intellecta-lk/attendee/internal/transcription"
	"github.com/intellecta-lk/attendee/internal/webhook"
)

func newSchedulerCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Launch scheduled bots whose join time is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, injector := setup()
			if interval <= 0 {
				interval = cfg.SchedulerInterval
			}

			repo := do.MustInvoke[repository.Repository](injector)
			runner := do.MustInvoke[dispatch.Runner](injector)
			launcher := &inProcessLauncher{
				cfg:        cfg,
				repo:       repo,
				events:     do.MustInvoke[*lifecycle.EventManager](injector),
				webhooks:   do.MustInvoke[*webhook.Dispatcher](injector),
				provider:   do.MustInvoke[transcription.Provider](injector),
				runner:     runner,
				newAdapter: do.MustInvoke[meetingimpl.Factory](injector),
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Info("shutdown signal received; stopping scheduler")
				cancel()
			}()

			scheduler.New(repo, launcher, interval).Run(ctx)
			runner.Wait()
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (defaults to SCHEDULER_INTERVAL_SECONDS)")
	return cmd
}

// inProcessLauncher runs each claimed bot's controller inside this process.
// Deployments that launch one pod per bot replace this path with their own
// compute orchestration.
type inProcessLauncher struct {
	cfg        *config.Config
	repo       repository.Repository
	events     *lifecycle.EventManager
	webhooks   *webhook.Dispatcher
	provider   transcription.Provider
	runner     dispatch.Runner
	newAdapter meetingimpl.Factory
}

func (l *inProcessLauncher) LaunchBot(ctx context.Context, bot repository.Bot) error {
	b := bot
	ctrl := controller.New(l.cfg, l.repo, l.events, l.newAdapter(&b), l.webhooks, l.provider, l.runner, &b)
	l.runner.Go(func() {
		defer ctrl.Cleanup()
		if err := ctrl.Run(ctx); err != nil {
			slog.Error("bot run ended with error", "error", err, "bot_id", b.ID)
		}
	})
	return nil
}
