package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	meetingimpl "github.com/intellecta-lk/attendee/external/meeting"
	"github.com/intellecta-lk/attendee/internal/controller"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/lifecycle"
	"github.com/intellecta-lk/attendee/internal/repository"
	"github.com/intellecta-lk/attendee/internal/transcription"
	"github.com/intellecta-lk/attendee/internal/webhook"
)

func newRunBotCommand() *cobra.Command {
	var botID string

	cmd := &cobra.Command{
		Use:   "run-bot",
		Short: "Drive one bot through its meeting session",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(botID)
			if err != nil {
				return fmt.Errorf("invalid --bot-id %q: %w", botID, err)
			}
			cfg, injector := setup()

			repo := do.MustInvoke[repository.Repository](injector)
			events := do.MustInvoke[*lifecycle.EventManager](injector)
			webhooks := do.MustInvoke[*webhook.Dispatcher](injector)
			provider := do.MustInvoke[transcription.Provider](injector)
			runner := do.MustInvoke[dispatch.Runner](injector)
			newAdapter := do.MustInvoke[meetingimpl.Factory](injector)

			bot, err := repo.GetBot(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load bot %s: %w", id, err)
			}

			ctrl := controller.New(cfg, repo, events, newAdapter(bot), webhooks, provider, runner, bot)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Info("shutdown signal received; cleaning up bot", "bot_id", bot.ID)
				ctrl.Cleanup()
				cancel()
			}()

			slog.Info("startup: entering bot run loop", "bot_id", bot.ID, "meeting_url", bot.MeetingURL)
			err = ctrl.Run(ctx)
			ctrl.Cleanup()
			runner.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&botID, "bot-id", "", "ID of the bot to run")
	_ = cmd.MarkFlagRequired("bot-id")
	return cmd
}
