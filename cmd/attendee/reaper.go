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

	reaperpkg "github.com/intellecta-lk/attendee/internal/reaper"
)

func newReaperCommand() *cobra.Command {
	var interval time.Duration
	var once bool

	cmd := &cobra.Command{
		Use:   "reaper",
		Short: "Force-terminate bots whose runtime went silent or never started",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, injector := setup()
			r := do.MustInvoke[*reaperpkg.Reaper](injector)

			if once {
				return r.Sweep(cmd.Context())
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Info("shutdown signal received; stopping reaper")
				cancel()
			}()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			slog.Info("reaper started", "interval", interval)
			for {
				if err := r.Sweep(ctx); err != nil {
					slog.Error("reaper sweep failed", "error", err)
				}
				select {
				case <-ctx.Done():
					slog.Info("reaper stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "sweep interval")
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}
