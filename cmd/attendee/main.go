package main

import (
	"log/slog"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	configloader "github.com/intellecta-lk/attendee/external/config"
	meetingimpl "github.com/intellecta-lk/attendee/external/meeting"
	repositoryimpl "github.com/intellecta-lk/attendee/external/repository"
	transcriberimpl "github.com/intellecta-lk/attendee/external/transcriber"
	webhookimpl "github.com/intellecta-lk/attendee/external/webhook"
	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/lifecycle"
	"github.com/intellecta-lk/attendee/internal/orchestrator"
	"github.com/intellecta-lk/attendee/internal/reaper"
	"github.com/intellecta-lk/attendee/internal/webhook"
)

func main() {
	root := &cobra.Command{
		Use:           "attendee",
		Short:         "Meeting bot lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunBotCommand(), newSchedulerCommand(), newReaperCommand())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	meetingimpl.RegisterDI(injector)
	dispatch.RegisterDI(injector)
	webhook.RegisterDI(injector)
	lifecycle.RegisterDI(injector)
	orchestrator.RegisterDI(injector)
	reaper.RegisterDI(injector)

	return injector
}

func setup() (*config.Config, do.Injector) {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	return cfg, setupDI(cfg)
}
