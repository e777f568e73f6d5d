package reaper

import (
	"github.com/samber/do/v2"

	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/lifecycle"
	"github.com/intellecta-lk/attendee/internal/orchestrator"
	"github.com/intellecta-lk/attendee/internal/repository"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Reaper, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		events := do.MustInvoke[*lifecycle.EventManager](i)
		orch := do.MustInvoke[orchestrator.Orchestrator](i)
		return New(repo, events, orch, cfg.HeartbeatTimeout, cfg.NeverLaunchedGrace), nil
	})
}
