package lifecycle

import (
	"github.com/samber/do/v2"

	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/repository"
	"github.com/intellecta-lk/attendee/internal/webhook"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*EventManager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		webhooks := do.MustInvoke[*webhook.Dispatcher](i)
		runner := do.MustInvoke[dispatch.Runner](i)
		return NewEventManager(repo, webhooks, runner, EventManagerOptions{
			ChargeCredits: cfg.ChargeCredits,
			CreditCost:    cfg.CreditsPerBot,
		}), nil
	})
}
