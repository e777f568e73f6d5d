package webhook

import (
	"github.com/samber/do/v2"

	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/repository"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Dispatcher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		sender := do.MustInvoke[Sender](i)
		runner := do.MustInvoke[dispatch.Runner](i)
		return NewDispatcher(repo, sender, runner, cfg.WebhookMaxAttempts, cfg.WebhookBackoff), nil
	})
}
