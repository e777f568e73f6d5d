package webhook

import (
	"github.com/samber/do/v2"

	"github.com/intellecta-lk/attendee/internal/webhook"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (webhook.Sender, error) {
		return NewHTTPSender(), nil
	})
}
