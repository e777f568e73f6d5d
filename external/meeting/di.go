package meeting

import (
	"github.com/samber/do/v2"

	"github.com/intellecta-lk/attendee/internal/adapter"
	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/repository"
)

// Factory builds a platform adapter for one bot's meeting session.
type Factory func(bot *repository.Bot) adapter.Adapter

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (Factory, error) {
		c := do.MustInvoke[*config.Config](i)
		return func(bot *repository.Bot) adapter.Adapter {
			return NewWebSocketAdapter(c.MeetingStreamURL, bot.MeetingURL, bot.ID.String())
		}, nil
	})
}
