package transcriber

import (
	"github.com/samber/do/v2"

	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/transcription"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcription.Provider, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewCloudSpeechProvider(CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Language:        c.DefaultTranscribeLanguage,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		}), nil
	})
}
