package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/intellecta-lk/attendee/internal/config"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	DatabaseURL                string `env:"DATABASE_URL,required"`
	MeetingStreamURL           string `env:"MEETING_STREAM_URL"`
	DefaultTranscribeLanguage  string `env:"DEFAULT_TRANSCRIBE_LANGUAGE,required"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID,required"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON,required"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"latest_long"`

	OnlyParticipantTimeoutSec int `env:"ONLY_PARTICIPANT_TIMEOUT_SECONDS" envDefault:"600"`
	SilenceActivateAfterSec   int `env:"SILENCE_ACTIVATE_AFTER_SECONDS" envDefault:"1200"`
	SilenceLeaveAfterSec      int `env:"SILENCE_LEAVE_AFTER_SECONDS" envDefault:"600"`
	WaitingRoomTimeoutSec     int `env:"WAITING_ROOM_TIMEOUT_SECONDS" envDefault:"900"`
	HeartbeatTimeoutSec       int `env:"HEARTBEAT_TIMEOUT_SECONDS" envDefault:"600"`
	NeverLaunchedGraceSec     int `env:"NEVER_LAUNCHED_GRACE_SECONDS" envDefault:"1800"`

	AudioWindowSec     int `env:"AUDIO_WINDOW_SECONDS" envDefault:"15"`
	AudioQuietAfterSec int `env:"AUDIO_QUIET_AFTER_SECONDS" envDefault:"2"`
	TargetSampleRate   int `env:"TARGET_SAMPLE_RATE" envDefault:"16000"`
	CaptionDebounceSec int `env:"CAPTION_DEBOUNCE_SECONDS" envDefault:"8"`

	WebhookMaxAttempts int `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
	WebhookBackoffSec  int `env:"WEBHOOK_BACKOFF_SECONDS" envDefault:"2"`

	ChargeCredits   bool  `env:"CHARGE_CREDITS" envDefault:"false"`
	CreditsPerBot   int64 `env:"CREDITS_PER_BOT" envDefault:"1"`
	SchedulerIntSec int   `env:"SCHEDULER_INTERVAL_SECONDS" envDefault:"60"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		DatabaseURL:                raw.DatabaseURL,
		MeetingStreamURL:           raw.MeetingStreamURL,
		DefaultTranscribeLanguage:  raw.DefaultTranscribeLanguage,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		OnlyParticipantTimeout:     time.Duration(raw.OnlyParticipantTimeoutSec) * time.Second,
		SilenceActivateAfter:       time.Duration(raw.SilenceActivateAfterSec) * time.Second,
		SilenceLeaveAfter:          time.Duration(raw.SilenceLeaveAfterSec) * time.Second,
		WaitingRoomTimeout:         time.Duration(raw.WaitingRoomTimeoutSec) * time.Second,
		HeartbeatTimeout:           time.Duration(raw.HeartbeatTimeoutSec) * time.Second,
		NeverLaunchedGrace:         time.Duration(raw.NeverLaunchedGraceSec) * time.Second,
		AudioWindow:                time.Duration(raw.AudioWindowSec) * time.Second,
		AudioQuietAfter:            time.Duration(raw.AudioQuietAfterSec) * time.Second,
		TargetSampleRate:           raw.TargetSampleRate,
		CaptionDebounce:            time.Duration(raw.CaptionDebounceSec) * time.Second,
		WebhookMaxAttempts:         raw.WebhookMaxAttempts,
		WebhookBackoff:             time.Duration(raw.WebhookBackoffSec) * time.Second,
		ChargeCredits:              raw.ChargeCredits,
		CreditsPerBot:              raw.CreditsPerBot,
		SchedulerInterval:          time.Duration(raw.SchedulerIntSec) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
