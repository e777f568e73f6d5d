package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env                        string
	DatabaseURL                string
	MeetingStreamURL           string
	DefaultTranscribeLanguage  string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	OnlyParticipantTimeout time.Duration
	SilenceActivateAfter   time.Duration
	SilenceLeaveAfter      time.Duration
	WaitingRoomTimeout     time.Duration
	HeartbeatTimeout       time.Duration
	NeverLaunchedGrace     time.Duration

	AudioWindow      time.Duration
	AudioQuietAfter  time.Duration
	TargetSampleRate int
	CaptionDebounce  time.Duration

	WebhookMaxAttempts int
	WebhookBackoff     time.Duration

	ChargeCredits     bool
	CreditsPerBot     int64
	SchedulerInterval time.Duration
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	for _, pos := range []struct {
		name  string
		value time.Duration
	}{
		{"ONLY_PARTICIPANT_TIMEOUT_SECONDS", c.OnlyParticipantTimeout},
		{"SILENCE_ACTIVATE_AFTER_SECONDS", c.SilenceActivateAfter},
		{"SILENCE_LEAVE_AFTER_SECONDS", c.SilenceLeaveAfter},
		{"WAITING_ROOM_TIMEOUT_SECONDS", c.WaitingRoomTimeout},
		{"HEARTBEAT_TIMEOUT_SECONDS", c.HeartbeatTimeout},
		{"NEVER_LAUNCHED_GRACE_SECONDS", c.NeverLaunchedGrace},
		{"CAPTION_DEBOUNCE_SECONDS", c.CaptionDebounce},
		{"AUDIO_WINDOW_SECONDS", c.AudioWindow},
		{"AUDIO_QUIET_AFTER_SECONDS", c.AudioQuietAfter},
		{"WEBHOOK_BACKOFF_SECONDS", c.WebhookBackoff},
		{"SCHEDULER_INTERVAL_SECONDS", c.SchedulerInterval},
	} {
		if pos.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", pos.name, pos.value)
		}
	}
	if c.TargetSampleRate <= 0 {
		return fmt.Errorf("TARGET_SAMPLE_RATE must be positive, got %d", c.TargetSampleRate)
	}
	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive, got %d", c.WebhookMaxAttempts)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultTranscribeLanguage},
		{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
		{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
