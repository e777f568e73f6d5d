package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BotState string

const (
	BotStateScheduled             BotState = "scheduled"
	BotStateReady                 BotState = "ready"
	BotStateJoining               BotState = "joining"
	BotStateJoinedNotRecording    BotState = "joined_not_recording"
	BotStateJoinedRecording       BotState = "joined_recording"
	BotStateJoinedRecordingPaused BotState = "joined_recording_paused"
	BotStateLeaving               BotState = "leaving"
	BotStatePostProcessing        BotState = "post_processing"
	BotStateEnded                 BotState = "ended"
	BotStateFatalError            BotState = "fatal_error"
)

type Bot struct {
	ID               uuid.UUID
	ProjectID        uuid.UUID
	MeetingURL       string
	State            BotState
	JoinAt           *time.Time
	FirstHeartbeatAt *time.Time
	LastHeartbeatAt  *time.Time
	Settings         json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PodName is the name of the compute unit running this bot, handed to the
// orchestration collaborator when the bot must be torn down externally.
func (b *Bot) PodName() string {
	return fmt.Sprintf("bot-pod-%s", b.ID)
}

type BotEvent struct {
	ID           uuid.UUID
	BotID        uuid.UUID
	EventType    string
	EventSubType string
	OldState     BotState
	NewState     BotState
	Metadata     json.RawMessage
	CreatedAt    time.Time
}

type RecordingState string

const (
	RecordingStateNotStarted RecordingState = "not_started"
	RecordingStateInProgress RecordingState = "in_progress"
	RecordingStateComplete   RecordingState = "complete"
	RecordingStateFailed     RecordingState = "failed"
)

type UtteranceSource string

const (
	UtteranceSourcePerParticipantAudio UtteranceSource = "per_participant_audio"
	UtteranceSourceClosedCaption       UtteranceSource = "closed_caption_from_platform"
)

type Recording struct {
	ID                 uuid.UUID
	BotID              uuid.UUID
	IsDefault          bool
	TranscriptionType  string
	State              RecordingState
	TranscriptionState RecordingState
	StartedAt          *time.Time
	FailureData        json.RawMessage
	CreatedAt          time.Time
}

type Participant struct {
	ID        uuid.UUID
	BotID     uuid.UUID
	UUID      string
	FullName  string
	IsTheBot  bool
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ParticipantEventType string

const (
	ParticipantEventJoin  ParticipantEventType = "join"
	ParticipantEventLeave ParticipantEventType = "leave"
)

type ParticipantEvent struct {
	ID            uuid.UUID
	ParticipantID uuid.UUID
	EventType     ParticipantEventType
	CreatedAt     time.Time
}

type Utterance struct {
	ID            uuid.UUID
	RecordingID   uuid.UUID
	ParticipantID uuid.UUID
	Source        UtteranceSource
	TimestampMs   int64
	DurationMs    int64
	Transcription json.RawMessage
	FailureData   json.RawMessage
	CreatedAt     time.Time
}

type ChatMessage struct {
	ID             uuid.UUID
	BotID          uuid.UUID
	ParticipantID  uuid.UUID
	ExternalID     string
	Text           string
	Timestamp      time.Time
	ToBot          bool
	AdditionalData json.RawMessage
	CreatedAt      time.Time
}

type WebhookSubscription struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	URL       string
	Triggers  []string
	Active    bool
	Secret    string
	CreatedAt time.Time
}

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

type WebhookDeliveryAttempt struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	BotID          uuid.UUID
	Trigger        string
	Payload        json.RawMessage
	Status         DeliveryStatus
	AttemptCount   int
	LastAttemptAt  *time.Time
	CreatedAt      time.Time
}

type CreditTransaction struct {
	ID        uuid.UUID
	BotID     uuid.UUID
	Credits   int64
	CreatedAt time.Time
}
