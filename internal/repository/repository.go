package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrIllegalTransition is returned when a state transition is attempted
	// from a state outside the event's allowed source set. When two legitimate
	// triggers race, the loser receives this and must treat it as already
	// handled.
	ErrIllegalTransition = errors.New("illegal state transition")

	ErrNotFound = errors.New("not found")
)

type CreateBotInput struct {
	ProjectID  uuid.UUID
	MeetingURL string
	State      BotState
	JoinAt     *time.Time
	Settings   json.RawMessage
}

type ApplyTransitionInput struct {
	BotID        uuid.UUID
	EventType    string
	EventSubType string
	AllowedFrom  []BotState
	NewState     BotState
	Metadata     json.RawMessage
}

type BotRepository interface {
	CreateBot(ctx context.Context, input CreateBotInput) (*Bot, error)
	GetBot(ctx context.Context, id uuid.UUID) (*Bot, error)
	// ApplyTransition re-reads the bot's state under a row lock, rejects with
	// ErrIllegalTransition if it is not in AllowedFrom, and otherwise writes
	// the new state and appends one BotEvent in the same transaction. The
	// returned bot reflects the committed row, so callers never need a
	// second read that could fail after the transition is already durable.
	ApplyTransition(ctx context.Context, input ApplyTransitionInput) (*Bot, *BotEvent, error)
	RecordHeartbeat(ctx context.Context, botID uuid.UUID, at time.Time) error
	ListBotEvents(ctx context.Context, botID uuid.UUID) ([]BotEvent, error)
	ListNonTerminalBots(ctx context.Context) ([]Bot, error)
	// ClaimScheduledBots locks SCHEDULED bots whose join_at falls within
	// [lower, upper] and invokes claim for each one while the locks are
	// still held, so two concurrent schedulers cannot dispatch the same
	// bot. It reports how many bots were claimed.
	ClaimScheduledBots(ctx context.Context, lower, upper time.Time, claim func(Bot)) (int, error)
}

type CreateRecordingInput struct {
	BotID             uuid.UUID
	IsDefault         bool
	TranscriptionType string
}

type RecordingRepository interface {
	CreateRecording(ctx context.Context, input CreateRecordingInput) (*Recording, error)
	GetDefaultRecording(ctx context.Context, botID uuid.UUID) (*Recording, error)
	// MarkRecordingInProgress sets started_at only if it is not already set,
	// so pause/resume never resets the original start time.
	MarkRecordingInProgress(ctx context.Context, recordingID uuid.UUID, startedAt time.Time) error
	MarkRecordingComplete(ctx context.Context, recordingID uuid.UUID) error
	MarkRecordingFailed(ctx context.Context, recordingID uuid.UUID, failureData json.RawMessage) error
}

type UpsertParticipantInput struct {
	BotID    uuid.UUID
	UUID     string
	FullName string
	IsTheBot bool
	Active   bool
}

type ParticipantRepository interface {
	// UpsertParticipant creates or updates a participant keyed by the
	// platform-assigned UUID and reports whether it was active beforehand.
	UpsertParticipant(ctx context.Context, input UpsertParticipantInput) (p *Participant, wasActive bool, existed bool, err error)
	InsertParticipantEvent(ctx context.Context, participantID uuid.UUID, eventType ParticipantEventType, at time.Time) (*ParticipantEvent, error)
	GetParticipantByUUID(ctx context.Context, botID uuid.UUID, platformUUID string) (*Participant, error)
}

type InsertUtteranceInput struct {
	RecordingID   uuid.UUID
	ParticipantID uuid.UUID
	Source        UtteranceSource
	TimestampMs   int64
	DurationMs    int64
	Transcription json.RawMessage
	FailureData   json.RawMessage
}

type UtteranceRepository interface {
	InsertUtterance(ctx context.Context, input InsertUtteranceInput) (*Utterance, error)
	ListUtterancesByRecording(ctx context.Context, recordingID uuid.UUID) ([]Utterance, error)
}

type InsertChatMessageInput struct {
	BotID          uuid.UUID
	ParticipantID  uuid.UUID
	ExternalID     string
	Text           string
	Timestamp      time.Time
	ToBot          bool
	AdditionalData json.RawMessage
}

type ChatRepository interface {
	// InsertChatMessage dedupes on (bot, external message UUID); inserted is
	// false when the message was already stored.
	InsertChatMessage(ctx context.Context, input InsertChatMessageInput) (msg *ChatMessage, inserted bool, err error)
}

type CreateDeliveryAttemptInput struct {
	SubscriptionID uuid.UUID
	BotID          uuid.UUID
	Trigger        string
	Payload        json.RawMessage
}

type WebhookRepository interface {
	ListActiveSubscriptions(ctx context.Context, projectID uuid.UUID, trigger string) ([]WebhookSubscription, error)
	CreateDeliveryAttempt(ctx context.Context, input CreateDeliveryAttemptInput) (*WebhookDeliveryAttempt, error)
	UpdateDeliveryAttempt(ctx context.Context, attemptID uuid.UUID, status DeliveryStatus, attemptCount int, at time.Time) error
}

type CreditRepository interface {
	// InsertCreditTransaction is idempotent per bot; charging twice is a no-op.
	InsertCreditTransaction(ctx context.Context, botID uuid.UUID, credits int64) error
}

type Repository interface {
	BotRepository
	RecordingRepository
	ParticipantRepository
	UtteranceRepository
	ChatRepository
	WebhookRepository
	CreditRepository
}
