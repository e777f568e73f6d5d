package webhook

import (
	"encoding/json"
	"time"

	"github.com/intellecta-lk/attendee/internal/repository"
)

// Payload shapes are stable per trigger type; subscribers parse them by the
// top-level "trigger" field of the envelope.

type Envelope struct {
	Trigger   string          `json:"trigger"`
	BotID     string          `json:"bot_id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type BotStateChangeData struct {
	EventType    string `json:"event_type"`
	EventSubType string `json:"event_sub_type,omitempty"`
	OldState     string `json:"old_state"`
	NewState     string `json:"new_state"`
	CreatedAt    string `json:"created_at"`
}

type TranscriptUpdateData struct {
	SpeakerName   string           `json:"speaker_name"`
	SpeakerUUID   string           `json:"speaker_uuid"`
	TimestampMs   int64            `json:"timestamp_ms"`
	DurationMs    int64            `json:"duration_ms"`
	Source        string           `json:"source"`
	Transcription *json.RawMessage `json:"transcription"`
}

type ChatMessageData struct {
	MessageUUID string    `json:"message_uuid"`
	SenderUUID  string    `json:"sender_uuid"`
	Text        string    `json:"text"`
	ToBot       bool      `json:"to_bot"`
	Timestamp   time.Time `json:"timestamp"`
}

type ParticipantEventData struct {
	ParticipantUUID string    `json:"participant_uuid"`
	ParticipantName string    `json:"participant_name"`
	EventType       string    `json:"event_type"`
	CreatedAt       time.Time `json:"created_at"`
}

func BotStateChangePayload(event *repository.BotEvent) BotStateChangeData {
	return BotStateChangeData{
		EventType:    event.EventType,
		EventSubType: event.EventSubType,
		OldState:     string(event.OldState),
		NewState:     string(event.NewState),
		CreatedAt:    event.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func TranscriptUpdatePayload(utterance *repository.Utterance, participant *repository.Participant) TranscriptUpdateData {
	var transcription *json.RawMessage
	if utterance.Transcription != nil {
		t := utterance.Transcription
		transcription = &t
	}
	return TranscriptUpdateData{
		SpeakerName:   participant.FullName,
		SpeakerUUID:   participant.UUID,
		TimestampMs:   utterance.TimestampMs,
		DurationMs:    utterance.DurationMs,
		Source:        string(utterance.Source),
		Transcription: transcription,
	}
}

func ChatMessagePayload(msg *repository.ChatMessage, sender *repository.Participant) ChatMessageData {
	return ChatMessageData{
		MessageUUID: msg.ExternalID,
		SenderUUID:  sender.UUID,
		Text:        msg.Text,
		ToBot:       msg.ToBot,
		Timestamp:   msg.Timestamp,
	}
}

func ParticipantEventPayload(event *repository.ParticipantEvent, participant *repository.Participant) ParticipantEventData {
	return ParticipantEventData{
		ParticipantUUID: participant.UUID,
		ParticipantName: participant.FullName,
		EventType:       string(event.EventType),
		CreatedAt:       event.CreatedAt,
	}
}
