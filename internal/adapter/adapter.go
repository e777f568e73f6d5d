package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type EventType string

const (
	EventBotJoinedMeeting           EventType = "bot_joined_meeting"
	EventRecordingPermissionGranted EventType = "recording_permission_granted"
	EventBotPutInWaitingRoom        EventType = "bot_put_in_waiting_room"
	EventParticipantUpdate          EventType = "participant_update"
	EventCaptionUpdate              EventType = "caption_update"
	EventChatMessage                EventType = "chat_message"
	EventAudioFrame                 EventType = "audio_frame"
	EventMeetingEnded               EventType = "meeting_ended"
	EventBotLeftMeeting             EventType = "bot_left_meeting"
)

type ParticipantUpdate struct {
	UUID     string
	FullName string
	IsTheBot bool
	Active   bool
}

type CaptionUpdate struct {
	CaptionID   string
	SpeakerUUID string
	Text        string
	Final       bool
}

type ChatMessageEvent struct {
	MessageUUID    string
	SenderUUID     string
	Text           string
	Timestamp      time.Time
	ToBot          bool
	AdditionalData json.RawMessage
}

type AudioFrame struct {
	ParticipantUUID string
	ReceivedAt      time.Time
	PCM             []byte
	SampleRate      int
}

// Event is the envelope delivered on the adapter's event channel. Exactly one
// payload field matching Type is set.
type Event struct {
	Type        EventType
	Participant *ParticipantUpdate
	Caption     *CaptionUpdate
	Chat        *ChatMessageEvent
	Audio       *AudioFrame
}

// Adapter drives one meeting platform session. Commands are synchronous;
// everything the meeting produces arrives asynchronously on Events.
type Adapter interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	PauseMedia() error
	ResumeMedia() error
	Events() <-chan Event
	Close() error
}

// JoinError distinguishes transient automation failures, which the controller
// retries, from fatal ones, which fail the join immediately.
type JoinError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *JoinError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *JoinError) Unwrap() error { return e.Err }

func NewRetryableJoinError(reason string, err error) *JoinError {
	return &JoinError{Reason: reason, Retryable: true, Err: err}
}

func NewFatalJoinError(reason string, err error) *JoinError {
	return &JoinError{Reason: reason, Retryable: false, Err: err}
}

// IsRetryableJoin reports whether err is a join failure worth another attempt.
func IsRetryableJoin(err error) bool {
	var je *JoinError
	if errors.As(err, &je) {
		return je.Retryable
	}
	return false
}
