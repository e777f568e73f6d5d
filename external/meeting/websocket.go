package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intellecta-lk/attendee/internal/adapter"
)

const (
	handshakeTimeout = 10 * time.Second
	joinAckTimeout   = 30 * time.Second
	eventBufferSize  = 256
)

// wireFrame is one JSON message from the meeting stream service. Type matches
// the adapter event types; exactly one payload field is populated.
type wireFrame struct {
	Type        string           `json:"type"`
	Accepted    bool             `json:"accepted,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Participant *wireParticipant `json:"participant,omitempty"`
	Caption     *wireCaption     `json:"caption,omitempty"`
	Chat        *wireChat        `json:"chat,omitempty"`
	Audio       *wireAudio       `json:"audio,omitempty"`
}

type wireParticipant struct {
	UUID     string `json:"uuid"`
	FullName string `json:"full_name"`
	IsTheBot bool   `json:"is_the_bot"`
	Active   bool   `json:"active"`
}

type wireCaption struct {
	CaptionID   string `json:"caption_id"`
	SpeakerUUID string `json:"speaker_uuid"`
	Text        string `json:"text"`
	Final       bool   `json:"final"`
}

type wireChat struct {
	MessageUUID    string          `json:"message_uuid"`
	SenderUUID     string          `json:"sender_uuid"`
	Text           string          `json:"text"`
	Timestamp      time.Time       `json:"timestamp"`
	ToBot          bool            `json:"to_bot"`
	AdditionalData json.RawMessage `json:"additional_data,omitempty"`
}

type wireAudio struct {
	ParticipantUUID string    `json:"participant_uuid"`
	ReceivedAt      time.Time `json:"received_at"`
	PCM             []byte    `json:"pcm"`
	SampleRate      int       `json:"sample_rate"`
}

type wireCommand struct {
	Command    string `json:"command"`
	MeetingURL string `json:"meeting_url,omitempty"`
	BotID      string `json:"bot_id,omitempty"`
}

// WebSocketAdapter drives a meeting through the browser automation stream
// service: commands go out as JSON frames, everything the meeting produces
// comes back the same way.
type WebSocketAdapter struct {
	streamURL  string
	meetingURL string
	botID      string

	writeMu sync.Mutex
	conn    *websocket.Conn

	events    chan adapter.Event
	closeOnce sync.Once
}

func NewWebSocketAdapter(streamURL, meetingURL, botID string) adapter.Adapter {
	return &WebSocketAdapter{
		streamURL:  streamURL,
		meetingURL: meetingURL,
		botID:      botID,
		events:     make(chan adapter.Event, eventBufferSize),
	}
}

func (a *WebSocketAdapter) Join(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, a.streamURL, nil)
	if err != nil {
		// The stream service being unreachable is transient; a fresh attempt
		// gets a new automation session.
		return adapter.NewRetryableJoinError("dial meeting stream", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	a.conn = conn

	if err := a.writeCommand(wireCommand{Command: "join", MeetingURL: a.meetingURL, BotID: a.botID}); err != nil {
		_ = conn.Close()
		return adapter.NewRetryableJoinError("send join command", err)
	}

	ack, err := a.readJoinAck(ctx)
	if err != nil {
		_ = conn.Close()
		return adapter.NewRetryableJoinError("await join acknowledgement", err)
	}
	if !ack.Accepted {
		_ = conn.Close()
		return adapter.NewFatalJoinError(ack.Reason, nil)
	}

	go a.readLoop()
	return nil
}

func (a *WebSocketAdapter) readJoinAck(ctx context.Context) (*wireFrame, error) {
	deadline := time.Now().Add(joinAckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer func() {
		_ = a.conn.SetReadDeadline(time.Time{})
	}()

	for {
		var frame wireFrame
		if err := a.conn.ReadJSON(&frame); err != nil {
			return nil, err
		}
		if frame.Type == "join_ack" {
			return &frame, nil
		}
		// Pre-ack frames (e.g. automation progress) are informational only.
		slog.Debug("discarding pre-ack frame", "type", frame.Type)
	}
}

func (a *WebSocketAdapter) Leave(ctx context.Context) error {
	return a.writeCommand(wireCommand{Command: "leave"})
}

func (a *WebSocketAdapter) PauseMedia() error {
	return a.writeCommand(wireCommand{Command: "pause_media"})
}

func (a *WebSocketAdapter) ResumeMedia() error {
	return a.writeCommand(wireCommand{Command: "resume_media"})
}

func (a *WebSocketAdapter) Events() <-chan adapter.Event {
	return a.events
}

func (a *WebSocketAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.conn != nil {
			err = a.conn.Close()
		}
	})
	return err
}

func (a *WebSocketAdapter) writeCommand(cmd wireCommand) error {
	if a.conn == nil {
		return fmt.Errorf("meeting stream not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(cmd)
}

// readLoop translates stream frames into adapter events until the connection
// closes, then closes the event channel so the consumer observes the end of
// the session.
func (a *WebSocketAdapter) readLoop() {
	defer close(a.events)
	for {
		var frame wireFrame
		if err := a.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Info("meeting stream closed", "error", err)
			} else {
				slog.Warn("meeting stream read failed", "error", err)
			}
			return
		}
		ev, ok := translateFrame(&frame)
		if !ok {
			slog.Debug("ignoring unknown stream frame", "type", frame.Type)
			continue
		}
		a.events <- ev
	}
}

func translateFrame(frame *wireFrame) (adapter.Event, bool) {
	switch adapter.EventType(frame.Type) {
	case adapter.EventBotJoinedMeeting, adapter.EventRecordingPermissionGranted,
		adapter.EventBotPutInWaitingRoom, adapter.EventMeetingEnded, adapter.EventBotLeftMeeting:
		return adapter.Event{Type: adapter.EventType(frame.Type)}, true
	case adapter.EventParticipantUpdate:
		if frame.Participant == nil {
			return adapter.Event{}, false
		}
		return adapter.Event{
			Type: adapter.EventParticipantUpdate,
			Participant: &adapter.ParticipantUpdate{
				UUID:     frame.Participant.UUID,
				FullName: frame.Participant.FullName,
				IsTheBot: frame.Participant.IsTheBot,
				Active:   frame.Participant.Active,
			},
		}, true
	case adapter.EventCaptionUpdate:
		if frame.Caption == nil {
			return adapter.Event{}, false
		}
		return adapter.Event{
			Type: adapter.EventCaptionUpdate,
			Caption: &adapter.CaptionUpdate{
				CaptionID:   frame.Caption.CaptionID,
				SpeakerUUID: frame.Caption.SpeakerUUID,
				Text:        frame.Caption.Text,
				Final:       frame.Caption.Final,
			},
		}, true
	case adapter.EventChatMessage:
		if frame.Chat == nil {
			return adapter.Event{}, false
		}
		return adapter.Event{
			Type: adapter.EventChatMessage,
			Chat: &adapter.ChatMessageEvent{
				MessageUUID:    frame.Chat.MessageUUID,
				SenderUUID:     frame.Chat.SenderUUID,
				Text:           frame.Chat.Text,
				Timestamp:      frame.Chat.Timestamp,
				ToBot:          frame.Chat.ToBot,
				AdditionalData: frame.Chat.AdditionalData,
			},
		}, true
	case adapter.EventAudioFrame:
		if frame.Audio == nil {
			return adapter.Event{}, false
		}
		return adapter.Event{
			Type: adapter.EventAudioFrame,
			Audio: &adapter.AudioFrame{
				ParticipantUUID: frame.Audio.ParticipantUUID,
				ReceivedAt:      frame.Audio.ReceivedAt,
				PCM:             frame.Audio.PCM,
				SampleRate:      frame.Audio.SampleRate,
			},
		}, true
	default:
		return adapter.Event{}, false
	}
}
