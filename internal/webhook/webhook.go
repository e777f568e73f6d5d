package webhook

import "context"

// Recognized trigger types subscribers can register for.
const (
	TriggerBotStateChange     = "bot.state_change"
	TriggerTranscriptUpdate   = "transcript.update"
	TriggerChatMessagesUpdate = "chat_messages.update"
	TriggerParticipantEvents  = "participant_events.join_leave"
)

// DeliveryRequest is one signed HTTP delivery to a subscriber URL.
type DeliveryRequest struct {
	URL     string
	Secret  string
	Trigger string
	Payload []byte
}

// Sender performs a single delivery attempt. Implementations sign the payload
// with the subscription secret.
type Sender interface {
	Deliver(ctx context.Context, req DeliveryRequest) error
}
