package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/repository"
)

// Dispatcher fans domain triggers out to every matching active subscription.
// Each (subscription, event) pair gets one WebhookDeliveryAttempt row; actual
// delivery runs on the runner with bounded retries so a slow subscriber never
// blocks the emitting path.
type Dispatcher struct {
	repo        repository.Repository
	sender      Sender
	runner      dispatch.Runner
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func NewDispatcher(repo repository.Repository, sender Sender, runner dispatch.Runner, maxAttempts int, backoff time.Duration) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		sender:      sender,
		runner:      runner,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		now:         time.Now,
	}
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// NotifyBotStateChange implements lifecycle.StateChangeNotifier.
func (d *Dispatcher) NotifyBotStateChange(ctx context.Context, bot *repository.Bot, event *repository.BotEvent) {
	d.fanOut(ctx, bot.ProjectID, bot.ID, TriggerBotStateChange, BotStateChangePayload(event))
}

func (d *Dispatcher) NotifyTranscriptUpdate(ctx context.Context, projectID uuid.UUID, utterance *repository.Utterance, participant *repository.Participant) {
	d.fanOut(ctx, projectID, participant.BotID, TriggerTranscriptUpdate, TranscriptUpdatePayload(utterance, participant))
}

func (d *Dispatcher) NotifyChatMessage(ctx context.Context, projectID uuid.UUID, msg *repository.ChatMessage, sender *repository.Participant) {
	d.fanOut(ctx, projectID, msg.BotID, TriggerChatMessagesUpdate, ChatMessagePayload(msg, sender))
}

func (d *Dispatcher) NotifyParticipantEvent(ctx context.Context, projectID, botID uuid.UUID, event *repository.ParticipantEvent, participant *repository.Participant) {
	d.fanOut(ctx, projectID, botID, TriggerParticipantEvents, ParticipantEventPayload(event, participant))
}

func (d *Dispatcher) fanOut(ctx context.Context, projectID, botID uuid.UUID, trigger string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal webhook payload", "error", err, "trigger", trigger, "bot_id", botID)
		return
	}
	payload, err := json.Marshal(Envelope{
		Trigger:   trigger,
		BotID:     botID.String(),
		CreatedAt: d.now().UTC(),
		Data:      dataJSON,
	})
	if err != nil {
		slog.Error("failed to marshal webhook envelope", "error", err, "trigger", trigger, "bot_id", botID)
		return
	}

	subscriptions, err := d.repo.ListActiveSubscriptions(ctx, projectID, trigger)
	if err != nil {
		slog.Error("failed to list webhook subscriptions", "error", err, "project_id", projectID, "trigger", trigger)
		return
	}

	for _, sub := range subscriptions {
		if !sub.Active || !slices.Contains(sub.Triggers, trigger) {
			continue
		}
		attempt, err := d.repo.CreateDeliveryAttempt(ctx, repository.CreateDeliveryAttemptInput{
			SubscriptionID: sub.ID,
			BotID:          botID,
			Trigger:        trigger,
			Payload:        payload,
		})
		if err != nil {
			slog.Error("failed to create delivery attempt", "error", err, "subscription_id", sub.ID, "trigger", trigger)
			continue
		}
		sub := sub
		d.runner.Go(func() {
			d.deliverWithRetry(sub, attempt, payload)
		})
	}
}

func (d *Dispatcher) deliverWithRetry(sub repository.WebhookSubscription, attempt *repository.WebhookDeliveryAttempt, payload []byte) {
	ctx := context.Background()
	var lastErr error
	for i := 1; i <= d.maxAttempts; i++ {
		lastErr = d.sender.Deliver(ctx, DeliveryRequest{
			URL:     sub.URL,
			Secret:  sub.Secret,
			Trigger: attempt.Trigger,
			Payload: payload,
		})
		if lastErr == nil {
			if err := d.repo.UpdateDeliveryAttempt(ctx, attempt.ID, repository.DeliveryStatusSuccess, i, d.now()); err != nil {
				slog.Error("failed to mark delivery attempt success", "error", err, "attempt_id", attempt.ID)
			}
			return
		}
		slog.Warn("webhook delivery failed",
			"error", lastErr, "url", sub.URL, "trigger", attempt.Trigger, "attempt", i, "max_attempts", d.maxAttempts)
		if i < d.maxAttempts {
			time.Sleep(d.backoff * time.Duration(i))
		}
	}
	if err := d.repo.UpdateDeliveryAttempt(ctx, attempt.ID, repository.DeliveryStatusFailed, d.maxAttempts, d.now()); err != nil {
		slog.Error("failed to mark delivery attempt failed", "error", err, "attempt_id", attempt.ID)
	}
}
