package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/intellecta-lk/attendee/internal/audio"
	"github.com/intellecta-lk/attendee/internal/captions"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/repository"
)

// NotifyFunc is called after an utterance row is committed, with the speaking
// participant resolved.
type NotifyFunc func(ctx context.Context, utterance *repository.Utterance, participant *repository.Participant)

// Dispatcher routes finalized audio segments and captions into Utterance rows.
// Provider work runs on the injected runner so callers never block on a
// network round trip.
type Dispatcher struct {
	repo     repository.Repository
	provider Provider
	language string
	runner   dispatch.Runner
	notify   NotifyFunc
}

func NewDispatcher(repo repository.Repository, provider Provider, language string, runner dispatch.Runner, notify NotifyFunc) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		provider: provider,
		language: language,
		runner:   runner,
		notify:   notify,
	}
}

// DispatchSegment hands one audio segment to the transcription provider and
// persists the outcome. Provider failure is recorded on the utterance as
// failure data; it never fails the recording.
func (d *Dispatcher) DispatchSegment(ctx context.Context, recording *repository.Recording, seg audio.Segment) {
	d.runner.Go(func() {
		participant, err := d.resolveParticipant(ctx, recording.BotID, seg.ParticipantUUID)
		if err != nil {
			slog.Error("failed to resolve participant for audio segment",
				"error", err, "bot_id", recording.BotID, "participant_uuid", seg.ParticipantUUID)
			return
		}

		input := repository.InsertUtteranceInput{
			RecordingID:   recording.ID,
			ParticipantID: participant.ID,
			Source:        repository.UtteranceSourcePerParticipantAudio,
			TimestampMs:   relativeMs(recording, seg.FirstReceivedAt),
			DurationMs:    seg.DurationMs,
		}

		result, err := d.provider.Transcribe(ctx, seg.PCM, seg.SampleRate, d.language)
		if err != nil {
			slog.Warn("transcription provider failed; recording failure on utterance",
				"error", err, "recording_id", recording.ID, "participant_uuid", seg.ParticipantUUID)
			input.FailureData = mustJSON(map[string]string{"error": err.Error()})
		} else {
			input.Transcription = mustJSON(result)
		}

		utterance, err := d.repo.InsertUtterance(ctx, input)
		if err != nil {
			slog.Error("failed to insert utterance", "error", err, "recording_id", recording.ID)
			return
		}
		if d.notify != nil && utterance.FailureData == nil {
			d.notify(ctx, utterance, participant)
		}
	})
}

// DispatchCaption persists one finalized platform caption. Captions are
// already text, so no provider round trip happens.
func (d *Dispatcher) DispatchCaption(ctx context.Context, recording *repository.Recording, f captions.Final) {
	d.runner.Go(func() {
		participant, err := d.resolveParticipant(ctx, recording.BotID, f.SpeakerUUID)
		if err != nil {
			slog.Error("failed to resolve participant for caption",
				"error", err, "bot_id", recording.BotID, "participant_uuid", f.SpeakerUUID)
			return
		}

		utterance, err := d.repo.InsertUtterance(ctx, repository.InsertUtteranceInput{
			RecordingID:   recording.ID,
			ParticipantID: participant.ID,
			Source:        repository.UtteranceSourceClosedCaption,
			TimestampMs:   relativeMs(recording, f.FirstSeenAt),
			DurationMs:    f.LastSeenAt.Sub(f.FirstSeenAt).Milliseconds(),
			Transcription: mustJSON(Result{Transcript: f.Text}),
		})
		if err != nil {
			slog.Error("failed to insert caption utterance", "error", err, "recording_id", recording.ID)
			return
		}
		if d.notify != nil {
			d.notify(ctx, utterance, participant)
		}
	})
}

func (d *Dispatcher) resolveParticipant(ctx context.Context, botID uuid.UUID, platformUUID string) (*repository.Participant, error) {
	participant, err := d.repo.GetParticipantByUUID(ctx, botID, platformUUID)
	if err == nil {
		return participant, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	// Media can arrive before the first participant roster update.
	participant, _, _, err = d.repo.UpsertParticipant(ctx, repository.UpsertParticipantInput{
		BotID:  botID,
		UUID:   platformUUID,
		Active: false,
	})
	return participant, err
}

func relativeMs(recording *repository.Recording, at time.Time) int64 {
	if recording.StartedAt == nil {
		return at.UnixMilli()
	}
	ms := at.Sub(*recording.StartedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
