package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intellecta-lk/attendee/internal/adapter"
	"github.com/intellecta-lk/attendee/internal/audio"
	"github.com/intellecta-lk/attendee/internal/captions"
	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/lifecycle"
	"github.com/intellecta-lk/attendee/internal/repository"
	"github.com/intellecta-lk/attendee/internal/storage"
	"github.com/intellecta-lk/attendee/internal/transcription"
	"github.com/intellecta-lk/attendee/internal/webhook"
)

const (
	joinAttemptCap     = 2
	heartbeatInterval  = 10 * time.Second
	leaveCompleteGrace = 60 * time.Second
	defaultCleanupWait = 10 * time.Second
)

// ErrStopped is returned by command methods after the run loop has exited.
var ErrStopped = errors.New("controller stopped")

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdLeave
)

type command struct {
	kind    commandKind
	subType string
	reply   chan error
}

// Controller owns the runtime of exactly one bot for one join attempt. A
// single goroutine consumes adapter events, operator commands and timer ticks
// in one loop; anything that touches the network is pushed onto the runner so
// the tick cadence never starves.
type Controller struct {
	cfg      *config.Config
	repo     repository.Repository
	events   *lifecycle.EventManager
	adapter  adapter.Adapter
	webhooks *webhook.Dispatcher
	runner   dispatch.Runner
	uploader storage.Uploader

	bot       *repository.Bot
	recording *repository.Recording

	aggregator  *audio.Aggregator
	captionBuf  *captions.Buffer
	transcripts *transcription.Dispatcher

	commands chan command
	ticks    <-chan time.Time
	now      func() time.Time

	cleanupWait time.Duration
	cleanupOnce sync.Once
	stop        chan struct{}
	done        chan struct{}

	// Everything below is owned by the run loop goroutine.
	recordingPaused    bool
	finished           bool
	leaveRequested     bool
	leaveRequestedAt   time.Time
	lastAudioAt        time.Time
	silenceActivated   bool
	silenceActivatedAt time.Time
	aloneSince         *time.Time
	waitingRoomSince   *time.Time
	lastHeartbeatAt    time.Time
	activeOthers       map[string]struct{}
}

func New(cfg *config.Config, repo repository.Repository, events *lifecycle.EventManager, ad adapter.Adapter, webhooks *webhook.Dispatcher, provider transcription.Provider, runner dispatch.Runner, bot *repository.Bot) *Controller {
	c := &Controller{
		cfg:          cfg,
		repo:         repo,
		events:       events,
		adapter:      ad,
		webhooks:     webhooks,
		runner:       runner,
		bot:          bot,
		aggregator:   audio.NewAggregator(cfg.AudioWindow, cfg.AudioQuietAfter, cfg.TargetSampleRate),
		captionBuf:   captions.NewBuffer(cfg.CaptionDebounce),
		commands:     make(chan command, 8),
		now:          time.Now,
		cleanupWait:  defaultCleanupWait,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		activeOthers: make(map[string]struct{}),
	}
	c.transcripts = transcription.NewDispatcher(repo, provider, cfg.DefaultTranscribeLanguage, runner,
		func(ctx context.Context, u *repository.Utterance, p *repository.Participant) {
			if webhooks != nil {
				webhooks.NotifyTranscriptUpdate(ctx, bot.ProjectID, u, p)
			}
		})
	return c
}

// SetUploader attaches the optional object-storage collaborator used during
// post-processing.
func (c *Controller) SetUploader(u storage.Uploader) {
	c.uploader = u
}

// SetClock overrides the wall clock, for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.aggregator.SetClock(now)
	c.captionBuf.SetClock(now)
}

// SetTicks replaces the internal one second ticker, for tests.
func (c *Controller) SetTicks(ticks <-chan time.Time) {
	c.ticks = ticks
}

// Run drives the bot from JOIN_REQUESTED until a terminal outcome or until
// Cleanup is invoked. It blocks; callers run it on a dedicated goroutine.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	if err := c.ensureRecording(ctx); err != nil {
		return err
	}

	if _, err := c.events.CreateEvent(ctx, c.bot.ID, lifecycle.EventJoinRequested, "", nil); err != nil {
		return err
	}

	if err := c.joinWithRetry(ctx); err != nil {
		return err
	}

	if c.ticks == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		c.ticks = ticker.C
	}

	for !c.finished {
		select {
		case <-ctx.Done():
			c.drainOnExit(context.Background())
			return ctx.Err()
		case <-c.stop:
			c.drainOnExit(ctx)
			return nil
		case ev, ok := <-c.adapter.Events():
			if !ok {
				c.completeLeaving(ctx)
				continue
			}
			c.handleEvent(ctx, ev)
		case cmd := <-c.commands:
			cmd.reply <- c.handleCommand(ctx, cmd)
		case now := <-c.ticks:
			c.handleTick(ctx, now)
		}
	}
	return nil
}

// Cleanup signals the run loop to exit and releases the adapter. It is
// idempotent, safe to call from any goroutine, and bounded: an unresponsive
// loop or adapter cannot hang it.
func (c *Controller) Cleanup() {
	c.cleanupOnce.Do(func() {
		close(c.stop)
		select {
		case <-c.done:
		case <-time.After(c.cleanupWait):
			slog.Warn("controller did not stop within cleanup wait; force releasing adapter", "bot_id", c.bot.ID)
		}
		if err := c.adapter.Close(); err != nil {
			slog.Error("failed to close meeting adapter", "error", err, "bot_id", c.bot.ID)
		}
	})
}

func (c *Controller) PauseRecording(ctx context.Context) error {
	return c.sendCommand(ctx, command{kind: cmdPause, reply: make(chan error, 1)})
}

func (c *Controller) ResumeRecording(ctx context.Context) error {
	return c.sendCommand(ctx, command{kind: cmdResume, reply: make(chan error, 1)})
}

func (c *Controller) RequestLeave(ctx context.Context, subType string) error {
	return c.sendCommand(ctx, command{kind: cmdLeave, subType: subType, reply: make(chan error, 1)})
}

func (c *Controller) sendCommand(ctx context.Context, cmd command) error {
	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) ensureRecording(ctx context.Context) error {
	rec, err := c.repo.GetDefaultRecording(ctx, c.bot.ID)
	if errors.Is(err, repository.ErrNotFound) {
		rec, err = c.repo.CreateRecording(ctx, repository.CreateRecordingInput{
			BotID:             c.bot.ID,
			IsDefault:         true,
			TranscriptionType: string(repository.UtteranceSourcePerParticipantAudio),
		})
	}
	if err != nil {
		return fmt.Errorf("ensure default recording for bot %s: %w", c.bot.ID, err)
	}
	c.recording = rec
	return nil
}

func (c *Controller) joinWithRetry(ctx context.Context) error {
	var joinErr error
	for attempt := 1; attempt <= joinAttemptCap; attempt++ {
		joinErr = c.adapter.Join(ctx)
		if joinErr == nil {
			return nil
		}
		if !adapter.IsRetryableJoin(joinErr) {
			break
		}
		slog.Warn("retryable join failure", "error", joinErr, "bot_id", c.bot.ID, "attempt", attempt, "cap", joinAttemptCap)
	}

	subType := lifecycle.SubTypeRequestDenied
	if adapter.IsRetryableJoin(joinErr) {
		subType = lifecycle.SubTypeJoinRetriesExhausted
	} else {
		var je *adapter.JoinError
		if errors.As(joinErr, &je) && je.Reason != "" {
			subType = je.Reason
		}
	}
	metadata, _ := json.Marshal(map[string]string{"error": joinErr.Error()})
	if _, err := c.events.CreateEvent(ctx, c.bot.ID, lifecycle.EventCouldNotJoin, subType, metadata); err != nil {
		slog.Error("failed to record could-not-join", "error", err, "bot_id", c.bot.ID)
	}
	return fmt.Errorf("join meeting: %w", joinErr)
}

func (c *Controller) handleEvent(ctx context.Context, ev adapter.Event) {
	switch ev.Type {
	case adapter.EventBotJoinedMeeting:
		c.waitingRoomSince = nil
		c.createEventIgnoringRace(ctx, lifecycle.EventBotJoinedMeeting, "")
	case adapter.EventRecordingPermissionGranted:
		c.handleRecordingPermissionGranted(ctx)
	case adapter.EventBotPutInWaitingRoom:
		now := c.now()
		c.waitingRoomSince = &now
	case adapter.EventAudioFrame:
		c.handleAudioFrame(ev.Audio)
	case adapter.EventCaptionUpdate:
		if final := c.captionBuf.Upsert(*ev.Caption); final != nil {
			c.persistCaption(ctx, *final)
		}
	case adapter.EventParticipantUpdate:
		c.handleParticipantUpdate(ctx, *ev.Participant)
	case adapter.EventChatMessage:
		c.handleChatMessage(ctx, *ev.Chat)
	case adapter.EventMeetingEnded:
		c.requestLeave(ctx, lifecycle.SubTypeMeetingEnded)
	case adapter.EventBotLeftMeeting:
		c.completeLeaving(ctx)
	default:
		slog.Debug("ignoring unknown adapter event", "type", ev.Type, "bot_id", c.bot.ID)
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdPause:
		if _, err := c.events.CreateEvent(ctx, c.bot.ID, lifecycle.EventRecordingPaused, "", nil); err != nil {
			return err
		}
		c.recordingPaused = true
		if err := c.adapter.PauseMedia(); err != nil {
			slog.Error("failed to pause media", "error", err, "bot_id", c.bot.ID)
		}
		return nil
	case cmdResume:
		if _, err := c.events.CreateEvent(ctx, c.bot.ID, lifecycle.EventRecordingResumed, "", nil); err != nil {
			return err
		}
		c.recordingPaused = false
		if err := c.adapter.ResumeMedia(); err != nil {
			slog.Error("failed to resume media", "error", err, "bot_id", c.bot.ID)
		}
		return nil
	case cmdLeave:
		c.requestLeave(ctx, cmd.subType)
		return nil
	}
	return fmt.Errorf("unknown controller command %d", cmd.kind)
}

func (c *Controller) handleRecordingPermissionGranted(ctx context.Context) {
	c.createEventIgnoringRace(ctx, lifecycle.EventRecordingPermissionGranted, "")
	now := c.now()
	if err := c.repo.MarkRecordingInProgress(ctx, c.recording.ID, now); err != nil {
		slog.Error("failed to mark recording in progress", "error", err, "recording_id", c.recording.ID)
	}
	if c.recording.StartedAt == nil {
		c.recording.StartedAt = &now
	}
	c.recording.State = repository.RecordingStateInProgress
	// Start the silence clock at the moment recording begins.
	c.lastAudioAt = now
	c.silenceActivated = false
}

func (c *Controller) handleAudioFrame(frame *adapter.AudioFrame) {
	c.lastAudioAt = frame.ReceivedAt
	c.silenceActivated = false
	if c.recordingPaused {
		return
	}
	if err := c.aggregator.AddChunk(frame.ParticipantUUID, frame.ReceivedAt, frame.PCM, frame.SampleRate); err != nil {
		slog.Warn("failed to buffer audio chunk", "error", err, "bot_id", c.bot.ID, "participant_uuid", frame.ParticipantUUID)
	}
}

func (c *Controller) handleParticipantUpdate(ctx context.Context, u adapter.ParticipantUpdate) {
	participant, wasActive, existed, err := c.repo.UpsertParticipant(ctx, repository.UpsertParticipantInput{
		BotID:    c.bot.ID,
		UUID:     u.UUID,
		FullName: u.FullName,
		IsTheBot: u.IsTheBot,
		Active:   u.Active,
	})
	if err != nil {
		slog.Error("failed to upsert participant", "error", err, "bot_id", c.bot.ID, "participant_uuid", u.UUID)
		return
	}

	joined := u.Active && (!existed || !wasActive)
	left := !u.Active && existed && wasActive
	if joined || left {
		eventType := repository.ParticipantEventJoin
		if left {
			eventType = repository.ParticipantEventLeave
		}
		event, err := c.repo.InsertParticipantEvent(ctx, participant.ID, eventType, c.now())
		if err != nil {
			slog.Error("failed to insert participant event", "error", err, "participant_id", participant.ID)
		} else if c.webhooks != nil {
			c.webhooks.NotifyParticipantEvent(ctx, c.bot.ProjectID, c.bot.ID, event, participant)
		}
	}

	if !u.IsTheBot {
		if u.Active {
			c.activeOthers[u.UUID] = struct{}{}
		} else {
			delete(c.activeOthers, u.UUID)
		}
	}
	if len(c.activeOthers) == 0 {
		if c.aloneSince == nil {
			now := c.now()
			c.aloneSince = &now
		}
	} else {
		c.aloneSince = nil
	}
}

func (c *Controller) handleChatMessage(ctx context.Context, ev adapter.ChatMessageEvent) {
	sender, err := c.repo.GetParticipantByUUID(ctx, c.bot.ID, ev.SenderUUID)
	if errors.Is(err, repository.ErrNotFound) {
		sender, _, _, err = c.repo.UpsertParticipant(ctx, repository.UpsertParticipantInput{
			BotID: c.bot.ID,
			UUID:  ev.SenderUUID,
		})
	}
	if err != nil {
		slog.Error("failed to resolve chat sender", "error", err, "bot_id", c.bot.ID, "sender_uuid", ev.SenderUUID)
		return
	}

	msg, inserted, err := c.repo.InsertChatMessage(ctx, repository.InsertChatMessageInput{
		BotID:          c.bot.ID,
		ParticipantID:  sender.ID,
		ExternalID:     ev.MessageUUID,
		Text:           ev.Text,
		Timestamp:      ev.Timestamp,
		ToBot:          ev.ToBot,
		AdditionalData: ev.AdditionalData,
	})
	if err != nil {
		slog.Error("failed to insert chat message", "error", err, "bot_id", c.bot.ID)
		return
	}
	if !inserted {
		return
	}
	if c.webhooks != nil {
		c.webhooks.NotifyChatMessage(ctx, c.bot.ProjectID, msg, sender)
	}
}

func (c *Controller) handleTick(ctx context.Context, now time.Time) {
	if now.Sub(c.lastHeartbeatAt) >= heartbeatInterval {
		if err := c.repo.RecordHeartbeat(ctx, c.bot.ID, now); err != nil {
			slog.Error("failed to record heartbeat", "error", err, "bot_id", c.bot.ID)
		} else {
			c.lastHeartbeatAt = now
		}
	}

	if c.waitingRoomSince != nil && now.Sub(*c.waitingRoomSince) > c.cfg.WaitingRoomTimeout {
		c.createEventIgnoringRace(ctx, lifecycle.EventCouldNotJoin, lifecycle.SubTypeWaitingRoomTimeout)
		c.finished = true
		return
	}

	if c.leaveRequested {
		if now.Sub(c.leaveRequestedAt) > leaveCompleteGrace {
			slog.Warn("adapter never confirmed leave; completing anyway", "bot_id", c.bot.ID)
			c.completeLeaving(ctx)
		}
	} else {
		c.evaluateAutoLeave(ctx, now)
	}

	c.flushAudio(ctx)
	for _, final := range c.captionBuf.FlushStale() {
		c.persistCaption(ctx, final)
	}
}

func (c *Controller) evaluateAutoLeave(ctx context.Context, now time.Time) {
	if c.aloneSince != nil && now.Sub(*c.aloneSince) > c.cfg.OnlyParticipantTimeout {
		c.requestLeave(ctx, lifecycle.SubTypeAutoLeaveOnlyParticipant)
		return
	}

	if c.lastAudioAt.IsZero() {
		return
	}
	if !c.silenceActivated {
		if now.Sub(c.lastAudioAt) >= c.cfg.SilenceActivateAfter {
			c.silenceActivated = true
			c.silenceActivatedAt = now
			slog.Info("silence detection activated", "bot_id", c.bot.ID, "last_audio_at", c.lastAudioAt)
		}
		return
	}
	if now.Sub(c.silenceActivatedAt) >= c.cfg.SilenceLeaveAfter {
		c.requestLeave(ctx, lifecycle.SubTypeAutoLeaveSilence)
	}
}

func (c *Controller) flushAudio(ctx context.Context) {
	segments := c.aggregator.Flush()
	if c.recordingPaused {
		// Segments finalizing while paused are discarded outright.
		if len(segments) > 0 {
			slog.Debug("discarding audio segments finalized during pause", "bot_id", c.bot.ID, "count", len(segments))
		}
		return
	}
	for _, seg := range segments {
		c.transcripts.DispatchSegment(ctx, c.recording, seg)
	}
}

func (c *Controller) persistCaption(ctx context.Context, final captions.Final) {
	if c.recordingPaused {
		slog.Debug("discarding caption finalized during pause", "bot_id", c.bot.ID, "caption_id", final.CaptionID)
		return
	}
	c.transcripts.DispatchCaption(ctx, c.recording, final)
}

func (c *Controller) requestLeave(ctx context.Context, subType string) {
	if c.leaveRequested {
		return
	}
	if _, err := c.events.CreateEvent(ctx, c.bot.ID, lifecycle.EventLeaveRequested, subType, nil); err != nil {
		if errors.Is(err, repository.ErrIllegalTransition) {
			// A racing trigger already moved the bot; nothing to do.
			return
		}
		slog.Error("failed to record leave request", "error", err, "bot_id", c.bot.ID, "sub_type", subType)
		return
	}
	c.leaveRequested = true
	c.leaveRequestedAt = c.now()
	if err := c.adapter.Leave(ctx); err != nil {
		slog.Error("failed to issue leave command", "error", err, "bot_id", c.bot.ID)
	}
}

func (c *Controller) completeLeaving(ctx context.Context) {
	if c.finished {
		return
	}
	c.createEventIgnoringRace(ctx, lifecycle.EventBotLeftMeeting, "")
	c.postProcess(ctx)
	c.createEventIgnoringRace(ctx, lifecycle.EventPostProcessingCompleted, "")
	c.finished = true
}

func (c *Controller) postProcess(ctx context.Context) {
	if !c.recordingPaused {
		for _, seg := range c.aggregator.FlushAll() {
			c.transcripts.DispatchSegment(ctx, c.recording, seg)
		}
		for _, final := range c.captionBuf.FlushAll() {
			c.persistCaption(ctx, final)
		}
	}
	if err := c.repo.MarkRecordingComplete(ctx, c.recording.ID); err != nil {
		slog.Error("failed to mark recording complete", "error", err, "recording_id", c.recording.ID)
	}
	if c.uploader != nil {
		if err := c.uploader.WaitForUpload(ctx); err != nil {
			slog.Error("failed waiting for recording upload", "error", err, "recording_id", c.recording.ID)
		}
	}
}

func (c *Controller) drainOnExit(ctx context.Context) {
	if c.finished {
		return
	}
	if !c.recordingPaused {
		for _, seg := range c.aggregator.FlushAll() {
			c.transcripts.DispatchSegment(ctx, c.recording, seg)
		}
		for _, final := range c.captionBuf.FlushAll() {
			c.persistCaption(ctx, final)
		}
	}
}

// createEventIgnoringRace applies a transition, treating an illegal-transition
// rejection as a benign race loss rather than an error.
func (c *Controller) createEventIgnoringRace(ctx context.Context, eventType, subType string) {
	if _, err := c.events.CreateEvent(ctx, c.bot.ID, eventType, subType, nil); err != nil {
		if errors.Is(err, repository.ErrIllegalTransition) {
			slog.Debug("transition already handled elsewhere", "bot_id", c.bot.ID, "event_type", eventType)
			return
		}
		slog.Error("failed to record bot event", "error", err, "bot_id", c.bot.ID, "event_type", eventType)
	}
}
