// Package testutil provides an in-memory repository implementation shared by
// package tests.
package testutil

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intellecta-lk/attendee/internal/repository"
)

type FakeRepository struct {
	mu sync.Mutex

	Bots             map[uuid.UUID]*repository.Bot
	Events           map[uuid.UUID][]repository.BotEvent
	Recordings       map[uuid.UUID]*repository.Recording
	Participants     map[uuid.UUID][]*repository.Participant
	ParticipantEvts  []repository.ParticipantEvent
	Utterances       []repository.Utterance
	ChatMessages     []repository.ChatMessage
	Subscriptions    []repository.WebhookSubscription
	DeliveryAttempts map[uuid.UUID]*repository.WebhookDeliveryAttempt
	Credits          map[uuid.UUID]int64

	TransitionErr error
}

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		Bots:             make(map[uuid.UUID]*repository.Bot),
		Events:           make(map[uuid.UUID][]repository.BotEvent),
		Recordings:       make(map[uuid.UUID]*repository.Recording),
		Participants:     make(map[uuid.UUID][]*repository.Participant),
		DeliveryAttempts: make(map[uuid.UUID]*repository.WebhookDeliveryAttempt),
		Credits:          make(map[uuid.UUID]int64),
	}
}

// SeedBot registers a bot in the given state and returns it.
func (f *FakeRepository) SeedBot(state repository.BotState) *repository.Bot {
	f.mu.Lock()
	defer f.mu.Unlock()
	bot := &repository.Bot{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		State:     state,
		CreatedAt: time.Now(),
	}
	f.Bots[bot.ID] = bot
	return bot
}

func (f *FakeRepository) CreateBot(_ context.Context, input repository.CreateBotInput) (*repository.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bot := &repository.Bot{
		ID:         uuid.New(),
		ProjectID:  input.ProjectID,
		MeetingURL: input.MeetingURL,
		State:      input.State,
		JoinAt:     input.JoinAt,
		Settings:   input.Settings,
		CreatedAt:  time.Now(),
	}
	f.Bots[bot.ID] = bot
	return bot, nil
}

func (f *FakeRepository) GetBot(_ context.Context, id uuid.UUID) (*repository.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bot, ok := f.Bots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *bot
	return &copied, nil
}

func (f *FakeRepository) ApplyTransition(_ context.Context, input repository.ApplyTransitionInput) (*repository.Bot, *repository.BotEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransitionErr != nil {
		return nil, nil, f.TransitionErr
	}
	bot, ok := f.Bots[input.BotID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	if !slices.Contains(input.AllowedFrom, bot.State) {
		return nil, nil, repository.ErrIllegalTransition
	}
	event := repository.BotEvent{
		ID:           uuid.New(),
		BotID:        input.BotID,
		EventType:    input.EventType,
		EventSubType: input.EventSubType,
		OldState:     bot.State,
		NewState:     input.NewState,
		Metadata:     input.Metadata,
		CreatedAt:    time.Now(),
	}
	bot.State = input.NewState
	f.Events[input.BotID] = append(f.Events[input.BotID], event)
	copied := *bot
	return &copied, &event, nil
}

func (f *FakeRepository) RecordHeartbeat(_ context.Context, botID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bot, ok := f.Bots[botID]
	if !ok {
		return repository.ErrNotFound
	}
	if bot.FirstHeartbeatAt == nil {
		t := at
		bot.FirstHeartbeatAt = &t
	}
	if bot.LastHeartbeatAt == nil || at.After(*bot.LastHeartbeatAt) {
		t := at
		bot.LastHeartbeatAt = &t
	}
	return nil
}

func (f *FakeRepository) ListBotEvents(_ context.Context, botID uuid.UUID) ([]repository.BotEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Events[botID]), nil
}

func (f *FakeRepository) ListNonTerminalBots(_ context.Context) ([]repository.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Bot
	for _, bot := range f.Bots {
		if bot.State != repository.BotStateEnded && bot.State != repository.BotStateFatalError {
			out = append(out, *bot)
		}
	}
	return out, nil
}

// ClaimScheduledBots snapshots the due bots under the lock, then invokes
// claim outside it so callbacks may use the repository.
func (f *FakeRepository) ClaimScheduledBots(_ context.Context, lower, upper time.Time, claim func(repository.Bot)) (int, error) {
	f.mu.Lock()
	var claimed []repository.Bot
	for _, bot := range f.Bots {
		if bot.State != repository.BotStateScheduled || bot.JoinAt == nil {
			continue
		}
		if bot.JoinAt.Before(lower) || bot.JoinAt.After(upper) {
			continue
		}
		claimed = append(claimed, *bot)
	}
	f.mu.Unlock()
	for _, bot := range claimed {
		claim(bot)
	}
	return len(claimed), nil
}

func (f *FakeRepository) CreateRecording(_ context.Context, input repository.CreateRecordingInput) (*repository.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &repository.Recording{
		ID:                uuid.New(),
		BotID:             input.BotID,
		IsDefault:         input.IsDefault,
		TranscriptionType: input.TranscriptionType,
		State:             repository.RecordingStateNotStarted,
		CreatedAt:         time.Now(),
	}
	f.Recordings[rec.ID] = rec
	return rec, nil
}

func (f *FakeRepository) GetDefaultRecording(_ context.Context, botID uuid.UUID) (*repository.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.Recordings {
		if rec.BotID == botID && rec.IsDefault {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *FakeRepository) MarkRecordingInProgress(_ context.Context, recordingID uuid.UUID, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.Recordings[recordingID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.State = repository.RecordingStateInProgress
	if rec.StartedAt == nil {
		t := startedAt
		rec.StartedAt = &t
	}
	return nil
}

func (f *FakeRepository) MarkRecordingComplete(_ context.Context, recordingID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.Recordings[recordingID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.State = repository.RecordingStateComplete
	return nil
}

func (f *FakeRepository) MarkRecordingFailed(_ context.Context, recordingID uuid.UUID, failureData json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.Recordings[recordingID]
	if !ok {
		return repository.ErrNotFound
	}
	rec.State = repository.RecordingStateFailed
	rec.FailureData = failureData
	return nil
}

func (f *FakeRepository) UpsertParticipant(_ context.Context, input repository.UpsertParticipantInput) (*repository.Participant, bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.Participants[input.BotID] {
		if p.UUID == input.UUID {
			wasActive := p.Active
			if input.FullName != "" {
				p.FullName = input.FullName
			}
			p.Active = input.Active
			p.UpdatedAt = time.Now()
			copied := *p
			return &copied, wasActive, true, nil
		}
	}
	p := &repository.Participant{
		ID:        uuid.New(),
		BotID:     input.BotID,
		UUID:      input.UUID,
		FullName:  input.FullName,
		IsTheBot:  input.IsTheBot,
		Active:    input.Active,
		CreatedAt: time.Now(),
	}
	f.Participants[input.BotID] = append(f.Participants[input.BotID], p)
	copied := *p
	return &copied, false, false, nil
}

func (f *FakeRepository) InsertParticipantEvent(_ context.Context, participantID uuid.UUID, eventType repository.ParticipantEventType, at time.Time) (*repository.ParticipantEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := repository.ParticipantEvent{
		ID:            uuid.New(),
		ParticipantID: participantID,
		EventType:     eventType,
		CreatedAt:     at,
	}
	f.ParticipantEvts = append(f.ParticipantEvts, event)
	return &event, nil
}

func (f *FakeRepository) GetParticipantByUUID(_ context.Context, botID uuid.UUID, platformUUID string) (*repository.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.Participants[botID] {
		if p.UUID == platformUUID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *FakeRepository) InsertUtterance(_ context.Context, input repository.InsertUtteranceInput) (*repository.Utterance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	utterance := repository.Utterance{
		ID:            uuid.New(),
		RecordingID:   input.RecordingID,
		ParticipantID: input.ParticipantID,
		Source:        input.Source,
		TimestampMs:   input.TimestampMs,
		DurationMs:    input.DurationMs,
		Transcription: input.Transcription,
		FailureData:   input.FailureData,
		CreatedAt:     time.Now(),
	}
	f.Utterances = append(f.Utterances, utterance)
	return &utterance, nil
}

func (f *FakeRepository) ListUtterancesByRecording(_ context.Context, recordingID uuid.UUID) ([]repository.Utterance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Utterance
	for _, u := range f.Utterances {
		if u.RecordingID == recordingID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *FakeRepository) InsertChatMessage(_ context.Context, input repository.InsertChatMessageInput) (*repository.ChatMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.ChatMessages {
		if m.BotID == input.BotID && m.ExternalID == input.ExternalID {
			copied := m
			return &copied, false, nil
		}
	}
	msg := repository.ChatMessage{
		ID:             uuid.New(),
		BotID:          input.BotID,
		ParticipantID:  input.ParticipantID,
		ExternalID:     input.ExternalID,
		Text:           input.Text,
		Timestamp:      input.Timestamp,
		ToBot:          input.ToBot,
		AdditionalData: input.AdditionalData,
		CreatedAt:      time.Now(),
	}
	f.ChatMessages = append(f.ChatMessages, msg)
	return &msg, true, nil
}

func (f *FakeRepository) ListActiveSubscriptions(_ context.Context, projectID uuid.UUID, trigger string) ([]repository.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.WebhookSubscription
	for _, sub := range f.Subscriptions {
		if sub.ProjectID == projectID && sub.Active && slices.Contains(sub.Triggers, trigger) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *FakeRepository) CreateDeliveryAttempt(_ context.Context, input repository.CreateDeliveryAttemptInput) (*repository.WebhookDeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := &repository.WebhookDeliveryAttempt{
		ID:             uuid.New(),
		SubscriptionID: input.SubscriptionID,
		BotID:          input.BotID,
		Trigger:        input.Trigger,
		Payload:        input.Payload,
		Status:         repository.DeliveryStatusPending,
		CreatedAt:      time.Now(),
	}
	f.DeliveryAttempts[attempt.ID] = attempt
	return attempt, nil
}

func (f *FakeRepository) UpdateDeliveryAttempt(_ context.Context, attemptID uuid.UUID, status repository.DeliveryStatus, attemptCount int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.DeliveryAttempts[attemptID]
	if !ok {
		return repository.ErrNotFound
	}
	attempt.Status = status
	attempt.AttemptCount = attemptCount
	t := at
	attempt.LastAttemptAt = &t
	return nil
}

func (f *FakeRepository) InsertCreditTransaction(_ context.Context, botID uuid.UUID, credits int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Credits[botID]; ok {
		return nil
	}
	f.Credits[botID] = credits
	return nil
}

// UtterancesSnapshot returns a copy of all stored utterances.
func (f *FakeRepository) UtterancesSnapshot() []repository.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Utterances)
}

// EventTypesFor returns the event type sequence recorded for a bot.
func (f *FakeRepository) EventTypesFor(botID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.Events[botID] {
		out = append(out, e.EventType)
	}
	return out
}
