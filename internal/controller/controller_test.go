package controller

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/intellecta-lk/attendee/internal/adapter"
	"github.com/intellecta-lk/attendee/internal/config"
	"github.com/intellecta-lk/attendee/internal/dispatch"
	"github.com/intellecta-lk/attendee/internal/lifecycle"
	"github.com/intellecta-lk/attendee/internal/repository"
	"github.com/intellecta-lk/attendee/internal/testutil"
	"github.com/intellecta-lk/attendee/internal/transcription"
)

type fakeAdapter struct {
	mu          sync.Mutex
	events      chan adapter.Event
	joinErrs    []error
	joinCalls   int
	leaveCalls  int
	pauseCalls  int
	resumeCalls int
}

func newFakeAdapter(joinErrs ...error) *fakeAdapter {
	return &fakeAdapter{
		events:   make(chan adapter.Event),
		joinErrs: joinErrs,
	}
}

func (a *fakeAdapter) Join(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joinCalls++
	if len(a.joinErrs) == 0 {
		return nil
	}
	err := a.joinErrs[0]
	a.joinErrs = a.joinErrs[1:]
	return err
}

func (a *fakeAdapter) Leave(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaveCalls++
	return nil
}

func (a *fakeAdapter) PauseMedia() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pauseCalls++
	return nil
}

func (a *fakeAdapter) ResumeMedia() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resumeCalls++
	return nil
}

func (a *fakeAdapter) Events() <-chan adapter.Event { return a.events }
func (a *fakeAdapter) Close() error                 { return nil }

type stubProvider struct{}

func (stubProvider) Transcribe(_ context.Context, _ []byte, _ int, _ string) (*transcription.Result, error) {
	return &transcription.Result{Transcript: "stub"}, nil
}

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
	return c.at
}

type harness struct {
	repo   *testutil.FakeRepository
	bot    *repository.Bot
	ad     *fakeAdapter
	ctrl   *Controller
	ticks  chan time.Time
	clock  *fakeClock
	runErr chan error
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultTranscribeLanguage: "en-US",
		OnlyParticipantTimeout:    10 * time.Minute,
		SilenceActivateAfter:      20 * time.Minute,
		SilenceLeaveAfter:         10 * time.Minute,
		WaitingRoomTimeout:        15 * time.Minute,
		AudioWindow:               15 * time.Second,
		AudioQuietAfter:           2 * time.Second,
		TargetSampleRate:          16000,
		CaptionDebounce:           8 * time.Second,
	}
}

func startHarness(t *testing.T, ad *fakeAdapter, configure ...func(*Controller)) *harness {
	t.Helper()
	repo := testutil.NewFakeRepository()
	bot := repo.SeedBot(repository.BotStateReady)
	runner := dispatch.NewSynchronous()
	events := lifecycle.NewEventManager(repo, nil, runner, lifecycle.EventManagerOptions{})

	ctrl := New(testConfig(), repo, events, ad, nil, stubProvider{}, runner, bot)
	clock := &fakeClock{at: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	ctrl.SetClock(clock.Now)
	ticks := make(chan time.Time)
	ctrl.SetTicks(ticks)
	for _, fn := range configure {
		fn(ctrl)
	}

	h := &harness{
		repo:   repo,
		bot:    bot,
		ad:     ad,
		ctrl:   ctrl,
		ticks:  ticks,
		clock:  clock,
		runErr: make(chan error, 1),
	}
	go func() { h.runErr <- ctrl.Run(context.Background()) }()
	return h
}

func (h *harness) send(t *testing.T, ev adapter.Event) {
	t.Helper()
	select {
	case h.ad.events <- ev:
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not consume event")
	}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	select {
	case h.ticks <- h.clock.Now():
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not consume tick")
	}
}

func (h *harness) finish(t *testing.T) error {
	t.Helper()
	close(h.ad.events)
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not finish")
		return nil
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

func (h *harness) joinRecording(t *testing.T) {
	t.Helper()
	h.send(t, adapter.Event{Type: adapter.EventBotJoinedMeeting})
	h.send(t, adapter.Event{Type: adapter.EventRecordingPermissionGranted})
}

func (h *harness) state(t *testing.T) repository.BotState {
	t.Helper()
	bot, err := h.repo.GetBot(context.Background(), h.bot.ID)
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}
	return bot.State
}

func TestRun_HappyPathReachesEnded(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)
	h.send(t, adapter.Event{Type: adapter.EventMeetingEnded})
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{
		lifecycle.EventJoinRequested,
		lifecycle.EventBotJoinedMeeting,
		lifecycle.EventRecordingPermissionGranted,
		lifecycle.EventLeaveRequested,
		lifecycle.EventBotLeftMeeting,
		lifecycle.EventPostProcessingCompleted,
	}
	if got := h.repo.EventTypesFor(h.bot.ID); !slices.Equal(got, want) {
		t.Fatalf("event sequence mismatch:\n got %v\nwant %v", got, want)
	}
	if h.state(t) != repository.BotStateEnded {
		t.Fatalf("final state %s", h.state(t))
	}
	if h.ad.leaveCalls != 1 {
		t.Fatalf("expected 1 leave command, got %d", h.ad.leaveCalls)
	}
	for _, e := range h.repo.Events[h.bot.ID] {
		if e.EventType == lifecycle.EventLeaveRequested && e.EventSubType != lifecycle.SubTypeMeetingEnded {
			t.Fatalf("leave sub type %s", e.EventSubType)
		}
	}
}

func TestRun_RetryableJoinFailureThenSuccess(t *testing.T) {
	ad := newFakeAdapter(adapter.NewRetryableJoinError("automation timeout", nil))
	h := startHarness(t, ad)
	h.joinRecording(t)
	h.send(t, adapter.Event{Type: adapter.EventMeetingEnded})
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if ad.joinCalls != 2 {
		t.Fatalf("expected 2 join attempts, got %d", ad.joinCalls)
	}
	if h.state(t) != repository.BotStateEnded {
		t.Fatalf("final state %s", h.state(t))
	}
}

func TestRun_JoinRetriesExhausted(t *testing.T) {
	ad := newFakeAdapter(
		adapter.NewRetryableJoinError("automation timeout", nil),
		adapter.NewRetryableJoinError("automation timeout", nil),
	)
	h := startHarness(t, ad)
	if err := h.wait(t); err == nil {
		t.Fatal("expected join failure error")
	}
	if ad.joinCalls != 2 {
		t.Fatalf("expected join attempts capped at 2, got %d", ad.joinCalls)
	}
	if h.state(t) != repository.BotStateFatalError {
		t.Fatalf("final state %s", h.state(t))
	}
	events := h.repo.Events[h.bot.ID]
	last := events[len(events)-1]
	if last.EventType != lifecycle.EventCouldNotJoin || last.EventSubType != lifecycle.SubTypeJoinRetriesExhausted {
		t.Fatalf("unexpected terminal event %+v", last)
	}
}

func TestRun_FatalJoinFailureNoRetry(t *testing.T) {
	ad := newFakeAdapter(adapter.NewFatalJoinError(lifecycle.SubTypeRequestDenied, nil))
	h := startHarness(t, ad)
	if err := h.wait(t); err == nil {
		t.Fatal("expected join failure error")
	}
	if ad.joinCalls != 1 {
		t.Fatalf("fatal failure must not retry, got %d attempts", ad.joinCalls)
	}
	events := h.repo.Events[h.bot.ID]
	last := events[len(events)-1]
	if last.EventType != lifecycle.EventCouldNotJoin || last.EventSubType != lifecycle.SubTypeRequestDenied {
		t.Fatalf("unexpected terminal event %+v", last)
	}
}

func TestPauseResume_DiscardsMediaWhilePaused(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)

	rec, err := h.repo.GetDefaultRecording(context.Background(), h.bot.ID)
	if err != nil {
		t.Fatalf("default recording missing: %v", err)
	}
	if rec.StartedAt == nil {
		t.Fatal("recording has no start time after permission granted")
	}
	startedAt := *rec.StartedAt

	// A caption finalized before the pause persists.
	h.send(t, adapter.Event{Type: adapter.EventCaptionUpdate, Caption: &adapter.CaptionUpdate{
		CaptionID: "before", SpeakerUUID: "alice", Text: "kept", Final: true,
	}})

	if err := h.ctrl.PauseRecording(context.Background()); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if h.state(t) != repository.BotStateJoinedRecordingPaused {
		t.Fatalf("state after pause %s", h.state(t))
	}
	if h.ad.pauseCalls != 1 {
		t.Fatalf("pause not forwarded to adapter: %d", h.ad.pauseCalls)
	}

	h.send(t, adapter.Event{Type: adapter.EventCaptionUpdate, Caption: &adapter.CaptionUpdate{
		CaptionID: "during", SpeakerUUID: "alice", Text: "dropped", Final: true,
	}})
	h.send(t, adapter.Event{Type: adapter.EventAudioFrame, Audio: &adapter.AudioFrame{
		ParticipantUUID: "alice", ReceivedAt: h.clock.Now(), PCM: make([]byte, 64000), SampleRate: 16000,
	}})

	h.clock.Advance(3 * time.Minute)
	if err := h.ctrl.ResumeRecording(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if h.state(t) != repository.BotStateJoinedRecording {
		t.Fatalf("state after resume %s", h.state(t))
	}
	if h.ad.resumeCalls != 1 {
		t.Fatalf("resume not forwarded to adapter: %d", h.ad.resumeCalls)
	}

	// Platforms may re-announce permission after the stream resumes; the
	// original start time must survive it.
	h.send(t, adapter.Event{Type: adapter.EventRecordingPermissionGranted})

	h.send(t, adapter.Event{Type: adapter.EventCaptionUpdate, Caption: &adapter.CaptionUpdate{
		CaptionID: "after", SpeakerUUID: "alice", Text: "kept too", Final: true,
	}})
	h.send(t, adapter.Event{Type: adapter.EventMeetingEnded})
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var captionIDs []string
	for _, u := range h.repo.UtterancesSnapshot() {
		if u.Source == repository.UtteranceSourceClosedCaption {
			captionIDs = append(captionIDs, string(u.Transcription))
		}
	}
	if len(captionIDs) != 2 {
		t.Fatalf("expected 2 caption utterances (pre and post pause), got %d: %v", len(captionIDs), captionIDs)
	}
	for _, tr := range captionIDs {
		if tr == `{"transcript":"dropped"}` {
			t.Fatal("caption finalized during pause was persisted")
		}
	}

	rec, err = h.repo.GetDefaultRecording(context.Background(), h.bot.ID)
	if err != nil {
		t.Fatalf("default recording missing: %v", err)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(startedAt) {
		t.Fatalf("recording start time moved across pause/resume: %v -> %v", startedAt, rec.StartedAt)
	}
}

func TestSilenceAutoLeave_TwoStage(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)

	// Not yet past the activation threshold.
	h.clock.Advance(19 * time.Minute)
	h.tick(t)
	// Activation.
	h.clock.Advance(2 * time.Minute)
	h.tick(t)
	// Still inside the post-activation leave window.
	h.clock.Advance(9 * time.Minute)
	h.tick(t)
	// Past it.
	h.clock.Advance(2 * time.Minute)
	h.tick(t)

	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var leaveSub string
	for _, e := range h.repo.Events[h.bot.ID] {
		if e.EventType == lifecycle.EventLeaveRequested {
			leaveSub = e.EventSubType
		}
	}
	if leaveSub != lifecycle.SubTypeAutoLeaveSilence {
		t.Fatalf("expected silence auto-leave, got %q", leaveSub)
	}
	if h.state(t) != repository.BotStateEnded {
		t.Fatalf("final state %s", h.state(t))
	}
}

func TestSilenceAutoLeave_AudioResetsActivation(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)

	h.clock.Advance(21 * time.Minute)
	h.tick(t) // activates silence detection

	// Audio arrives: both the activation and the base timer reset.
	h.send(t, adapter.Event{Type: adapter.EventAudioFrame, Audio: &adapter.AudioFrame{
		ParticipantUUID: "alice", ReceivedAt: h.clock.Now(), PCM: make([]byte, 3200), SampleRate: 16000,
	}})

	h.clock.Advance(11 * time.Minute)
	h.tick(t)

	if h.ad.leaveCalls != 0 {
		t.Fatal("auto-leave fired despite fresh audio")
	}
	h.send(t, adapter.Event{Type: adapter.EventMeetingEnded})
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestOnlyParticipantAutoLeave(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)

	h.send(t, adapter.Event{Type: adapter.EventParticipantUpdate, Participant: &adapter.ParticipantUpdate{
		UUID: "alice", FullName: "Alice", Active: true,
	}})
	h.clock.Advance(time.Minute)
	h.send(t, adapter.Event{Type: adapter.EventParticipantUpdate, Participant: &adapter.ParticipantUpdate{
		UUID: "alice", FullName: "Alice", Active: false,
	}})

	h.clock.Advance(11 * time.Minute)
	h.tick(t)

	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var leaveSub string
	for _, e := range h.repo.Events[h.bot.ID] {
		if e.EventType == lifecycle.EventLeaveRequested {
			leaveSub = e.EventSubType
		}
	}
	if leaveSub != lifecycle.SubTypeAutoLeaveOnlyParticipant {
		t.Fatalf("expected only-participant auto-leave, got %q", leaveSub)
	}

	if len(h.repo.ParticipantEvts) != 2 {
		t.Fatalf("expected join and leave participant events, got %d", len(h.repo.ParticipantEvts))
	}
	if h.repo.ParticipantEvts[0].EventType != repository.ParticipantEventJoin ||
		h.repo.ParticipantEvts[1].EventType != repository.ParticipantEventLeave {
		t.Fatalf("unexpected participant event order: %+v", h.repo.ParticipantEvts)
	}
}

func TestWaitingRoomTimeout(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.send(t, adapter.Event{Type: adapter.EventBotPutInWaitingRoom})

	h.clock.Advance(16 * time.Minute)
	h.tick(t)

	if err := h.wait(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if h.state(t) != repository.BotStateFatalError {
		t.Fatalf("final state %s", h.state(t))
	}
	events := h.repo.Events[h.bot.ID]
	last := events[len(events)-1]
	if last.EventType != lifecycle.EventCouldNotJoin || last.EventSubType != lifecycle.SubTypeWaitingRoomTimeout {
		t.Fatalf("unexpected terminal event %+v", last)
	}
}

func TestChatMessages_DedupedByExternalID(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)

	msg := &adapter.ChatMessageEvent{
		MessageUUID: "m1", SenderUUID: "alice", Text: "hello", Timestamp: h.clock.Now(),
	}
	h.send(t, adapter.Event{Type: adapter.EventChatMessage, Chat: msg})
	h.send(t, adapter.Event{Type: adapter.EventChatMessage, Chat: msg})

	h.send(t, adapter.Event{Type: adapter.EventMeetingEnded})
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(h.repo.ChatMessages) != 1 {
		t.Fatalf("expected 1 chat message after dedup, got %d", len(h.repo.ChatMessages))
	}
}

func TestRequestLeave_UserRequested(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)

	if err := h.ctrl.RequestLeave(context.Background(), lifecycle.SubTypeUserRequested); err != nil {
		t.Fatalf("request leave failed: %v", err)
	}
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var leaveSub string
	for _, e := range h.repo.Events[h.bot.ID] {
		if e.EventType == lifecycle.EventLeaveRequested {
			leaveSub = e.EventSubType
		}
	}
	if leaveSub != lifecycle.SubTypeUserRequested {
		t.Fatalf("expected user-requested leave, got %q", leaveSub)
	}
	if h.state(t) != repository.BotStateEnded {
		t.Fatalf("final state %s", h.state(t))
	}
}

type mockUploader struct {
	mu        sync.Mutex
	waitCalls int
}

func (m *mockUploader) UploadFile(_ context.Context, _ string) error { return nil }

func (m *mockUploader) WaitForUpload(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitCalls++
	return nil
}

func (m *mockUploader) DeleteFile(_ context.Context, _ string) error { return nil }

func TestPostProcess_WaitsForUpload(t *testing.T) {
	uploader := &mockUploader{}
	h := startHarness(t, newFakeAdapter(), func(c *Controller) { c.SetUploader(uploader) })

	h.joinRecording(t)
	h.send(t, adapter.Event{Type: adapter.EventMeetingEnded})
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if uploader.waitCalls != 1 {
		t.Fatalf("expected post-processing to wait for upload once, got %d", uploader.waitCalls)
	}
}

func TestRecordingMarkedCompleteOnExit(t *testing.T) {
	h := startHarness(t, newFakeAdapter())
	h.joinRecording(t)
	h.send(t, adapter.Event{Type: adapter.EventMeetingEnded})
	if err := h.finish(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rec, err := h.repo.GetDefaultRecording(context.Background(), h.bot.ID)
	if err != nil {
		t.Fatalf("default recording missing: %v", err)
	}
	if rec.State != repository.RecordingStateComplete {
		t.Fatalf("recording state %s", rec.State)
	}
	if rec.StartedAt == nil {
		t.Fatal("recording started_at not set")
	}
}
