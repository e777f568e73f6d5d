package lifecycle

import (
	"slices"
	"testing"

	"github.com/intellecta-lk/attendee/internal/repository"
)

func TestTransitionTable_HappyPathWalk(t *testing.T) {
	state := repository.BotStateReady
	walk := []struct {
		event string
		want  repository.BotState
	}{
		{EventJoinRequested, repository.BotStateJoining},
		{EventBotJoinedMeeting, repository.BotStateJoinedNotRecording},
		{EventRecordingPermissionGranted, repository.BotStateJoinedRecording},
		{EventRecordingPaused, repository.BotStateJoinedRecordingPaused},
		{EventRecordingResumed, repository.BotStateJoinedRecording},
		{EventLeaveRequested, repository.BotStateLeaving},
		{EventBotLeftMeeting, repository.BotStatePostProcessing},
		{EventPostProcessingCompleted, repository.BotStateEnded},
	}
	for _, step := range walk {
		from, ok := AllowedSourceStates(step.event)
		if !ok {
			t.Fatalf("unknown event %s", step.event)
		}
		if !slices.Contains(from, state) {
			t.Fatalf("event %s not allowed from %s", step.event, state)
		}
		state, _ = TargetState(step.event)
		if state != step.want {
			t.Fatalf("event %s: got state %s, want %s", step.event, state, step.want)
		}
	}
	if !IsTerminal(state) {
		t.Fatalf("expected terminal final state, got %s", state)
	}
}

func TestTransitionTable_TerminalStatesHaveNoSuccessors(t *testing.T) {
	for event := range transitionTable {
		from, _ := AllowedSourceStates(event)
		for _, s := range from {
			if IsTerminal(s) {
				t.Fatalf("event %s allows transition out of terminal state %s", event, s)
			}
		}
	}
}

func TestTransitionTable_FatalErrorFromEveryNonTerminalState(t *testing.T) {
	from, ok := AllowedSourceStates(EventFatalError)
	if !ok {
		t.Fatal("fatal_error missing from table")
	}
	for _, s := range NonTerminalStates {
		if !slices.Contains(from, s) {
			t.Fatalf("fatal_error not allowed from %s", s)
		}
	}
	target, _ := TargetState(EventFatalError)
	if target != repository.BotStateFatalError {
		t.Fatalf("fatal_error targets %s", target)
	}
}

func TestAllowedSourceStates_UnknownEvent(t *testing.T) {
	if _, ok := AllowedSourceStates("no_such_event"); ok {
		t.Fatal("expected unknown event to be rejected")
	}
}
