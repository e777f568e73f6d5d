package lifecycle

import "github.com/intellecta-lk/attendee/internal/repository"

const (
	EventJoinRequested              = "join_requested"
	EventBotJoinedMeeting           = "bot_joined_meeting"
	EventRecordingPermissionGranted = "bot_recording_permission_granted"
	EventRecordingPaused            = "recording_paused"
	EventRecordingResumed           = "recording_resumed"
	EventLeaveRequested             = "leave_requested"
	EventBotLeftMeeting             = "bot_left_meeting"
	EventPostProcessingCompleted    = "post_processing_completed"
	EventCouldNotJoin               = "could_not_join"
	EventFatalError                 = "fatal_error"
)

const (
	SubTypeUserRequested            = "user_requested"
	SubTypeMeetingEnded             = "meeting_ended"
	SubTypeAutoLeaveSilence         = "auto_leave_silence"
	SubTypeAutoLeaveOnlyParticipant = "auto_leave_only_participant"
	SubTypeWaitingRoomTimeout       = "waiting_room_timeout"
	SubTypeRequestDenied            = "request_denied"
	SubTypeJoinRetriesExhausted     = "join_retries_exhausted"
	SubTypeHeartbeatTimeout         = "heartbeat_timeout"
	SubTypeNeverLaunched            = "bot_never_launched"
	SubTypeProcessTerminated        = "process_terminated"
)

// NonTerminalStates is every state a bot can still leave.
var NonTerminalStates = []repository.BotState{
	repository.BotStateScheduled,
	repository.BotStateReady,
	repository.BotStateJoining,
	repository.BotStateJoinedNotRecording,
	repository.BotStateJoinedRecording,
	repository.BotStateJoinedRecordingPaused,
	repository.BotStateLeaving,
	repository.BotStatePostProcessing,
}

type transition struct {
	from []repository.BotState
	to   repository.BotState
}

// transitionTable is the single source of truth for lifecycle legality. An
// event applied while the bot is outside its source set is rejected.
var transitionTable = map[string]transition{
	EventJoinRequested: {
		from: []repository.BotState{repository.BotStateReady, repository.BotStateScheduled},
		to:   repository.BotStateJoining,
	},
	EventBotJoinedMeeting: {
		from: []repository.BotState{repository.BotStateJoining},
		to:   repository.BotStateJoinedNotRecording,
	},
	EventRecordingPermissionGranted: {
		from: []repository.BotState{repository.BotStateJoinedNotRecording},
		to:   repository.BotStateJoinedRecording,
	},
	EventRecordingPaused: {
		from: []repository.BotState{repository.BotStateJoinedRecording},
		to:   repository.BotStateJoinedRecordingPaused,
	},
	EventRecordingResumed: {
		from: []repository.BotState{repository.BotStateJoinedRecordingPaused},
		to:   repository.BotStateJoinedRecording,
	},
	EventLeaveRequested: {
		from: []repository.BotState{
			repository.BotStateJoinedRecording,
			repository.BotStateJoinedRecordingPaused,
			repository.BotStateJoinedNotRecording,
			repository.BotStateJoining,
		},
		to: repository.BotStateLeaving,
	},
	EventBotLeftMeeting: {
		from: []repository.BotState{repository.BotStateLeaving},
		to:   repository.BotStatePostProcessing,
	},
	EventPostProcessingCompleted: {
		from: []repository.BotState{repository.BotStatePostProcessing},
		to:   repository.BotStateEnded,
	},
	EventCouldNotJoin: {
		from: []repository.BotState{repository.BotStateJoining},
		to:   repository.BotStateFatalError,
	},
	EventFatalError: {
		from: NonTerminalStates,
		to:   repository.BotStateFatalError,
	},
}

func IsTerminal(s repository.BotState) bool {
	return s == repository.BotStateEnded || s == repository.BotStateFatalError
}

// AllowedSourceStates returns the source-state set for an event, or false for
// an unknown event type.
func AllowedSourceStates(eventType string) ([]repository.BotState, bool) {
	t, ok := transitionTable[eventType]
	return t.from, ok
}

func TargetState(eventType string) (repository.BotState, bool) {
	t, ok := transitionTable[eventType]
	return t.to, ok
}
