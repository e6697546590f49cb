package events

import "github.com/ixado/ixado/internal/state"

// NoiseLevel selects how chatty the Telegram consumer is.
type NoiseLevel string

const (
	NoiseAll       NoiseLevel = "all"
	NoiseImportant NoiseLevel = "important"
	NoiseCritical  NoiseLevel = "critical"
)

// ParseNoiseLevel validates a configured level string.
func ParseNoiseLevel(s string) (NoiseLevel, bool) {
	switch NoiseLevel(s) {
	case NoiseAll, NoiseImportant, NoiseCritical:
		return NoiseLevel(s), true
	}
	return "", false
}

// AllowAtLevel decides whether an event passes the given noise level.
//
// important drops routine chatter: task starts, progress narration, raw
// adapter output, tester run starts, and CI poll transitions. critical
// narrows further to the events someone asleep would want to wake up for.
func AllowAtLevel(ev Event, level NoiseLevel) bool {
	switch level {
	case NoiseAll:
		return true
	case NoiseImportant:
		return allowImportant(ev)
	case NoiseCritical:
		return allowCritical(ev)
	default:
		return allowImportant(ev)
	}
}

func allowImportant(ev Event) bool {
	switch ev.Type {
	case TypeTaskStart, TypeTaskProgress, TypeAdapterOutput:
		return false
	case TypeTesterActivity:
		return ev.TesterActivity.Stage != StageStarted
	case TypeCIActivity:
		return ev.CIActivity.Stage != StagePollTransition
	default:
		return true
	}
}

func allowCritical(ev Event) bool {
	switch ev.Type {
	case TypeTerminalOutcome:
		return true
	case TypePRActivity:
		return true
	case TypePhaseUpdate:
		s := ev.PhaseUpdate.Status
		return s == state.PhaseCIFailed || s == state.PhaseReadyForReview
	case TypeTaskFinish:
		return ev.TaskFinish.Status == state.TaskFailed
	case TypeTesterActivity:
		return ev.TesterActivity.Stage == StageFailed || ev.TesterActivity.Stage == StageAttemptFailed
	case TypeRecoveryActivity:
		return ev.RecoveryActivity.Stage == StageFailed || ev.RecoveryActivity.Stage == StageAttemptFailed
	case TypeCIActivity:
		switch ev.CIActivity.Stage {
		case StageFailed, StageSucceeded, StageValidationMaxRetry:
			return true
		}
		return false
	default:
		return false
	}
}
