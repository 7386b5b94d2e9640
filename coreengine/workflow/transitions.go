// Package workflow provides the workflow state machine transition tables.
//
// Both tables are closed: a (from, to) pair absent from its table is an
// invalid transition and the requesting operation fails without mutating
// state. Every code path that changes status or phase goes through these
// tables; there is no second enforcement point to drift out of sync.
package workflow

import (
	"github.com/datamorph-labs/convassist/coreengine/session"
)

// validStatusTransitions defines allowed status transitions.
//
//	initialized --metadata complete--> analyzing
//	analyzing   --artifact recorded--> validating
//	validating  --passed-->            completed
//	validating  --failed, retries-->   correcting
//	validating  --failed, exhausted--> failed
//	correcting  --attempt granted-->   analyzing
//	correcting  --attempt denied-->    failed
var validStatusTransitions = map[session.ConversionStatus]map[session.ConversionStatus]bool{
	session.StatusInitialized: {
		session.StatusAnalyzing: true,
		session.StatusFailed:    true,
	},
	session.StatusAnalyzing: {
		session.StatusValidating: true,
		session.StatusFailed:     true,
	},
	session.StatusValidating: {
		session.StatusCompleted:  true,
		session.StatusCorrecting: true,
		session.StatusFailed:     true,
	},
	session.StatusCorrecting: {
		session.StatusAnalyzing: true,
		session.StatusFailed:    true,
	},
	session.StatusCompleted: {}, // Terminal
	session.StatusFailed:    {}, // Terminal
}

// validPhaseTransitions defines allowed phase transitions.
// GatheringMetadata -> GatheringMetadata is deliberately allowed: re-entry
// forces a fresh metadata request policy.
var validPhaseTransitions = map[session.ConversationPhase]map[session.ConversationPhase]bool{
	session.PhaseIdle: {
		session.PhaseGatheringMetadata:  true,
		session.PhaseAwaitingCorrection: true,
	},
	session.PhaseGatheringMetadata: {
		session.PhaseIdle:               true,
		session.PhaseGatheringMetadata:  true,
		session.PhaseAwaitingCorrection: true,
	},
	session.PhaseAwaitingCorrection: {
		session.PhaseIdle:              true,
		session.PhaseGatheringMetadata: true,
	},
}

// IsValidStatusTransition checks if a status transition is allowed.
func IsValidStatusTransition(from, to session.ConversionStatus) bool {
	if targets, ok := validStatusTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// IsValidPhaseTransition checks if a phase transition is allowed.
func IsValidPhaseTransition(from, to session.ConversationPhase) bool {
	if targets, ok := validPhaseTransitions[from]; ok {
		return targets[to]
	}
	return false
}
