package analysis

import (
	"fmt"

	"github.com/antinvestor/requirements/internal/events"
)

// ReadinessEvent drives the readiness state machine.
type ReadinessEvent string

const (
	EventAnalysisCompleted ReadinessEvent = "analysis_completed"
	EventGatePassed        ReadinessEvent = "gate_passed"
	EventGateBlocked       ReadinessEvent = "gate_blocked"
	EventForwarded         ReadinessEvent = "forwarded"
)

//nolint:gochecknoglobals // transition table
var readinessTransitions = map[events.ReadinessState]map[ReadinessEvent]events.ReadinessState{
	events.StateDraft: {
		EventAnalysisCompleted: events.StateAnalyzed,
	},
	events.StateAnalyzed: {
		EventGatePassed:  events.StateReady,
		EventGateBlocked: events.StateQuestionsPending,
	},
	events.StateReady: {
		EventForwarded: events.StateForwarded,
	},
}

// Transition applies event to state.
func Transition(state events.ReadinessState, event ReadinessEvent) (events.ReadinessState, error) {
	next, ok := readinessTransitions[state][event]
	if !ok {
		return state, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, state)
	}
	return next, nil
}

// Verdict is the outcome of the readiness gate.
type Verdict struct {
	State    events.ReadinessState
	Ready    bool
	Blockers []string
}

// EvaluateReadiness runs a freshly analysed result through the gate. A
// result is ready when no high-severity gap is unresolved and no
// high-priority question is unanswered. A high question whose gap is already
// an unresolved high gap is reported under the gap blocker only.
func EvaluateReadiness(gaps []events.Gap, questions []events.ClarifyingQuestion) (Verdict, error) {
	state, err := Transition(events.StateDraft, EventAnalysisCompleted)
	if err != nil {
		return Verdict{}, err
	}

	openHighGaps := make(map[string]bool)
	for _, g := range gaps {
		if g.Severity == events.SeverityHigh && !g.Resolved {
			openHighGaps[g.ID] = true
		}
	}

	orphanHighQuestions := 0
	for _, q := range questions {
		if q.Priority == events.SeverityHigh && !q.Answered() && !openHighGaps[q.GapID] {
			orphanHighQuestions++
		}
	}

	blockers := []string{}
	if len(openHighGaps) > 0 {
		blockers = append(blockers, events.BlockerHighSeverityGaps)
	}
	if orphanHighQuestions > 0 {
		blockers = append(blockers, events.BlockerHighPriorityQuestions)
	}

	event := EventGatePassed
	if len(blockers) > 0 {
		event = EventGateBlocked
	}
	state, err = Transition(state, event)
	if err != nil {
		return Verdict{}, err
	}

	return Verdict{State: state, Ready: len(blockers) == 0, Blockers: blockers}, nil
}
