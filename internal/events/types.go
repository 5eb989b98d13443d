package events

// EventType identifies the type of event.
// Format: {domain}.{aggregate}.{action}[.{qualifier}]
type EventType string

const (
	// RequirementAnalysisRequested asks the analyzer to run a new analysis.
	RequirementAnalysisRequested EventType = "requirement.analysis.requested"

	// RequirementAnalysisCompleted carries a stored AnalysisResult.
	RequirementAnalysisCompleted EventType = "requirement.analysis.completed"

	// RequirementAnalysisFailed reports a rejected or failed analysis.
	RequirementAnalysisFailed EventType = "requirement.analysis.failed"

	// RequirementReanalysisCompleted carries a result derived from a prior one.
	RequirementReanalysisCompleted EventType = "requirement.reanalysis.completed"

	// RequirementForwarded marks a result handed to test generation.
	RequirementForwarded EventType = "requirement.forward.completed"

	// RequirementForwardFailed reports a failed forward attempt.
	RequirementForwardFailed EventType = "requirement.forward.failed"
)

// String returns the string representation.
func (t EventType) String() string {
	return string(t)
}

// IsTerminal returns true if this event type ends processing of a request.
func (t EventType) IsTerminal() bool {
	switch t {
	case RequirementAnalysisFailed, RequirementForwarded:
		return true
	default:
		return false
	}
}

// AllEventTypes returns all defined event types.
func AllEventTypes() []EventType {
	return []EventType{
		RequirementAnalysisRequested,
		RequirementAnalysisCompleted,
		RequirementAnalysisFailed,
		RequirementReanalysisCompleted,
		RequirementForwarded,
		RequirementForwardFailed,
	}
}
