package events

import "time"

// ===== ANALYZE =====

// AnalysisConfig tunes a single analysis run.
type AnalysisConfig struct {
	// IncludeDomainValidation enables the domain collaborator call.
	IncludeDomainValidation *bool `json:"include_domain_validation,omitempty"`

	// GenerateQuestions enables the clarifying question stage.
	GenerateQuestions *bool `json:"generate_questions,omitempty"`

	// GenerateAcceptanceCriteria enables the AC generation stage.
	GenerateAcceptanceCriteria *bool `json:"generate_acceptance_criteria,omitempty"`

	// QuestionMinSeverity suppresses questions below this severity.
	QuestionMinSeverity Severity `json:"question_min_severity,omitempty"`

	// LLMProvider is the preferred text generation provider.
	LLMProvider string `json:"llm_provider,omitempty"`
}

// Enabled resolves an optional toggle, defaulting to true.
func Enabled(flag *bool) bool {
	return flag == nil || *flag
}

// AnalyzeRequest is the input of AnalyzeRequirement.
type AnalyzeRequest struct {
	// RequestID is optional; async callers set it for idempotent delivery.
	RequestID RequestID        `json:"request_id"`
	Input     RequirementInput `json:"input"`
	Config    AnalysisConfig   `json:"config"`
}

// ErrorInfo describes a failed operation.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// AnalyzeResponse is returned by AnalyzeRequirement and ReanalyzeRequirement.
type AnalyzeResponse struct {
	Success bool            `json:"success"`
	Result  *AnalysisResult `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ===== REANALYZE =====

// AnsweredQuestion supplies an answer for a question of a prior result.
type AnsweredQuestion struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// ACDecision accepts or rejects a generated acceptance criterion.
type ACDecision struct {
	ACID       string `json:"ac_id"`
	Accepted   bool   `json:"accepted"`
	EditedText string `json:"edited_text,omitempty"`
}

// ReanalyzeRequest is the input of ReanalyzeRequirement.
type ReanalyzeRequest struct {
	// RequestID names the new version; a zero value assigns one.
	RequestID          RequestID          `json:"request_id"`
	OriginalRequestID  RequestID          `json:"original_request_id"`
	UpdatedDescription *string            `json:"updated_description,omitempty"`
	UpdatedACs         []string           `json:"updated_acceptance_criteria,omitempty"`
	AnsweredQuestions  []AnsweredQuestion `json:"answered_questions,omitempty"`
	ACDecisions        []ACDecision       `json:"ac_decisions,omitempty"`
	Config             AnalysisConfig     `json:"config"`
}

// ===== EXPORT =====

// ExportFormat selects the export rendering.
type ExportFormat string

const (
	ExportText ExportFormat = "text"
	ExportJSON ExportFormat = "json"
)

// ===== FORWARD =====

// TestCasesConfig is passed through to the test generation service.
type TestCasesConfig struct {
	Framework       string `json:"framework,omitempty"`
	IncludeNegative bool   `json:"include_negative"`
	MaxCases        int    `json:"max_cases,omitempty"`
	Priority        string `json:"priority,omitempty"`
}

// ForwardRequest is the input of ForwardToTestCases.
type ForwardRequest struct {
	RequestID           RequestID       `json:"request_id"`
	IncludeGeneratedACs bool            `json:"include_generated_acs"`
	TestCasesConfig     TestCasesConfig `json:"test_cases_config"`
}

// ForwardResponse reports the outcome of a forward attempt.
type ForwardResponse struct {
	Success           bool       `json:"success"`
	RequestID         RequestID  `json:"request_id"`
	DownstreamID      string     `json:"downstream_id,omitempty"`
	TestCasesCreated  int        `json:"test_cases_created"`
	ForwardedCriteria int        `json:"forwarded_criteria"`
	Error             *ErrorInfo `json:"error,omitempty"`
}

// ForwardRecord marks a result as handed to test generation. It is stored
// beside the result so the result itself stays immutable.
type ForwardRecord struct {
	RequestID        RequestID `json:"request_id"`
	DownstreamID     string    `json:"downstream_id"`
	TestCasesCreated int       `json:"test_cases_created"`
	ForwardedAt      time.Time `json:"forwarded_at"`
}

// TestGenerationRequest is the payload sent to the test generation service.
type TestGenerationRequest struct {
	RequestID          RequestID          `json:"request_id"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	AcceptanceCriteria []string           `json:"acceptance_criteria"`
	GherkinScenarios   []string           `json:"gherkin_scenarios,omitempty"`
	Structure          ExtractedStructure `json:"structure"`
	QualityGrade       Grade              `json:"quality_grade"`
	Config             TestCasesConfig    `json:"config"`
}

// TestGenerationResponse is returned by the test generation service.
type TestGenerationResponse struct {
	ID               string `json:"id"`
	TestCasesCreated int    `json:"test_cases_created"`
}
