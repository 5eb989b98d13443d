package events

import (
	"strings"
	"time"
)

// ===== QUALITY SCORE =====

// Grade is a letter grade derived from a numeric score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeFor maps a [0,100] score to its letter grade.
func GradeFor(score int) Grade {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// DimensionScore is the result of one quality dimension evaluator.
type DimensionScore struct {
	Score  int      `json:"score"`
	Grade  Grade    `json:"grade"`
	Issues []string `json:"issues"`
}

// QualityScore aggregates the four weighted quality dimensions.
type QualityScore struct {
	Clarity        DimensionScore `json:"clarity"`
	Completeness   DimensionScore `json:"completeness"`
	Testability    DimensionScore `json:"testability"`
	Consistency    DimensionScore `json:"consistency"`
	Overall        int            `json:"overall"`
	Grade          Grade          `json:"grade"`
	Recommendation string         `json:"recommendation"`
}

// ===== GAPS =====

// GapCategory is one of the fixed gap kinds.
type GapCategory string

const (
	GapMissingAC            GapCategory = "missing_ac"
	GapAmbiguousTerm        GapCategory = "ambiguous_term"
	GapUndefinedTerm        GapCategory = "undefined_term"
	GapMissingErrorHandling GapCategory = "missing_error_handling"
	GapMissingEdgeCase      GapCategory = "missing_edge_case"
	GapMissingPrecondition  GapCategory = "missing_precondition"
	GapMissingPostcondition GapCategory = "missing_postcondition"
	GapContradiction        GapCategory = "contradiction"
)

// GapCategories lists every category in reporting order.
var GapCategories = []GapCategory{
	GapMissingAC,
	GapAmbiguousTerm,
	GapUndefinedTerm,
	GapMissingErrorHandling,
	GapMissingEdgeCase,
	GapMissingPrecondition,
	GapMissingPostcondition,
	GapContradiction,
}

// Severity ranks gaps and questions.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Gap is a detected deficiency in a requirement.
type Gap struct {
	ID          string      `json:"id"`
	Category    GapCategory `json:"category"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Suggestion  string      `json:"suggestion"`
	Escalated   bool        `json:"escalated,omitempty"`
	Resolved    bool        `json:"resolved,omitempty"`
	ResolvedBy  string      `json:"resolved_by,omitempty"`
}

// GapSummary counts gaps by severity and category.
type GapSummary struct {
	Total      int                 `json:"total"`
	High       int                 `json:"high"`
	Medium     int                 `json:"medium"`
	Low        int                 `json:"low"`
	ByCategory map[GapCategory]int `json:"by_category"`
}

// SummarizeGaps builds a GapSummary.
func SummarizeGaps(gaps []Gap) GapSummary {
	summary := GapSummary{ByCategory: make(map[GapCategory]int)}
	for _, g := range gaps {
		summary.Total++
		switch g.Severity {
		case SeverityHigh:
			summary.High++
		case SeverityMedium:
			summary.Medium++
		case SeverityLow:
			summary.Low++
		}
		summary.ByCategory[g.Category]++
	}
	return summary
}

// ===== QUESTIONS =====

// ClarifyingQuestion asks a stakeholder to close a gap.
type ClarifyingQuestion struct {
	ID               string   `json:"id"`
	GapID            string   `json:"gap_id"`
	Priority         Severity `json:"priority"`
	Category         string   `json:"category"`
	Question         string   `json:"question"`
	Context          string   `json:"context"`
	SuggestedAnswers []string `json:"suggested_answers"`
	Answer           string   `json:"answer,omitempty"`
	Hash             string   `json:"hash"`
}

// Answered reports whether the question carries an answer.
func (q ClarifyingQuestion) Answered() bool {
	return q.Answer != ""
}

// ===== GENERATED ACCEPTANCE CRITERIA =====

// ACSource records where a generated criterion came from.
type ACSource string

const (
	ACSourceGapDetection        ACSource = "gap_detection"
	ACSourceDomainKnowledge     ACSource = "domain_knowledge"
	ACSourceStructureExtraction ACSource = "structure_extraction"
)

// GeneratedAC is a candidate acceptance criterion.
type GeneratedAC struct {
	ID         string   `json:"id"`
	Source     ACSource `json:"source"`
	Confidence float64  `json:"confidence"`
	Text       string   `json:"text"`
	Gherkin    string   `json:"gherkin"`
	GapID      string   `json:"gap_id,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
	Accepted   bool     `json:"accepted"`
}

// ===== DOMAIN VALIDATION =====

// DomainValidationStatus describes how the domain section was produced.
type DomainValidationStatus string

const (
	DomainValidated   DomainValidationStatus = "validated"
	DomainUnavailable DomainValidationStatus = "unavailable"
	DomainSkipped     DomainValidationStatus = "skipped"
)

// EntityMapping links a requirement term to a domain entity.
type EntityMapping struct {
	Term        string  `json:"term"`
	Entity      string  `json:"entity"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// DomainRule is a business rule that applies to the requirement.
type DomainRule struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Entity           string      `json:"entity,omitempty"`
	Category         GapCategory `json:"category,omitempty"`
	Criterion        string      `json:"criterion,omitempty"`
	SuggestedAnswers []string    `json:"suggested_answers,omitempty"`
}

// DomainValidation is the merged response of the domain collaborator.
type DomainValidation struct {
	Status          DomainValidationStatus `json:"status"`
	Valid           bool                   `json:"valid"`
	EntityMappings  []EntityMapping        `json:"entity_mappings"`
	ApplicableRules []DomainRule           `json:"applicable_rules"`
	Warnings        []string               `json:"warnings"`
}

// MappingFor returns the entity mapping for term, if any.
func (d *DomainValidation) MappingFor(term string) (EntityMapping, bool) {
	if d == nil {
		return EntityMapping{}, false
	}
	for _, m := range d.EntityMappings {
		if strings.EqualFold(m.Term, term) {
			return m, true
		}
	}
	return EntityMapping{}, false
}

// ===== READINESS =====

// ReadinessState is a node in the readiness state machine.
type ReadinessState string

const (
	StateDraft            ReadinessState = "DRAFT"
	StateAnalyzed         ReadinessState = "ANALYZED"
	StateQuestionsPending ReadinessState = "QUESTIONS_PENDING"
	StateReady            ReadinessState = "READY"
	StateForwarded        ReadinessState = "FORWARDED"
)

// Readiness blockers.
const (
	BlockerHighSeverityGaps      = "High-severity gaps not addressed"
	BlockerHighPriorityQuestions = "High-priority questions unanswered"
)

// ===== ANALYSIS RESULT =====

// AnalysisResult is an immutable snapshot of one analysis run.
type AnalysisResult struct {
	RequestID              RequestID            `json:"request_id"`
	OriginalRequestID      RequestID            `json:"original_request_id"`
	LineageRootID          RequestID            `json:"lineage_root_id"`
	Version                int                  `json:"version"`
	Document               *RequirementDocument `json:"document"`
	Structure              ExtractedStructure   `json:"structure"`
	QualityScore           QualityScore         `json:"quality_score"`
	Gaps                   []Gap                `json:"gaps"`
	GapSummary             GapSummary           `json:"gap_summary"`
	Questions              []ClarifyingQuestion `json:"questions"`
	AnsweredQuestions      []ClarifyingQuestion `json:"answered_questions,omitempty"`
	GeneratedACs           []GeneratedAC        `json:"generated_acs"`
	DomainValidation       *DomainValidation    `json:"domain_validation"`
	ReadinessState         ReadinessState       `json:"readiness_state"`
	ReadyForTestGeneration bool                 `json:"ready_for_test_generation"`
	Blockers               []string             `json:"blockers"`
	Metadata               map[string]string    `json:"metadata,omitempty"`
	CreatedAt              time.Time            `json:"created_at"`
}

// FindQuestion returns the open or answered question with the given ID.
func (r *AnalysisResult) FindQuestion(id string) (ClarifyingQuestion, bool) {
	for _, q := range r.Questions {
		if q.ID == id {
			return q, true
		}
	}
	for _, q := range r.AnsweredQuestions {
		if q.ID == id {
			return q, true
		}
	}
	return ClarifyingQuestion{}, false
}

// FindGeneratedAC returns the generated criterion with the given ID.
func (r *AnalysisResult) FindGeneratedAC(id string) (GeneratedAC, bool) {
	for _, ac := range r.GeneratedACs {
		if ac.ID == id {
			return ac, true
		}
	}
	return GeneratedAC{}, false
}
