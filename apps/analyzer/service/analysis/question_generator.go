package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/antinvestor/requirements/internal/events"
)

// Question categories.
const (
	QuestionCategoryAcceptanceCriteria = "acceptance_criteria"
	QuestionCategoryClarity            = "clarity"
	QuestionCategoryTerminology        = "terminology"
	QuestionCategoryErrorHandling      = "error_handling"
	QuestionCategoryEdgeCases          = "edge_cases"
	QuestionCategoryPreconditions      = "preconditions"
	QuestionCategoryPostconditions     = "postconditions"
	QuestionCategoryConsistency        = "consistency"
)

//nolint:gochecknoglobals // static mapping
var questionCategories = map[events.GapCategory]string{
	events.GapMissingAC:            QuestionCategoryAcceptanceCriteria,
	events.GapAmbiguousTerm:        QuestionCategoryClarity,
	events.GapUndefinedTerm:        QuestionCategoryTerminology,
	events.GapMissingErrorHandling: QuestionCategoryErrorHandling,
	events.GapMissingEdgeCase:      QuestionCategoryEdgeCases,
	events.GapMissingPrecondition:  QuestionCategoryPreconditions,
	events.GapMissingPostcondition: QuestionCategoryPostconditions,
	events.GapContradiction:        QuestionCategoryConsistency,
}

//nolint:gochecknoglobals // generic answer choices
var defaultSuggestedAnswers = map[events.GapCategory][]string{
	events.GapMissingErrorHandling: {
		"Retry 1 time, then show an error message",
		"Retry 3 times, then show an error message",
		"Retry 5 times, then show an error message",
	},
	events.GapMissingEdgeCase: {
		"Reject empty values with a validation message",
		"Enforce a maximum length or value",
		"Accept any value",
	},
	events.GapAmbiguousTerm: {
		"Define a numeric threshold",
		"Remove the term",
	},
	events.GapContradiction: {
		"The first statement is correct",
		"The second statement is correct",
	},
}

// QuestionSet is the output of question generation.
type QuestionSet struct {
	// Questions are still open.
	Questions []events.ClarifyingQuestion
	// Answered were already answered in the lineage.
	Answered []events.ClarifyingQuestion
	// Resolved maps gap ids to the question that answered them.
	Resolved map[string]string
}

// QuestionGenerator turns gaps into clarifying questions.
type QuestionGenerator struct {
	minSeverity events.Severity
}

// NewQuestionGenerator creates a generator. An empty threshold admits every gap.
func NewQuestionGenerator(minSeverity events.Severity) *QuestionGenerator {
	if minSeverity.Rank() == 0 {
		minSeverity = events.SeverityLow
	}
	return &QuestionGenerator{minSeverity: minSeverity}
}

// Generate produces one question per unresolved gap at or above the
// threshold. answers maps question hashes to answers recorded in the lineage;
// those questions are moved to Answered.
func (g *QuestionGenerator) Generate(
	gaps []events.Gap,
	s events.ExtractedStructure,
	domain *events.DomainValidation,
	answers map[string]string,
	threshold events.Severity,
) (QuestionSet, error) {
	if threshold.Rank() == 0 {
		threshold = g.minSeverity
	}

	set := QuestionSet{Questions: []events.ClarifyingQuestion{}, Resolved: map[string]string{}}
	for _, gap := range gaps {
		if gap.Resolved || !gap.Severity.AtLeast(threshold) {
			continue
		}

		category, ok := questionCategories[gap.Category]
		if !ok {
			return QuestionSet{}, fmt.Errorf("no question category for gap category %q", gap.Category)
		}

		text := phraseQuestion(gap, s)
		q := events.ClarifyingQuestion{
			ID:               "Q-" + shortHash(gap.ID),
			GapID:            gap.ID,
			Priority:         gap.Severity,
			Category:         category,
			Question:         text,
			Context:          gap.Description,
			SuggestedAnswers: suggestAnswers(gap, domain),
			Hash:             QuestionHash(text),
		}

		if answer, answered := answers[q.Hash]; answered && answer != "" {
			q.Answer = answer
			set.Answered = append(set.Answered, q)
			set.Resolved[gap.ID] = q.ID
			continue
		}
		set.Questions = append(set.Questions, q)
	}
	return set, nil
}

// QuestionHash identifies a question by its normalized text.
func QuestionHash(text string) string {
	sum := sha256.Sum256([]byte(strings.Join(tokenize(text), " ")))
	return hex.EncodeToString(sum[:])
}

func phraseQuestion(gap events.Gap, s events.ExtractedStructure) string {
	subject := strings.TrimPrefix(gap.Location, prefixTerm)
	operation := strings.TrimSpace(s.Action + " " + s.Object)

	switch gap.Category {
	case events.GapMissingAC:
		class := ScenarioClass(strings.TrimPrefix(gap.Location, prefixACClass))
		return fmt.Sprintf("What acceptance criteria define the %s scenario?", scenarioLabel(class))
	case events.GapAmbiguousTerm:
		return fmt.Sprintf("What measurable target does %q mean in this requirement?", subject)
	case events.GapUndefinedTerm:
		return fmt.Sprintf("What does %q stand for in this requirement?", subject)
	case events.GapMissingErrorHandling:
		if q, ok := strings.CutPrefix(gap.Description, "Open question about failure handling: "); ok {
			if i := strings.Index(q, " (escalated by"); i >= 0 {
				q = q[:i]
			}
			return fmt.Sprintf("How should the system behave here: %s", q)
		}
		if operation != "" {
			return fmt.Sprintf("How should the system respond when %q fails or times out?", operation)
		}
		return "How should the system respond when the operation fails or times out?"
	case events.GapMissingEdgeCase:
		return fmt.Sprintf("What are the minimum, maximum and empty-value rules for %q?",
			strings.TrimPrefix(gap.Location, prefixInput))
	case events.GapMissingPrecondition:
		if s.Actor != "" && s.Action != "" {
			return fmt.Sprintf("What must be true before the %s can %s?", s.Actor, operation)
		}
		return "What must be true before this behaviour starts?"
	case events.GapMissingPostcondition:
		if operation != "" {
			return fmt.Sprintf("What observable result confirms that %q succeeded?", operation)
		}
		return "What observable result confirms that this requirement is met?"
	case events.GapContradiction:
		return fmt.Sprintf("Which statement is correct: %s?", gap.Description)
	default:
		return fmt.Sprintf("Can you clarify: %s?", gap.Description)
	}
}

// suggestAnswers prefers domain rules for the gap's category.
func suggestAnswers(gap events.Gap, domain *events.DomainValidation) []string {
	if domain != nil {
		for _, rule := range domain.ApplicableRules {
			if rule.Category == gap.Category && len(rule.SuggestedAnswers) > 0 {
				return append([]string(nil), rule.SuggestedAnswers...)
			}
		}
	}
	if defaults, ok := defaultSuggestedAnswers[gap.Category]; ok {
		return append([]string(nil), defaults...)
	}
	return []string{}
}
