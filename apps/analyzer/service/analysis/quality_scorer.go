package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/antinvestor/requirements/internal/events"
)

// Dimension weights, in percent.
const (
	weightClarity      = 25
	weightCompleteness = 30
	weightTestability  = 25
	weightConsistency  = 20
)

// Completeness deductions.
const (
	penaltyNoHappyPath = 20
	penaltyNoError     = 20
	penaltyNoEdge      = 15
	penaltyNoACs       = 10
	penaltyNoAction    = 10
	penaltyNoActor     = 5
	penaltyNoOutcome   = 5

	penaltySubjectiveTerm = 10
	penaltyPlaceholder    = 10
	penaltyContradiction  = 25
)

// ScenarioClass is one of the scenario kinds a requirement's ACs should cover.
type ScenarioClass string

const (
	ScenarioHappyPath ScenarioClass = "happy_path"
	ScenarioError     ScenarioClass = "error"
	ScenarioEdge      ScenarioClass = "edge"
)

// ScenarioClasses lists the expected classes in reporting order.
//
//nolint:gochecknoglobals // fixed order
var ScenarioClasses = []ScenarioClass{ScenarioHappyPath, ScenarioError, ScenarioEdge}

// ScenarioCoverage records which scenario classes the ACs exercise.
type ScenarioCoverage map[ScenarioClass]bool

// Missing returns uncovered classes in reporting order.
func (c ScenarioCoverage) Missing() []ScenarioClass {
	var missing []ScenarioClass
	for _, class := range ScenarioClasses {
		if !c[class] {
			missing = append(missing, class)
		}
	}
	return missing
}

// ClassifyScenarios is shared by the completeness scorer and the missing_ac
// gap rule so the two always agree.
func ClassifyScenarios(acs []string) ScenarioCoverage {
	coverage := ScenarioCoverage{}
	for _, ac := range acs {
		text := newPhraseText(ac)
		isError := text.hasAny(errorMarkers)
		isEdge := text.hasAny(edgeMarkers)
		if isError {
			coverage[ScenarioError] = true
		}
		if isEdge {
			coverage[ScenarioEdge] = true
		}
		if !isError && !isEdge {
			coverage[ScenarioHappyPath] = true
		}
	}
	return coverage
}

// ScoreQuality evaluates all four dimensions. Each dimension is a pure
// function of the document and structure.
func ScoreQuality(doc *events.RequirementDocument, s events.ExtractedStructure) (events.QualityScore, error) {
	if doc == nil {
		return events.QualityScore{}, fmt.Errorf("%w: quality scoring needs a document", ErrEssentialStage)
	}

	return ComposeQuality(
		ScoreClarity(doc, s),
		ScoreCompleteness(doc, s),
		ScoreTestability(doc, s),
		ScoreConsistency(doc, s),
	), nil
}

// ComposeQuality derives the overall score, grade and recommendation. The
// weighted sum is truncated to an integer.
func ComposeQuality(clarity, completeness, testability, consistency events.DimensionScore) events.QualityScore {
	overall := OverallScore(clarity.Score, completeness.Score, testability.Score, consistency.Score)
	q := events.QualityScore{
		Clarity:      clarity,
		Completeness: completeness,
		Testability:  testability,
		Consistency:  consistency,
		Overall:      overall,
		Grade:        events.GradeFor(overall),
	}
	q.Recommendation = recommend(q)
	return q
}

// OverallScore is the weighted sum of the four dimensions, truncated rather
// than rounded: (85,65,80,90) weighs 78.75 and scores 78.
func OverallScore(clarity, completeness, testability, consistency int) int {
	return (weightClarity*clarity +
		weightCompleteness*completeness +
		weightTestability*testability +
		weightConsistency*consistency) / 100
}

// ScoreClarity penalises unquantified subjective terms and placeholders.
func ScoreClarity(doc *events.RequirementDocument, _ events.ExtractedStructure) events.DimensionScore {
	score := 100
	issues := []string{}

	for _, term := range unquantifiedSubjectiveTerms(documentTexts(doc)...) {
		score -= penaltySubjectiveTerm
		issues = append(issues, fmt.Sprintf("Subjective term %q has no measurable qualifier", term))
	}

	for _, p := range placeholderPattern.FindAllString(doc.NormalizedText, -1) {
		score -= penaltyPlaceholder
		issues = append(issues, fmt.Sprintf("Placeholder %q left in the requirement", p))
	}

	return dimension(score, issues)
}

// ScoreCompleteness penalises missing scenario coverage and structure.
func ScoreCompleteness(doc *events.RequirementDocument, s events.ExtractedStructure) events.DimensionScore {
	score := 100
	issues := []string{}
	deduct := func(points int, issue string) {
		score -= points
		issues = append(issues, issue)
	}

	coverage := ClassifyScenarios(doc.AcceptanceCriteria)
	if !coverage[ScenarioHappyPath] {
		deduct(penaltyNoHappyPath, "No acceptance criterion covers the happy path")
	}
	if !coverage[ScenarioError] {
		deduct(penaltyNoError, "No acceptance criterion covers an error scenario")
	}
	if !coverage[ScenarioEdge] {
		deduct(penaltyNoEdge, "No acceptance criterion covers an edge case")
	}
	if len(doc.AcceptanceCriteria) == 0 {
		deduct(penaltyNoACs, "Requirement has no acceptance criteria")
	}
	if s.Action == "" {
		deduct(penaltyNoAction, "No action could be identified")
	}
	if s.Actor == "" {
		deduct(penaltyNoActor, "No actor could be identified")
	}
	if s.Outcome == "" && len(s.Postconditions) == 0 {
		deduct(penaltyNoOutcome, "No expected outcome is stated")
	}

	return dimension(score, issues)
}

// ScoreTestability is the share of ACs with a measurable pass/fail condition.
func ScoreTestability(doc *events.RequirementDocument, _ events.ExtractedStructure) events.DimensionScore {
	if len(doc.AcceptanceCriteria) == 0 {
		return dimension(0, []string{"No acceptance criteria to test"})
	}

	issues := []string{}
	testable := 0
	for i, ac := range doc.AcceptanceCriteria {
		if reason := untestableReason(ac); reason != "" {
			issues = append(issues, fmt.Sprintf("AC %d %s", i+1, reason))
			continue
		}
		testable++
	}

	score := int(math.Round(100 * float64(testable) / float64(len(doc.AcceptanceCriteria))))
	return dimension(score, issues)
}

func untestableReason(ac string) string {
	switch {
	case !hasObservableVerb(ac):
		return "has no observable action"
	case !newPhraseText(ac).hasAny(outcomeMarkers):
		return "has no expected outcome"
	case len(unquantifiedSubjectiveTerms(ac)) > 0:
		return "relies on an unquantified subjective term"
	default:
		return ""
	}
}

// ScoreConsistency penalises contradictions.
func ScoreConsistency(doc *events.RequirementDocument, _ events.ExtractedStructure) events.DimensionScore {
	score := 100
	issues := []string{}
	for _, c := range detectContradictions(documentTexts(doc)...) {
		score -= penaltyContradiction
		issues = append(issues, c.Describe())
	}
	return dimension(score, issues)
}

func dimension(score int, issues []string) events.DimensionScore {
	score = max(0, min(100, score))
	return events.DimensionScore{Score: score, Grade: events.GradeFor(score), Issues: issues}
}

// recommend names the lowest-scoring dimension(s).
func recommend(q events.QualityScore) string {
	dims := []struct {
		name  string
		score int
	}{
		{"clarity", q.Clarity.Score},
		{"completeness", q.Completeness.Score},
		{"testability", q.Testability.Score},
		{"consistency", q.Consistency.Score},
	}

	lowest := 100
	for _, d := range dims {
		lowest = min(lowest, d.score)
	}
	if lowest == 100 {
		return "Requirement is well specified; no improvements needed."
	}

	var names []string
	for _, d := range dims {
		if d.score == lowest {
			names = append(names, d.name)
		}
	}
	return fmt.Sprintf("Improve %s (score %d) first.", strings.Join(names, " and "), lowest)
}

// documentTexts are the parts of a document that carry requirement prose.
func documentTexts(doc *events.RequirementDocument) []string {
	texts := make([]string, 0, len(doc.AcceptanceCriteria)+2)
	texts = append(texts, doc.Title, doc.Description)
	return append(texts, doc.AcceptanceCriteria...)
}
