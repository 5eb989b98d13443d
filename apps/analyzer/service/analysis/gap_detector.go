package analysis

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/antinvestor/requirements/internal/events"
)

// Gap locations.
const (
	locationDescription    = "description"
	locationPreconditions  = "structure:preconditions"
	locationPostconditions = "structure:postconditions"
	prefixACClass          = "acceptance_criteria:"
	prefixTerm             = "term:"
	prefixInput            = "input:"
	prefixOpenQuestion     = "open_question:"
)

// gapFinding is what a rule reports before ids and severities are assigned.
type gapFinding struct {
	Location    string
	Description string
	Suggestion  string
}

// gapInput is the read-only view every rule evaluates.
type gapInput struct {
	doc           *events.RequirementDocument
	structure     events.ExtractedStructure
	text          phraseText
	rawText       string
	openQuestions []string
}

// gapRule detects one gap category.
type gapRule struct {
	Category        events.GapCategory
	DefaultSeverity events.Severity
	detect          func(in *gapInput) []gapFinding
}

// GapDetector runs the per-category rules and the escalation table.
type GapDetector struct {
	rules      []gapRule
	escalation *EscalationRules
}

// NewGapDetector creates a detector. A nil table uses the built-in one.
func NewGapDetector(escalation *EscalationRules) *GapDetector {
	if escalation == nil {
		escalation = DefaultEscalationRules()
	}
	return &GapDetector{rules: initGapRules(), escalation: escalation}
}

func initGapRules() []gapRule {
	return []gapRule{
		{Category: events.GapMissingAC, DefaultSeverity: events.SeverityMedium, detect: detectMissingAC},
		{Category: events.GapAmbiguousTerm, DefaultSeverity: events.SeverityMedium, detect: detectAmbiguousTerms},
		{Category: events.GapUndefinedTerm, DefaultSeverity: events.SeverityLow, detect: detectUndefinedTerms},
		{Category: events.GapMissingErrorHandling, DefaultSeverity: events.SeverityMedium, detect: detectMissingErrorHandling},
		{Category: events.GapMissingEdgeCase, DefaultSeverity: events.SeverityLow, detect: detectMissingEdgeCases},
		{Category: events.GapMissingPrecondition, DefaultSeverity: events.SeverityLow, detect: detectMissingPrecondition},
		{Category: events.GapMissingPostcondition, DefaultSeverity: events.SeverityLow, detect: detectMissingPostcondition},
		{Category: events.GapContradiction, DefaultSeverity: events.SeverityHigh, detect: detectContradictionGaps},
	}
}

// Detect returns deduplicated, escalated and ordered gaps.
func (d *GapDetector) Detect(doc *events.RequirementDocument, s events.ExtractedStructure) []events.Gap {
	in := &gapInput{
		doc:       doc,
		structure: s,
		text:      newPhraseText(doc.NormalizedText),
		rawText:   strings.Join(documentTexts(doc), "\n"),
	}
	if oq := doc.Metadata["open_questions"]; oq != "" {
		in.openQuestions = strings.Split(oq, "\n")
	}

	seen := make(map[string]bool)
	gaps := []events.Gap{}
	for _, rule := range d.rules {
		for _, f := range rule.detect(in) {
			key := string(rule.Category) + "|" + f.Location
			if seen[key] {
				continue
			}
			seen[key] = true
			gaps = append(gaps, events.Gap{
				ID:          gapID(rule.Category, f.Location),
				Category:    rule.Category,
				Severity:    rule.DefaultSeverity,
				Description: f.Description,
				Location:    f.Location,
				Suggestion:  f.Suggestion,
			})
		}
	}

	d.escalation.Apply(gaps, newPhraseText(doc.NormalizedText+"\n"+strings.Join(in.openQuestions, "\n")))
	SortGaps(gaps)
	return gaps
}

// SortGaps orders by severity, category and location.
func SortGaps(gaps []events.Gap) {
	slices.SortStableFunc(gaps, func(a, b events.Gap) int {
		if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(
			slices.Index(events.GapCategories, a.Category),
			slices.Index(events.GapCategories, b.Category),
		); c != 0 {
			return c
		}
		return strings.Compare(a.Location, b.Location)
	})
}

// gapID is stable across versions so answers can follow a gap.
func gapID(category events.GapCategory, location string) string {
	return "GAP-" + shortHash(string(category)+":"+location)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// =============================================================================
// Rules
// =============================================================================

func detectMissingAC(in *gapInput) []gapFinding {
	var out []gapFinding
	for _, class := range ClassifyScenarios(in.doc.AcceptanceCriteria).Missing() {
		out = append(out, gapFinding{
			Location:    prefixACClass + string(class),
			Description: fmt.Sprintf("No acceptance criterion covers the %s scenario", scenarioLabel(class)),
			Suggestion:  fmt.Sprintf("Add an acceptance criterion describing the %s scenario", scenarioLabel(class)),
		})
	}
	return out
}

func detectAmbiguousTerms(in *gapInput) []gapFinding {
	var out []gapFinding
	for _, term := range unquantifiedSubjectiveTerms(documentTexts(in.doc)...) {
		out = append(out, gapFinding{
			Location:    prefixTerm + term,
			Description: fmt.Sprintf("%q is subjective and has no measurable qualifier", term),
			Suggestion:  fmt.Sprintf("Replace %q with a measurable target", term),
		})
	}
	return out
}

var acronymPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,5}s?\b`)

func detectUndefinedTerms(in *gapInput) []gapFinding {
	var out []gapFinding
	seen := make(map[string]bool)
	text := in.rawText
	for _, loc := range acronymPattern.FindAllStringIndex(text, -1) {
		// ticket keys such as PAY-123
		if loc[1] < len(text) && text[loc[1]] == '-' {
			continue
		}
		acronym := strings.TrimSuffix(text[loc[0]:loc[1]], "s")
		if seen[acronym] || commonAcronyms.has(acronym) || !hasUpperRun(acronym) {
			continue
		}
		seen[acronym] = true
		if strings.Contains(text, "("+acronym+")") || strings.Contains(text, acronym+" (") {
			continue
		}
		out = append(out, gapFinding{
			Location:    prefixTerm + acronym,
			Description: fmt.Sprintf("Acronym %q is not defined", acronym),
			Suggestion:  fmt.Sprintf("Expand %q on first use or add it to the glossary", acronym),
		})
	}
	return out
}

// hasUpperRun rejects digit-heavy tokens such as "A1".
func hasUpperRun(s string) bool {
	upper := 0
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			upper++
		}
	}
	return upper >= 2
}

func detectMissingErrorHandling(in *gapInput) []gapFinding {
	var out []gapFinding
	if op, ok := in.text.firstOf(failureProneOperations); ok && !in.text.hasAny(errorMarkers) {
		out = append(out, gapFinding{
			Location:    locationDescription,
			Description: fmt.Sprintf("The %q operation can fail but no error handling is described", op),
			Suggestion:  "Describe what the user sees and what the system does when the operation fails",
		})
	}

	for i, q := range in.openQuestions {
		if !isFailureQuestion(q) {
			continue
		}
		out = append(out, gapFinding{
			Location:    fmt.Sprintf("%s%d", prefixOpenQuestion, i+1),
			Description: fmt.Sprintf("Open question about failure handling: %s", q),
			Suggestion:  "Decide the failure behaviour and record it as an acceptance criterion",
		})
	}
	return out
}

func detectMissingEdgeCases(in *gapInput) []gapFinding {
	if in.text.hasAny(edgeMarkers) {
		return nil
	}
	var out []gapFinding
	seen := make(map[string]bool)
	for _, noun := range inputNouns {
		key := singular(noun)
		if seen[key] || !in.text.hasPhrase(noun) {
			continue
		}
		seen[key] = true
		out = append(out, gapFinding{
			Location:    prefixInput + key,
			Description: fmt.Sprintf("No boundary behaviour is defined for %q", key),
			Suggestion:  fmt.Sprintf("State the minimum, maximum and empty behaviour for %q", key),
		})
	}
	return out
}

func detectMissingPrecondition(in *gapInput) []gapFinding {
	if len(in.structure.Preconditions) > 0 {
		return nil
	}
	return []gapFinding{{
		Location:    locationPreconditions,
		Description: "No preconditions are stated",
		Suggestion:  "State what must be true before the behaviour starts (for example with \"Given\")",
	}}
}

func detectMissingPostcondition(in *gapInput) []gapFinding {
	if len(in.structure.Postconditions) > 0 || in.structure.Outcome != "" {
		return nil
	}
	return []gapFinding{{
		Location:    locationPostconditions,
		Description: "No postcondition or expected outcome is stated",
		Suggestion:  "State the observable result (for example with \"Then\")",
	}}
}

func detectContradictionGaps(in *gapInput) []gapFinding {
	var out []gapFinding
	for _, c := range detectContradictions(documentTexts(in.doc)...) {
		out = append(out, gapFinding{
			Location:    c.Location(),
			Description: c.Describe(),
			Suggestion:  fmt.Sprintf("Decide whether %q is %s or %s", c.Subject, c.First, c.Second),
		})
	}
	return out
}

func scenarioLabel(class ScenarioClass) string {
	switch class {
	case ScenarioHappyPath:
		return "happy path"
	case ScenarioError:
		return "error"
	case ScenarioEdge:
		return "edge case"
	default:
		return string(class)
	}
}
