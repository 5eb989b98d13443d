package analysis

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"text/template"

	"github.com/antinvestor/requirements/internal/events"
)

// Confidence model.
const (
	baseConfidenceDomain     = 0.75
	baseConfidenceStructure  = 0.65
	baseConfidenceGap        = 0.50
	confidencePerEvidence    = 0.05
	maxGeneratedACConfidence = 0.95
)

const gherkinTemplate = `Scenario: {{.Scenario}}
  Given {{.Given}}
  When {{.When}}
  Then {{.Then}}`

// gherkinScenario fills gherkinTemplate.
type gherkinScenario struct {
	Scenario string
	Given    string
	When     string
	Then     string
}

// ACGenerator synthesises candidate acceptance criteria from gaps, structure
// and domain rules.
type ACGenerator struct {
	gherkin *template.Template
}

// NewACGenerator creates a generator.
func NewACGenerator() (*ACGenerator, error) {
	t, err := template.New("gherkin").Option("missingkey=error").Parse(gherkinTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse gherkin template: %w", err)
	}
	return &ACGenerator{gherkin: t}, nil
}

// Generate returns ACs ordered by confidence, highest first.
func (g *ACGenerator) Generate(
	gaps []events.Gap,
	s events.ExtractedStructure,
	domain *events.DomainValidation,
) ([]events.GeneratedAC, error) {
	subject := describeStructure(s)
	acs := []events.GeneratedAC{}

	if domain != nil {
		for _, rule := range domain.ApplicableRules {
			if strings.TrimSpace(rule.Criterion) == "" {
				continue
			}
			ac, err := g.build(events.ACSourceDomainKnowledge, "rule:"+rule.ID, "", rule.Criterion,
				gherkinScenario{
					Scenario: rule.Name,
					Given:    subject.given,
					When:     subject.when,
					Then:     lowerFirst(strings.TrimSuffix(rule.Criterion, ".")),
				},
				evidence(s, domain, false))
			if err != nil {
				return nil, err
			}
			acs = append(acs, ac)
		}
	}

	for _, gap := range gaps {
		if gap.Resolved {
			continue
		}
		source, text, scenario, ok := gapCriterion(gap, s, subject)
		if !ok {
			continue
		}
		ac, err := g.build(source, gap.ID, gap.ID, text, scenario,
			evidence(s, domain, gap.Severity == events.SeverityHigh))
		if err != nil {
			return nil, err
		}
		acs = append(acs, ac)
	}

	slices.SortStableFunc(acs, func(a, b events.GeneratedAC) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return acs, nil
}

func (g *ACGenerator) build(
	source events.ACSource,
	key, gapID, text string,
	scenario gherkinScenario,
	evidence []string,
) (events.GeneratedAC, error) {
	var buf bytes.Buffer
	if err := g.gherkin.Execute(&buf, scenario); err != nil {
		return events.GeneratedAC{}, fmt.Errorf("render gherkin: %w", err)
	}
	return events.GeneratedAC{
		ID:         "AC-" + shortHash(string(source)+":"+key),
		Source:     source,
		Confidence: confidence(source, len(evidence)),
		Text:       text,
		Gherkin:    buf.String(),
		GapID:      gapID,
		Evidence:   evidence,
	}, nil
}

// confidence is the source baseline plus corroborating evidence, capped.
func confidence(source events.ACSource, evidenceCount int) float64 {
	var base float64
	switch source {
	case events.ACSourceDomainKnowledge:
		base = baseConfidenceDomain
	case events.ACSourceStructureExtraction:
		base = baseConfidenceStructure
	case events.ACSourceGapDetection:
		base = baseConfidenceGap
	}
	c := min(base+confidencePerEvidence*float64(evidenceCount), maxGeneratedACConfidence)
	return math.Round(c*100) / 100
}

func evidence(s events.ExtractedStructure, domain *events.DomainValidation, highSeverity bool) []string {
	var ev []string
	if s.Actor != "" {
		ev = append(ev, "actor")
	}
	if s.Action != "" {
		ev = append(ev, "action")
	}
	if s.Object != "" {
		ev = append(ev, "object")
		if _, mapped := domain.MappingFor(s.Object); mapped {
			ev = append(ev, "domain_mapping")
		}
	}
	if highSeverity {
		ev = append(ev, "high_severity")
	}
	return ev
}

// structureSubject holds phrases reused across templates.
type structureSubject struct {
	actor     string
	operation string
	object    string
	given     string
	when      string
	outcome   string
}

func describeStructure(s events.ExtractedStructure) structureSubject {
	sub := structureSubject{
		actor:     cmp.Or(s.Actor, "user"),
		object:    cmp.Or(s.Object, "request"),
		operation: strings.TrimSpace(s.Action + " " + s.Object),
	}
	if sub.operation == "" {
		sub.operation = "complete the request"
	}

	sub.given = "the " + sub.actor + " is ready to " + sub.operation
	if len(s.Preconditions) > 0 {
		sub.given = lowerFirst(s.Preconditions[0])
	}
	sub.when = "the " + sub.actor + " attempts to " + sub.operation
	if len(s.Triggers) > 0 {
		sub.when = lowerFirst(s.Triggers[0])
	}

	switch {
	case s.Outcome != "":
		sub.outcome = lowerFirst(s.Outcome)
	case len(s.Postconditions) > 0:
		sub.outcome = lowerFirst(s.Postconditions[0])
	default:
		sub.outcome = "the " + sub.object + " reflects the completed action"
	}
	return sub
}

// gapCriterion maps a qualifying gap to a criterion.
func gapCriterion(
	gap events.Gap,
	s events.ExtractedStructure,
	sub structureSubject,
) (events.ACSource, string, gherkinScenario, bool) {
	switch gap.Category {
	case events.GapMissingAC:
		switch ScenarioClass(strings.TrimPrefix(gap.Location, prefixACClass)) {
		case ScenarioHappyPath:
			source := events.ACSourceGapDetection
			if s.Action != "" {
				source = events.ACSourceStructureExtraction
			}
			return source,
				fmt.Sprintf("The %s can %s successfully and %s", sub.actor, sub.operation, sub.outcome),
				gherkinScenario{
					Scenario: "Successful " + sub.operation,
					Given:    sub.given,
					When:     sub.when,
					Then:     sub.outcome,
				}, true
		case ScenarioError:
			return events.ACSourceGapDetection,
				fmt.Sprintf("If %s fails, the %s sees an error message and no partial changes are saved", sub.operation, sub.actor),
				gherkinScenario{
					Scenario: "Failed " + sub.operation,
					Given:    sub.given,
					When:     sub.when + " and the operation fails",
					Then:     "an error message is shown and no partial changes are saved",
				}, true
		case ScenarioEdge:
			return events.ACSourceGapDetection,
				fmt.Sprintf("Values for the %s outside the allowed limits are rejected with a validation message", sub.object),
				gherkinScenario{
					Scenario: "Boundary values for " + sub.object,
					Given:    sub.given,
					When:     "the " + sub.actor + " submits the " + sub.object + " at and beyond its limits",
					Then:     "values within the limits are accepted and values beyond them are rejected with a validation message",
				}, true
		}
	case events.GapMissingErrorHandling:
		return events.ACSourceGapDetection,
			fmt.Sprintf("When %s fails or times out, the %s is informed and the system retries or rolls back", sub.operation, sub.actor),
			gherkinScenario{
				Scenario: "Failure handling for " + sub.operation,
				Given:    sub.given,
				When:     sub.when + " and the operation fails or times out",
				Then:     "the " + sub.actor + " is informed of the failure and no inconsistent state remains",
			}, true
	case events.GapMissingEdgeCase:
		input := strings.TrimPrefix(gap.Location, prefixInput)
		return events.ACSourceGapDetection,
			fmt.Sprintf("An empty or out-of-range %s is rejected with a validation message", input),
			gherkinScenario{
				Scenario: "Invalid " + input,
				Given:    sub.given,
				When:     "the " + sub.actor + " provides an empty or out-of-range " + input,
				Then:     "the " + input + " is rejected with a validation message",
			}, true
	case events.GapMissingPostcondition:
		return events.ACSourceGapDetection,
			fmt.Sprintf("After %s completes, the result is visible to the %s", sub.operation, sub.actor),
			gherkinScenario{
				Scenario: "Result of " + sub.operation,
				Given:    sub.given,
				When:     sub.when,
				Then:     "the result is visible to the " + sub.actor,
			}, true
	case events.GapAmbiguousTerm, events.GapUndefinedTerm, events.GapMissingPrecondition, events.GapContradiction:
	}
	return "", "", gherkinScenario{}, false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	// keep acronyms such as "API"
	if len(s) > 1 && strings.ToUpper(s[:2]) == s[:2] {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
