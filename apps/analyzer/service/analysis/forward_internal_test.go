package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antinvestor/requirements/internal/events"
)

func TestBuildTestGenerationRequest(t *testing.T) {
	result := &events.AnalysisResult{
		RequestID: events.NewRequestID(),
		Document: &events.RequirementDocument{
			Title:              "Pay invoice",
			Description:        "Customers pay invoices.",
			AcceptanceCriteria: []string{"The invoice is marked paid"},
		},
		QualityScore: events.QualityScore{Grade: events.GradeB},
		GeneratedACs: []events.GeneratedAC{
			{ID: "AC-1", Text: "A declined card shows an error", Gherkin: "Scenario: Declined card"},
		},
	}

	plain := buildTestGenerationRequest(result, &events.ForwardRequest{RequestID: result.RequestID})
	assert.Equal(t, []string{"The invoice is marked paid"}, plain.AcceptanceCriteria)
	assert.Empty(t, plain.GherkinScenarios)
	assert.Equal(t, events.GradeB, plain.QualityGrade)

	withGenerated := buildTestGenerationRequest(result, &events.ForwardRequest{
		RequestID:           result.RequestID,
		IncludeGeneratedACs: true,
		TestCasesConfig:     events.TestCasesConfig{Framework: "playwright", MaxCases: 10},
	})
	assert.Equal(t, []string{"The invoice is marked paid", "A declined card shows an error"}, withGenerated.AcceptanceCriteria)
	assert.Equal(t, []string{"Scenario: Declined card"}, withGenerated.GherkinScenarios)
	assert.Equal(t, "playwright", withGenerated.Config.Framework)

	assert.Len(t, result.Document.AcceptanceCriteria, 1, "stored document is untouched")
}
