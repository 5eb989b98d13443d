package analysis

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/requirements/internal/events"
)

func detect(t *testing.T, d *GapDetector, doc *events.RequirementDocument) []events.Gap {
	t.Helper()
	gaps := d.Detect(doc, extractByRules(doc))
	require.True(t, slices.IsSortedFunc(gaps, func(a, b events.Gap) int {
		return b.Severity.Rank() - a.Severity.Rank()
	}), "gaps must be ordered by severity")
	return gaps
}

func gapsOf(gaps []events.Gap, category events.GapCategory) []events.Gap {
	var out []events.Gap
	for _, g := range gaps {
		if g.Category == category {
			out = append(out, g)
		}
	}
	return out
}

func TestGapDetector_PaymentEscalation(t *testing.T) {
	d := NewGapDetector(nil)

	gaps := detect(t, d, testDoc("Pay invoice", "The customer can pay the invoice online."))
	errGaps := gapsOf(gaps, events.GapMissingErrorHandling)
	require.Len(t, errGaps, 1)
	assert.Equal(t, events.SeverityHigh, errGaps[0].Severity)
	assert.True(t, errGaps[0].Escalated)
	assert.Contains(t, errGaps[0].Description, "escalated by financial-error-handling")
	assert.Equal(t, errGaps[0].ID, gaps[0].ID, "escalated gap sorts first")

	gaps = detect(t, d, testDoc("Upload", "The customer can upload a file."))
	errGaps = gapsOf(gaps, events.GapMissingErrorHandling)
	require.Len(t, errGaps, 1)
	assert.Equal(t, events.SeverityMedium, errGaps[0].Severity)
	assert.False(t, errGaps[0].Escalated)
}

func TestGapDetector_ErrorHandlingDescribed(t *testing.T) {
	d := NewGapDetector(nil)

	gaps := detect(t, d, testDoc("Pay invoice",
		"The customer can pay the invoice online. If the card is declined an error message is shown."))
	assert.Empty(t, gapsOf(gaps, events.GapMissingErrorHandling))
}

func TestGapDetector_CustomEscalationTable(t *testing.T) {
	rules, err := ParseEscalationRules([]byte(`
rules:
  - name: file-limits
    category: missing_edge_case
    severity: high
    keywords: [file]
`))
	require.NoError(t, err)

	gaps := detect(t, NewGapDetector(rules), testDoc("Upload", "The customer can upload a file."))
	edge := gapsOf(gaps, events.GapMissingEdgeCase)
	require.Len(t, edge, 1)
	assert.Equal(t, "input:file", edge[0].Location)
	assert.Equal(t, events.SeverityHigh, edge[0].Severity)
	assert.True(t, edge[0].Escalated)

	// the built-in payment rule is replaced, not merged
	gaps = detect(t, NewGapDetector(rules), testDoc("Pay invoice", "The customer can pay the invoice online."))
	errGaps := gapsOf(gaps, events.GapMissingErrorHandling)
	require.Len(t, errGaps, 1)
	assert.Equal(t, events.SeverityMedium, errGaps[0].Severity)
}

func TestParseEscalationRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "rules: [", "parse escalation rules"},
		{"unknown category", "rules:\n  - name: x\n    category: nope\n    severity: high\n    keywords: [a]\n", "unknown gap category"},
		{"unknown severity", "rules:\n  - name: x\n    category: missing_ac\n    severity: urgent\n    keywords: [a]\n", "unknown severity"},
		{"no keywords", "rules:\n  - name: x\n    category: missing_ac\n    severity: high\n", "keyword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEscalationRules([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultEscalationRules(t *testing.T) {
	rules := DefaultEscalationRules()
	require.Len(t, rules.Rules, 1)
	assert.Equal(t, events.GapMissingErrorHandling, rules.Rules[0].Category)
	assert.Equal(t, events.SeverityHigh, rules.Rules[0].Severity)
}

func TestGapDetector_Deduplicates(t *testing.T) {
	gaps := detect(t, NewGapDetector(nil), testDoc("Search", "The page must be fast. The search must be fast."))

	ambiguous := gapsOf(gaps, events.GapAmbiguousTerm)
	require.Len(t, ambiguous, 1)
	assert.Equal(t, "term:fast", ambiguous[0].Location)

	seen := make(map[string]bool)
	for _, g := range gaps {
		key := string(g.Category) + "|" + g.Location
		assert.False(t, seen[key], "duplicate gap %s", key)
		seen[key] = true
	}
}

func TestGapDetector_StableIDs(t *testing.T) {
	d := NewGapDetector(nil)
	doc := testDoc("Pay invoice", "The customer can pay the invoice online.")

	first := detect(t, d, doc)
	second := detect(t, d, doc.Clone())
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.True(t, strings.HasPrefix(first[i].ID, "GAP-"))
	}
}

func TestGapDetector_UndefinedTerms(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        int
	}{
		{"undefined acronym", "Sync orders to the ERP system.", 1},
		{"defined acronym", "Sync orders to the ERP (Enterprise Resource Planning) system.", 0},
		{"common acronym", "Export orders as a PDF.", 0},
		{"ticket key", "Follow up on PAY-123 before release.", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gaps := detect(t, NewGapDetector(nil), testDoc("Orders", tt.description))
			assert.Len(t, gapsOf(gaps, events.GapUndefinedTerm), tt.want)
		})
	}
}

func TestGapDetector_OpenTranscriptQuestions(t *testing.T) {
	doc := testDoc("Meeting transcript", "Decisions:\n- The system must show a receipt.")
	doc.Metadata = map[string]string{
		"open_questions": "What happens if the card is declined?\nWho owns the report?",
	}

	gaps := detect(t, NewGapDetector(nil), doc)
	var fromQuestions []events.Gap
	for _, g := range gapsOf(gaps, events.GapMissingErrorHandling) {
		if strings.HasPrefix(g.Location, prefixOpenQuestion) {
			fromQuestions = append(fromQuestions, g)
		}
	}
	require.Len(t, fromQuestions, 1)
	assert.Equal(t, "open_question:1", fromQuestions[0].Location)
	assert.Equal(t, events.SeverityHigh, fromQuestions[0].Severity, "card keyword escalates")
}

func TestGapDetector_ContradictionIsHigh(t *testing.T) {
	gaps := detect(t, NewGapDetector(nil), testDoc("Profile",
		"The phone field is required.", "The phone field is optional for guests"))

	contradictions := gapsOf(gaps, events.GapContradiction)
	require.Len(t, contradictions, 1)
	assert.Equal(t, events.SeverityHigh, contradictions[0].Severity)
	assert.Equal(t, "statement:phone", contradictions[0].Location)
}
