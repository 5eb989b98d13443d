package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antinvestor/requirements/internal/events"
)

// ExportAnalysis renders a stored result.
func (e *Engine) ExportAnalysis(ctx context.Context, id events.RequestID, format events.ExportFormat) ([]byte, error) {
	if format == "" {
		format = events.ExportText
	}
	if format != events.ExportText && format != events.ExportJSON {
		return nil, newInputError("format", "unsupported export format %q", format)
	}

	result, err := e.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if format == events.ExportJSON {
		return RenderJSON(result)
	}
	return []byte(RenderText(result)), nil
}

// RenderJSON is the machine-readable export. Decoding it yields the same
// gaps, questions and generated criteria as the stored result.
func RenderJSON(result *events.AnalysisResult) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}
	return data, nil
}

// RenderText is the human-readable report. Sections always appear in the
// same order.
func RenderText(r *events.AnalysisResult) string {
	var b strings.Builder

	title := ""
	if r.Document != nil {
		title = r.Document.Title
	}
	fmt.Fprintf(&b, "# Requirement Analysis: %s\n\n", title)
	fmt.Fprintf(&b, "Request: %s (version %d)\n", r.RequestID, r.Version)
	if !r.OriginalRequestID.IsZero() {
		fmt.Fprintf(&b, "Reanalysis of: %s\n", r.OriginalRequestID)
	}

	writeQuality(&b, r.QualityScore)
	writeStructure(&b, r.Structure)
	writeCriteria(&b, r)
	writeGaps(&b, r.Gaps)
	writeQuestions(&b, r.Questions, r.AnsweredQuestions)
	writeDomain(&b, r.DomainValidation)
	writeReadiness(&b, r)

	return b.String()
}

func writeQuality(b *strings.Builder, q events.QualityScore) {
	b.WriteString("\n## Quality Assessment\n\n")
	b.WriteString("| Dimension | Score | Grade |\n")
	b.WriteString("|---|---|---|\n")
	rows := []struct {
		name string
		dim  events.DimensionScore
	}{
		{"Clarity", q.Clarity},
		{"Completeness", q.Completeness},
		{"Testability", q.Testability},
		{"Consistency", q.Consistency},
	}
	for _, row := range rows {
		fmt.Fprintf(b, "| %s | %d | %s |\n", row.name, row.dim.Score, row.dim.Grade)
	}
	fmt.Fprintf(b, "| **Overall** | **%d** | **%s** |\n", q.Overall, q.Grade)
	if q.Recommendation != "" {
		fmt.Fprintf(b, "\n%s\n", q.Recommendation)
	}
}

func writeStructure(b *strings.Builder, s events.ExtractedStructure) {
	b.WriteString("\n## Extracted Requirement\n\n")
	fmt.Fprintf(b, "- Actor: %s\n", orNone(s.Actor))
	fmt.Fprintf(b, "- Action: %s\n", orNone(s.Action))
	fmt.Fprintf(b, "- Object: %s\n", orNone(s.Object))
	fmt.Fprintf(b, "- Outcome: %s\n", orNone(s.Outcome))
	writeList(b, "Preconditions", s.Preconditions)
	writeList(b, "Postconditions", s.Postconditions)
	writeList(b, "Triggers", s.Triggers)
	writeList(b, "Constraints", s.Constraints)
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "- %s: none\n", label)
		return
	}
	fmt.Fprintf(b, "- %s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

func writeCriteria(b *strings.Builder, r *events.AnalysisResult) {
	b.WriteString("\n## Acceptance Criteria\n\n### Original\n\n")
	if r.Document == nil || len(r.Document.AcceptanceCriteria) == 0 {
		b.WriteString("None provided.\n")
	} else {
		for i, ac := range r.Document.AcceptanceCriteria {
			fmt.Fprintf(b, "%d. %s\n", i+1, ac)
		}
	}

	b.WriteString("\n### Generated\n\n")
	if len(r.GeneratedACs) == 0 {
		b.WriteString("None.\n")
		return
	}
	for _, ac := range r.GeneratedACs {
		fmt.Fprintf(b, "- [%s] %s (source: %s, confidence: %.2f)\n", ac.ID, ac.Text, ac.Source, ac.Confidence)
		b.WriteString("\n```gherkin\n")
		b.WriteString(ac.Gherkin)
		b.WriteString("\n```\n\n")
	}
}

func writeGaps(b *strings.Builder, gaps []events.Gap) {
	b.WriteString("\n## Gaps\n\n")
	if len(gaps) == 0 {
		b.WriteString("No gaps detected.\n")
		return
	}
	b.WriteString("| ID | Severity | Category | Location | Description | Status |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, g := range gaps {
		status := "open"
		if g.Resolved {
			status = "resolved by " + g.ResolvedBy
		}
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s | %s |\n",
			g.ID, g.Severity, g.Category, g.Location, escapeCell(g.Description), status)
	}
}

func writeQuestions(b *strings.Builder, open, answered []events.ClarifyingQuestion) {
	b.WriteString("\n## Clarifying Questions\n")
	if len(open) == 0 && len(answered) == 0 {
		b.WriteString("\nNo questions.\n")
		return
	}

	for _, priority := range []events.Severity{events.SeverityHigh, events.SeverityMedium, events.SeverityLow} {
		var group []events.ClarifyingQuestion
		for _, q := range open {
			if q.Priority == priority {
				group = append(group, q)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n### %s priority\n\n", strings.ToUpper(string(priority[:1]))+string(priority[1:]))
		for _, q := range group {
			fmt.Fprintf(b, "- [%s] %s\n", q.ID, q.Question)
			if len(q.SuggestedAnswers) > 0 {
				fmt.Fprintf(b, "  Suggested: %s\n", strings.Join(q.SuggestedAnswers, "; "))
			}
		}
	}

	if len(answered) > 0 {
		b.WriteString("\n### Answered\n\n")
		for _, q := range answered {
			fmt.Fprintf(b, "- [%s] %s\n  Answer: %s\n", q.ID, q.Question, q.Answer)
		}
	}
}

func writeDomain(b *strings.Builder, d *events.DomainValidation) {
	b.WriteString("\n## Domain Validation\n\n")
	if d == nil {
		b.WriteString("Status: skipped\n")
		return
	}
	fmt.Fprintf(b, "Status: %s\n", d.Status)
	if d.Status == events.DomainValidated {
		fmt.Fprintf(b, "Valid: %t\n", d.Valid)
	}
	if len(d.EntityMappings) > 0 {
		b.WriteString("\nEntity mappings:\n")
		for _, m := range d.EntityMappings {
			fmt.Fprintf(b, "- %s -> %s (%.2f)\n", m.Term, m.Entity, m.Confidence)
		}
	}
	if len(d.ApplicableRules) > 0 {
		b.WriteString("\nApplicable rules:\n")
		for _, rule := range d.ApplicableRules {
			fmt.Fprintf(b, "- %s: %s\n", rule.Name, rule.Description)
		}
	}
	if len(d.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range d.Warnings {
			fmt.Fprintf(b, "- %s\n", w)
		}
	}
}

func writeReadiness(b *strings.Builder, r *events.AnalysisResult) {
	b.WriteString("\n## Readiness\n\n")
	verdict := "NOT READY"
	if r.ReadyForTestGeneration {
		verdict = "READY"
	}
	fmt.Fprintf(b, "Verdict: %s (%s)\n", verdict, r.ReadinessState)
	for _, blocker := range r.Blockers {
		fmt.Fprintf(b, "- Blocker: %s\n", blocker)
	}

	b.WriteString("\n### Next Steps\n\n")
	for i, step := range nextSteps(r) {
		fmt.Fprintf(b, "%d. %s\n", i+1, step)
	}
}

func nextSteps(r *events.AnalysisResult) []string {
	if r.ReadyForTestGeneration {
		steps := []string{"Forward the requirement to test case generation."}
		if len(r.GeneratedACs) > 0 {
			steps = append(steps, "Review the generated acceptance criteria and include the accepted ones.")
		}
		return steps
	}

	var steps []string
	high := 0
	for _, q := range r.Questions {
		if q.Priority == events.SeverityHigh {
			high++
		}
	}
	if high > 0 {
		steps = append(steps, fmt.Sprintf("Answer the %d high-priority question(s).", high))
	}
	if r.GapSummary.High > 0 {
		steps = append(steps, fmt.Sprintf("Address the %d high-severity gap(s).", r.GapSummary.High))
	}
	if len(r.GeneratedACs) > 0 {
		steps = append(steps, "Accept or edit the generated acceptance criteria.")
	}
	return append(steps, "Submit the answers for reanalysis.")
}

func orNone(s string) string {
	if s == "" {
		return "(not identified)"
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
