package analysis

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/antinvestor/requirements/internal/events"
)

const maxDerivedTitleRunes = 80

// Normalize converts any supported input into a RequirementDocument.
// Identifiers, version and timestamps are assigned by the engine.
func Normalize(input *events.RequirementInput) (*events.RequirementDocument, error) {
	if input == nil {
		return nil, newInputError("input", "is required")
	}
	if err := checkVariant(input); err != nil {
		return nil, err
	}

	switch input.Kind {
	case events.SourceJira:
		return normalizeJira(input.Jira)
	case events.SourceFreeForm:
		return normalizeFreeForm(input.FreeForm)
	case events.SourceTranscript:
		return normalizeTranscript(input.Transcript)
	default:
		return nil, newInputError("input.kind", "unsupported source kind %q", input.Kind)
	}
}

// checkVariant enforces that exactly the variant named by Kind is set.
func checkVariant(input *events.RequirementInput) error {
	set := map[events.SourceKind]bool{
		events.SourceJira:       input.Jira != nil,
		events.SourceFreeForm:   input.FreeForm != nil,
		events.SourceTranscript: input.Transcript != nil,
	}
	if _, known := set[input.Kind]; !known {
		return newInputError("input.kind", "unsupported source kind %q", input.Kind)
	}
	for kind, present := range set {
		if kind != input.Kind && present {
			return newInputError("input", "%s payload given for kind %s", kind, input.Kind)
		}
	}
	if !set[input.Kind] {
		return newInputError("input", "%s payload is required", input.Kind)
	}
	return nil
}

func normalizeJira(j *events.JiraInput) (*events.RequirementDocument, error) {
	summary := strings.TrimSpace(j.Summary)
	if summary == "" {
		return nil, newInputError("input.jira.summary", "must not be empty")
	}
	description := normalizeWhitespace(j.Description)
	if description == "" {
		return nil, newInputError("input.jira.description", "must not be empty")
	}

	metadata := map[string]string{}
	setIfPresent(metadata, "jira_key", j.Key)
	setIfPresent(metadata, "priority", j.Priority)
	setIfPresent(metadata, "issue_type", j.IssueType)
	setIfPresent(metadata, "components", strings.Join(cleanList(j.Components), ","))

	return newDocument(events.SourceJira, summary, description,
		cleanList(j.AcceptanceCriteria), cleanList(j.Labels), metadata, j)
}

func normalizeFreeForm(f *events.FreeFormInput) (*events.RequirementDocument, error) {
	text := normalizeWhitespace(f.Text)
	if text == "" {
		return nil, newInputError("input.free_form.text", "must not be empty")
	}

	title := strings.TrimSpace(f.Title)
	if title == "" {
		title = deriveTitle(text)
	}

	metadata := map[string]string{}
	setIfPresent(metadata, "context", strings.TrimSpace(f.Context))

	return newDocument(events.SourceFreeForm, title, text, nil, cleanList(f.Labels), metadata, f)
}

func normalizeTranscript(t *events.TranscriptInput) (*events.RequirementDocument, error) {
	if strings.TrimSpace(t.Transcript) == "" {
		return nil, newInputError("input.transcript.transcript", "must not be empty")
	}

	summary := summarizeTranscript(parseTranscript(t.Transcript))
	if len(summary.Decisions) == 0 && len(summary.OpenQuestions) == 0 && len(summary.ResolvedQuestions) == 0 {
		return nil, newInputError("input.transcript.transcript", "contains no decisions or questions")
	}

	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = strings.TrimSpace("Meeting transcript " + t.MeetingDate)
	}

	metadata := map[string]string{}
	setIfPresent(metadata, "open_questions", strings.Join(summary.OpenQuestions, "\n"))
	setIfPresent(metadata, "resolved_questions", strings.Join(summary.ResolvedQuestions, "\n"))
	setIfPresent(metadata, "action_items", strings.Join(summary.ActionItems, "\n"))
	setIfPresent(metadata, "participants", strings.Join(mergeUnique(summary.Speakers, cleanList(t.Participants)), ","))
	setIfPresent(metadata, "meeting_date", strings.TrimSpace(t.MeetingDate))

	return newDocument(events.SourceTranscript, title, summary.Description(), summary.Criteria, nil, metadata, t)
}

func newDocument(
	kind events.SourceKind,
	title, description string,
	acs, labels []string,
	metadata map[string]string,
	raw any,
) (*events.RequirementDocument, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, newInputError("input", "payload is not serialisable: %v", err)
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	doc := &events.RequirementDocument{
		Title:              title,
		Description:        description,
		SourceKind:         kind,
		RawPayload:         payload,
		AcceptanceCriteria: acs,
		Labels:             labels,
		Metadata:           metadata,
	}
	doc.NormalizedText = normalizedText(doc)
	return doc, nil
}

// normalizedText is the text every later stage scans.
func normalizedText(doc *events.RequirementDocument) string {
	parts := make([]string, 0, len(doc.AcceptanceCriteria)+2)
	parts = append(parts, doc.Title, doc.Description)
	parts = append(parts, doc.AcceptanceCriteria...)
	return normalizeWhitespace(strings.Join(parts, "\n"))
}

var (
	inlineSpace  = regexp.MustCompile(`[ \t\r\f\v]+`)
	bulletPrefix = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)
)

// normalizeWhitespace collapses runs of spaces, trims every line and drops
// blank lines.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// cleanList trims entries, strips list bullets and drops empties and duplicates.
func cleanList(items []string) []string {
	var out []string
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(bulletPrefix.ReplaceAllString(strings.TrimSpace(item), ""))
		item = inlineSpace.ReplaceAllString(item, " ")
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func mergeUnique(lists ...[]string) []string {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	return cleanList(all)
}

func deriveTitle(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if r := []rune(first); len(r) > maxDerivedTitleRunes {
		return strings.TrimSpace(string(r[:maxDerivedTitleRunes]))
	}
	return first
}

func setIfPresent(m map[string]string, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		m[key] = value
	}
}
