package analysis

import (
	"regexp"
	"strings"
)

type utteranceKind int

const (
	utteranceStatement utteranceKind = iota
	utteranceQuestion
	utteranceDecision
	utteranceActionItem
)

type utterance struct {
	Timestamp string
	Speaker   string
	Text      string
	Kind      utteranceKind
	Criteria  bool
	Resolved  bool
}

//nolint:gochecknoglobals // static marker tables
var (
	speakerLine = regexp.MustCompile(`^(?:\[(\d{1,2}:\d{2}(?::\d{2})?)\]\s*)?([A-Za-z][A-Za-z0-9 ._'-]{0,40}?)\s*:\s+(.+)$`)

	actionItemMarkers = []string{
		"action item", "todo", "to do", "i'll", "i will", "follow up", "assign",
		"take care of",
	}

	decisionMarkers = []string{
		"decided", "agreed", "let's go with", "we will", "we'll", "must", "should",
		"needs to", "need to", "has to", "have to", "we need", "the system",
	}

	criteriaMarkers = []string{
		"acceptance criteria", "ac", "criterion", "must", "given",
	}

	failureQuestionMarkers = []string{"what happens if", "what if", "what happens when"}
)

// parseTranscript reads speaker-labelled lines. Unlabelled lines continue the
// previous utterance.
func parseTranscript(text string) []utterance {
	var utterances []utterance
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := speakerLine.FindStringSubmatch(line); m != nil {
			utterances = append(utterances, utterance{
				Timestamp: m[1],
				Speaker:   strings.TrimSpace(m[2]),
				Text:      strings.TrimSpace(m[3]),
			})
			continue
		}

		if n := len(utterances); n > 0 {
			utterances[n-1].Text += " " + line
			continue
		}
		utterances = append(utterances, utterance{Text: line})
	}

	for i := range utterances {
		classifyUtterance(&utterances[i])
	}
	for i := range utterances {
		if utterances[i].Kind == utteranceQuestion {
			utterances[i].Resolved = questionResolved(utterances[i], utterances[i+1:])
		}
	}
	return utterances
}

func classifyUtterance(u *utterance) {
	text := newPhraseText(u.Text)
	switch {
	case strings.HasSuffix(strings.TrimSpace(u.Text), "?"):
		u.Kind = utteranceQuestion
	case text.hasAny(actionItemMarkers):
		u.Kind = utteranceActionItem
	case text.hasAny(decisionMarkers):
		u.Kind = utteranceDecision
		u.Criteria = text.hasAny(criteriaMarkers) || strings.Contains(strings.ToLower(u.Text), "ac:")
	default:
		u.Kind = utteranceStatement
	}
}

// keyPhrase is the longest run of consecutive content words.
func keyPhrase(text string) string {
	var best, current []string
	for _, w := range tokenize(text) {
		if stopWords.has(w) {
			current = nil
			continue
		}
		current = append(current, w)
		if len(current) > len(best) {
			best = append([]string(nil), current...)
		}
	}
	return strings.Join(best, " ")
}

// questionResolved reports whether a later non-question line restates the
// question's key phrase.
func questionResolved(q utterance, later []utterance) bool {
	phrase := keyPhrase(q.Text)
	if phrase == "" {
		return false
	}
	for _, u := range later {
		if u.Kind != utteranceQuestion && newPhraseText(u.Text).hasPhrase(phrase) {
			return true
		}
	}
	return false
}

// isFailureQuestion reports whether a question asks about failure behaviour.
func isFailureQuestion(q string) bool {
	text := newPhraseText(q)
	return text.hasAny(errorMarkers) || text.hasAny(failureQuestionMarkers)
}

type transcriptSummary struct {
	Decisions         []string
	Criteria          []string
	OpenQuestions     []string
	ResolvedQuestions []string
	ActionItems       []string
	Speakers          []string
}

func summarizeTranscript(utterances []utterance) transcriptSummary {
	var s transcriptSummary
	speakers := make(map[string]bool)
	for _, u := range utterances {
		if u.Speaker != "" && !speakers[strings.ToLower(u.Speaker)] {
			speakers[strings.ToLower(u.Speaker)] = true
			s.Speakers = append(s.Speakers, u.Speaker)
		}

		switch u.Kind {
		case utteranceQuestion:
			if u.Resolved {
				s.ResolvedQuestions = append(s.ResolvedQuestions, u.Text)
			} else {
				s.OpenQuestions = append(s.OpenQuestions, u.Text)
			}
		case utteranceActionItem:
			s.ActionItems = append(s.ActionItems, u.Text)
		case utteranceDecision:
			s.Decisions = append(s.Decisions, u.Text)
			if u.Criteria {
				s.Criteria = append(s.Criteria, u.Text)
			}
		case utteranceStatement:
		}
	}
	s.Criteria = cleanList(s.Criteria)
	return s
}

// Description synthesises document prose from the decisions taken.
func (s transcriptSummary) Description() string {
	var b strings.Builder
	if len(s.Decisions) > 0 {
		b.WriteString("Decisions:")
		for _, d := range s.Decisions {
			b.WriteString("\n- ")
			b.WriteString(d)
		}
		return b.String()
	}

	b.WriteString("Discussion:")
	for _, q := range append(append([]string(nil), s.OpenQuestions...), s.ResolvedQuestions...) {
		b.WriteString("\n- ")
		b.WriteString(q)
	}
	return b.String()
}
