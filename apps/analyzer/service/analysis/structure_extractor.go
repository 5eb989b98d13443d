package analysis

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/requirements/internal/events"
	"github.com/antinvestor/requirements/internal/llm"
)

const (
	structureSourceRules      = "rules"
	structureSourceCapability = "rules+capability"
	maxObjectWords            = 3
)

//nolint:gochecknoglobals // compiled once
var (
	userStoryPattern = regexp.MustCompile(
		`(?is)\bas\s+(?:an?|the)\s+(.+?)\s*,?\s+i\s+(?:want|need|would\s+like)\s+(?:to\s+)?(.+?)(?:\s*,?\s+so\s+that\s+(.+?))?\s*(?:[.\n]|$)`)

	outcomePattern = regexp.MustCompile(`(?i)\b(?:so\s+that|in\s+order\s+to)\s+([^.\n;]+)`)

	modalVerbPattern = regexp.MustCompile(
		`(?i)\b(?:must|should|shall|will|can|needs?\s+to|wants?\s+to|has\s+to|have\s+to|able\s+to|to)\s+(?:be\s+able\s+to\s+)?([a-z]+)`)

	givenClause   = regexp.MustCompile(`(?i)\bgiven\s+(.+?)(?:\s*,?\s+(?:when|then)\b|$)`)
	whenClause    = regexp.MustCompile(`(?i)\b(?:when|whenever|upon)\s+(.+?)(?:\s*,?\s+then\b|$)`)
	thenClause    = regexp.MustCompile(`(?i)\bthen\s+(.+)$`)
	requireClause = regexp.MustCompile(`(?i)\b(?:assumes|requires|assuming|provided\s+that)\s+(.+)$`)

	constraintMarkers = []string{
		"only", "must", "maximum", "minimum", "at most", "at least", "no more than",
		"within",
	}

	objectStopWords = newWordSet(
		"by", "from", "to", "in", "on", "at", "for", "with", "after", "before",
		"when", "so", "and", "or", "if", "then", "that", "which", "using", "via",
		"into", "within", "without", "until", "once", "while", "as", "of",
	)
)

// StructureExtractor derives an ExtractedStructure from a document using
// deterministic rules, optionally filling gaps from a text capability.
type StructureExtractor struct {
	capability llm.Client
	timeout    time.Duration
}

// NewStructureExtractor creates an extractor. A nil capability disables
// augmentation.
func NewStructureExtractor(capability llm.Client, timeout time.Duration) *StructureExtractor {
	return &StructureExtractor{capability: capability, timeout: timeout}
}

// Extract returns the document structure. degraded is true when the
// capability was configured but failed; err is only set when the rule stage
// cannot run.
func (x *StructureExtractor) Extract(
	ctx context.Context,
	doc *events.RequirementDocument,
	preferred llm.Provider,
) (structure events.ExtractedStructure, degraded bool, err error) {
	if doc == nil || strings.TrimSpace(doc.NormalizedText) == "" {
		return events.ExtractedStructure{}, false, errors.New("document has no text to extract from")
	}

	structure = extractByRules(doc)
	if x.capability == nil {
		return structure, false, nil
	}

	callCtx := ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	hint, capErr := x.augment(callCtx, llm.ExtractStructureInput{
		Title:              doc.Title,
		Description:        doc.Description,
		AcceptanceCriteria: doc.AcceptanceCriteria,
		SourceKind:         doc.SourceKind.String(),
		PreferredProvider:  preferred,
	})
	if capErr != nil {
		util.Log(ctx).WithError(capErr).Warn("structure capability unavailable, using rule output")
		return structure, true, nil
	}

	return mergeHint(structure, hint), false, nil
}

type hintOutcome struct {
	hint *llm.StructureHint
	err  error
}

// augment calls the capability but returns as soon as ctx ends.
func (x *StructureExtractor) augment(ctx context.Context, in llm.ExtractStructureInput) (*llm.StructureHint, error) {
	done := make(chan hintOutcome, 1)
	go func() {
		hint, _, err := x.capability.ExtractStructure(ctx, in)
		done <- hintOutcome{hint: hint, err: err}
	}()

	select {
	case out := <-done:
		return out.hint, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// extractByRules is the deterministic part of extraction.
func extractByRules(doc *events.RequirementDocument) events.ExtractedStructure {
	s := events.ExtractedStructure{Source: structureSourceRules}
	body := doc.Description
	if body == "" {
		body = doc.NormalizedText
	}

	if m := userStoryPattern.FindStringSubmatch(body); m != nil {
		s.Actor = cleanPhrase(m[1])
		s.Action, s.Object = splitActionPhrase(m[2])
		s.Outcome = cleanPhrase(m[3])
	}

	if s.Actor == "" {
		s.Actor = findActor(doc.NormalizedText)
	}
	if s.Action == "" {
		s.Action, s.Object = findAction(body, doc.AcceptanceCriteria)
	}
	if s.Outcome == "" {
		if m := outcomePattern.FindStringSubmatch(body); m != nil {
			s.Outcome = cleanPhrase(m[1])
		}
	}

	var pre, post, triggers, constraints orderedSet
	scan := append(sentences(body), doc.AcceptanceCriteria...)
	for _, text := range scan {
		if m := givenClause.FindStringSubmatch(text); m != nil {
			pre.add(m[1])
		}
		if m := requireClause.FindStringSubmatch(text); m != nil {
			pre.add(m[1])
		}
		if m := whenClause.FindStringSubmatch(text); m != nil {
			triggers.add(m[1])
		}
		if m := thenClause.FindStringSubmatch(text); m != nil {
			post.add(m[1])
		}
		if newPhraseText(text).hasAny(constraintMarkers) {
			constraints.add(text)
		}
	}

	s.Preconditions = pre.items()
	s.Postconditions = post.items()
	s.Triggers = triggers.items()
	s.Constraints = constraints.items()
	return s
}

// mergeHint fills empty fields and appends unseen list items.
func mergeHint(s events.ExtractedStructure, hint *llm.StructureHint) events.ExtractedStructure {
	s.Source = structureSourceCapability
	if hint == nil {
		return s
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = cleanPhrase(v)
		}
	}
	fill(&s.Actor, hint.Actor)
	fill(&s.Action, hint.Action)
	fill(&s.Object, hint.Object)
	fill(&s.Outcome, hint.Outcome)

	s.Preconditions = appendUnseen(s.Preconditions, hint.Preconditions)
	s.Postconditions = appendUnseen(s.Postconditions, hint.Postconditions)
	s.Triggers = appendUnseen(s.Triggers, hint.Triggers)
	s.Constraints = appendUnseen(s.Constraints, hint.Constraints)
	return s
}

func appendUnseen(existing, extra []string) []string {
	var set orderedSet
	for _, e := range existing {
		set.add(e)
	}
	for _, e := range extra {
		set.add(e)
	}
	return set.items()
}

func findActor(text string) string {
	words := tokenize(text)
	for i, w := range words {
		if !actorNouns.has(w) {
			continue
		}
		actor := singular(w)
		// keep one qualifying adjective: "registered user"
		if i > 0 && !stopWords.has(words[i-1]) && !articles.has(words[i-1]) {
			if _, isVerb := verbBase(words[i-1]); !isVerb {
				actor = words[i-1] + " " + actor
			}
		}
		return actor
	}
	return ""
}

// findAction takes the first observable verb after a modal, else an
// imperative first word of a sentence.
func findAction(body string, acs []string) (action, object string) {
	texts := append([]string{body}, acs...)
	for _, text := range texts {
		for _, m := range modalVerbPattern.FindAllStringSubmatchIndex(text, -1) {
			word := strings.ToLower(text[m[2]:m[3]])
			if base, ok := verbBase(word); ok {
				return base, objectAfter(text[m[3]:])
			}
		}
	}
	for _, text := range texts {
		for _, s := range sentences(text) {
			words := strings.Fields(s)
			if len(words) == 0 {
				continue
			}
			if base, ok := verbBase(strings.ToLower(words[0])); ok {
				return base, objectAfter(strings.TrimPrefix(s, words[0]))
			}
		}
	}
	return "", ""
}

// splitActionPhrase turns "reset my password" into ("reset", "password").
func splitActionPhrase(phrase string) (action, object string) {
	phrase = cleanPhrase(phrase)
	first, rest, _ := strings.Cut(phrase, " ")
	if first == "" {
		return "", ""
	}
	action = strings.ToLower(first)
	if base, ok := verbBase(action); ok {
		action = base
	}
	return action, objectAfter(rest)
}

// objectAfter reads the noun phrase at the start of text.
func objectAfter(text string) string {
	var words []string
	for _, w := range tokenize(text) {
		if len(words) == 0 && articles.has(w) {
			continue
		}
		if objectStopWords.has(w) || len(words) == maxObjectWords {
			break
		}
		if len(words) > 0 {
			if _, isVerb := verbBase(w); isVerb {
				break
			}
			// a determiner opens the next phrase; "invoices produces" is noun then verb
			if articles.has(w) || (isPluralForm(words[len(words)-1]) && isPluralForm(w)) {
				break
			}
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

// isPluralForm matches plural nouns and third-person verbs alike.
func isPluralForm(w string) bool {
	return len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss")
}

func cleanPhrase(s string) string {
	s = strings.TrimSpace(inlineSpace.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " "))
	return strings.TrimRight(s, ".,;:!? ")
}

// orderedSet keeps first-seen order and drops case-insensitive duplicates.
type orderedSet struct {
	seen map[string]bool
	list []string
}

func (o *orderedSet) add(item string) {
	item = cleanPhrase(item)
	if item == "" {
		return
	}
	if o.seen == nil {
		o.seen = make(map[string]bool)
	}
	key := strings.ToLower(item)
	if o.seen[key] {
		return
	}
	o.seen[key] = true
	o.list = append(o.list, item)
}

func (o *orderedSet) items() []string {
	if o.list == nil {
		return []string{}
	}
	return o.list
}
