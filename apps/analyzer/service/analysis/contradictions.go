package analysis

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// contradiction is a pair of statements that cannot both hold.
type contradiction struct {
	Subject string
	First   string
	Second  string
}

// Location identifies the contradiction for deduplication.
func (c contradiction) Location() string {
	return "statement:" + c.Subject
}

// Describe renders a human readable summary.
func (c contradiction) Describe() string {
	return fmt.Sprintf("%q is described as both %s and %s", c.Subject, c.First, c.Second)
}

//nolint:gochecknoglobals // static tables
var (
	antonymStates = [][2]string{
		{"required", "optional"},
		{"mandatory", "optional"},
		{"enabled", "disabled"},
		{"visible", "hidden"},
		{"allowed", "forbidden"},
		{"allowed", "prohibited"},
	}

	statePattern = regexp.MustCompile(
		`(?i)\b([a-z][a-z -]*?)\s+(?:is|are|must\s+be|should\s+be|shall\s+be|will\s+be|be|remains?)\s+(?:always\s+|marked\s+(?:as\s+)?|set\s+(?:as|to)\s+)?(required|optional|mandatory|enabled|disabled|visible|hidden|allowed|forbidden|prohibited)\b`)

	limitPattern = regexp.MustCompile(
		`(?i)\b(?:maximum|max|at\s+most|no\s+more\s+than|up\s+to|limit(?:ed)?\s+(?:of|to))\s+(?:of\s+)?(\d+)\s+([a-z]+)`)

	genericSubjectNouns = newWordSet("field", "fields", "input", "value", "option", "setting", "flag", "checkbox")
)

// detectContradictions finds antonym states asserted on the same subject and
// conflicting maximum limits for the same unit, in first-seen order.
func detectContradictions(texts ...string) []contradiction {
	type assertion struct {
		state string
		text  string
	}
	states := make(map[string][]assertion)
	var subjects []string
	limits := make(map[string]int)
	var found []contradiction
	reported := make(map[string]bool)

	for _, text := range texts {
		for _, s := range sentences(text) {
			for _, m := range statePattern.FindAllStringSubmatch(s, -1) {
				subject := stateSubject(m[1])
				if subject == "" {
					continue
				}
				if _, ok := states[subject]; !ok {
					subjects = append(subjects, subject)
				}
				states[subject] = append(states[subject], assertion{state: strings.ToLower(m[2]), text: s})
			}

			for _, m := range limitPattern.FindAllStringSubmatch(s, -1) {
				n, err := strconv.Atoi(m[1])
				if err != nil {
					continue
				}
				unit := singular(strings.ToLower(m[2]))
				prev, seen := limits[unit]
				if !seen {
					limits[unit] = n
					continue
				}
				key := "limit:" + unit
				if prev != n && !reported[key] {
					reported[key] = true
					found = append(found, contradiction{
						Subject: "maximum " + unit,
						First:   strconv.Itoa(prev),
						Second:  strconv.Itoa(n),
					})
				}
			}
		}
	}

	for _, subject := range subjects {
		asserted := states[subject]
		for _, pair := range antonymStates {
			hasFirst := slices.ContainsFunc(asserted, func(a assertion) bool { return a.state == pair[0] })
			hasSecond := slices.ContainsFunc(asserted, func(a assertion) bool { return a.state == pair[1] })
			if hasFirst && hasSecond && !reported[subject] {
				reported[subject] = true
				found = append(found, contradiction{Subject: subject, First: pair[0], Second: pair[1]})
			}
		}
	}

	return found
}

// stateSubject keeps up to three trailing content words and drops generic
// nouns such as "field".
func stateSubject(raw string) string {
	words := tokenize(raw)
	start := len(words)
	for start > 0 && len(words)-start < 3 {
		w := words[start-1]
		if articles.has(w) || stopWords.has(w) {
			break
		}
		start--
	}
	words = words[start:]
	for len(words) > 1 && genericSubjectNouns.has(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}
