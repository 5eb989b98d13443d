package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antinvestor/requirements/internal/events"
)

//go:embed escalation_rules.yaml
var defaultEscalationRules []byte

// EscalationRule raises the severity of a gap category when a keyword is present.
type EscalationRule struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Category    events.GapCategory `yaml:"category"`
	Severity    events.Severity    `yaml:"severity"`
	Keywords    []string           `yaml:"keywords"`
}

// EscalationRules is the configurable severity escalation table.
type EscalationRules struct {
	Rules []EscalationRule `yaml:"rules"`
}

// DefaultEscalationRules returns the built-in table.
func DefaultEscalationRules() *EscalationRules {
	rules, err := ParseEscalationRules(defaultEscalationRules)
	if err != nil {
		panic(fmt.Sprintf("embedded escalation rules are invalid: %v", err))
	}
	return rules
}

// LoadEscalationRules reads a YAML table from path.
func LoadEscalationRules(path string) (*EscalationRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read escalation rules: %w", err)
	}
	return ParseEscalationRules(data)
}

// ParseEscalationRules decodes and validates a YAML table.
func ParseEscalationRules(data []byte) (*EscalationRules, error) {
	var rules EscalationRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse escalation rules: %w", err)
	}

	for i := range rules.Rules {
		r := &rules.Rules[i]
		if !slices.Contains(events.GapCategories, r.Category) {
			return nil, fmt.Errorf("rule %q: unknown gap category %q", r.Name, r.Category)
		}
		if r.Severity.Rank() == 0 {
			return nil, fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %q: at least one keyword is required", r.Name)
		}
		for k, kw := range r.Keywords {
			r.Keywords[k] = strings.Join(tokenize(kw), " ")
		}
	}
	return &rules, nil
}

// Apply escalates gaps in place and returns how many were raised.
func (r *EscalationRules) Apply(gaps []events.Gap, text phraseText) int {
	if r == nil {
		return 0
	}
	raised := 0
	for _, rule := range r.Rules {
		keyword, ok := text.firstOf(rule.Keywords)
		if !ok {
			continue
		}
		for i := range gaps {
			g := &gaps[i]
			if g.Category != rule.Category || g.Severity.AtLeast(rule.Severity) {
				continue
			}
			g.Severity = rule.Severity
			g.Escalated = true
			g.Description += fmt.Sprintf(" (escalated by %s: %q)", rule.Name, keyword)
			raised++
		}
	}
	return raised
}
