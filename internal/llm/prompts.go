package llm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// PromptBuilder builds prompts for LLM functions.
type PromptBuilder struct {
	templates map[Function]*template.Template
}

// NewPromptBuilder creates a new prompt builder.
func NewPromptBuilder() (*PromptBuilder, error) {
	pb := &PromptBuilder{
		templates: make(map[Function]*template.Template),
	}

	templates := map[Function]string{
		FunctionExtractStructure: extractStructureTemplate,
	}

	for fn, tmpl := range templates {
		t, err := template.New(string(fn)).Funcs(templateFuncs).Parse(tmpl)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", fn, err)
		}
		pb.templates[fn] = t
	}

	return pb, nil
}

// Build builds a prompt for the given function and data.
func (pb *PromptBuilder) Build(fn Function, data any) (string, error) {
	t, ok := pb.templates[fn]
	if !ok {
		return "", fmt.Errorf("unknown function: %s", fn)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}

//nolint:gochecknoglobals // Template functions are inherently global
var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"truncate": func(limit int, s string) string {
		if len(s) <= limit {
			return s
		}
		return s[:limit] + "\n... [truncated]"
	},
}

const extractStructureTemplate = `Decompose the following software requirement into its parts.

## Requirement
Source: {{.SourceKind}}
Title: {{.Title}}

Description:
{{truncate 8000 .Description}}
{{- if .AcceptanceCriteria}}

Acceptance Criteria:
{{- range .AcceptanceCriteria}}
- {{.}}
{{- end}}
{{- end}}

## Instructions
1. actor: the role performing the action (a noun such as "customer"), or "" if none is stated
2. action: the single main verb in base form (e.g. "reset"), or ""
3. object: the thing acted on without articles (e.g. "password"), or ""
4. outcome: the business result the actor expects, or ""
5. preconditions, postconditions, triggers, constraints: short phrases copied or
   paraphrased from the text; use [] when the text states none
6. Do not invent behaviour that the text does not state

## Output Format
Respond with a single JSON object:
{"actor": "", "action": "", "object": "", "outcome": "",
 "preconditions": [], "postconditions": [], "triggers": [], "constraints": []}
`
