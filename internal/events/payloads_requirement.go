package events

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// ===== REQUIREMENT INPUT =====

// SourceKind identifies the input variant a requirement came from.
type SourceKind string

const (
	SourceJira       SourceKind = "JIRA"
	SourceFreeForm   SourceKind = "FREE_FORM"
	SourceTranscript SourceKind = "TRANSCRIPT"
)

// String returns the string representation.
func (k SourceKind) String() string {
	return string(k)
}

// RequirementInput is a tagged union over the supported input shapes.
// Exactly one of the variant fields must be set and it must match Kind.
type RequirementInput struct {
	Kind       SourceKind       `json:"kind"`
	Jira       *JiraInput       `json:"jira,omitempty"`
	FreeForm   *FreeFormInput   `json:"free_form,omitempty"`
	Transcript *TranscriptInput `json:"transcript,omitempty"`
}

// JiraInput is a structured ticket export.
type JiraInput struct {
	Key                string   `json:"key,omitempty"`
	Summary            string   `json:"summary"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Labels             []string `json:"labels,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	IssueType          string   `json:"issue_type,omitempty"`
	Components         []string `json:"components,omitempty"`
}

// FreeFormInput is unstructured requirement prose.
type FreeFormInput struct {
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Context string   `json:"context,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

// TranscriptInput is a speaker-labelled meeting transcript.
type TranscriptInput struct {
	Title        string   `json:"title,omitempty"`
	Transcript   string   `json:"transcript"`
	Participants []string `json:"participants,omitempty"`
	MeetingDate  string   `json:"meeting_date,omitempty"`
}

// ===== NORMALIZED DOCUMENT =====

// RequirementDocument is the canonical, normalized form of any input.
// Documents are never mutated once assembled; use Clone to derive a new one.
type RequirementDocument struct {
	ID                 DocumentID        `json:"id"`
	RequestID          RequestID         `json:"request_id"`
	OriginalRequestID  RequestID         `json:"original_request_id"`
	Version            int               `json:"version"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	SourceKind         SourceKind        `json:"source_kind"`
	RawPayload         json.RawMessage   `json:"raw_payload,omitempty"`
	NormalizedText     string            `json:"normalized_text"`
	AcceptanceCriteria []string          `json:"acceptance_criteria"`
	Labels             []string          `json:"labels,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Clone returns a deep copy of the document.
func (d *RequirementDocument) Clone() *RequirementDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.RawPayload = slices.Clone(d.RawPayload)
	c.AcceptanceCriteria = slices.Clone(d.AcceptanceCriteria)
	c.Labels = slices.Clone(d.Labels)
	c.Metadata = maps.Clone(d.Metadata)
	return &c
}

// ===== EXTRACTED STRUCTURE =====

// ExtractedStructure is the semantic decomposition of a requirement.
type ExtractedStructure struct {
	Actor          string   `json:"actor"`
	Action         string   `json:"action"`
	Object         string   `json:"object"`
	Outcome        string   `json:"outcome"`
	Preconditions  []string `json:"preconditions"`
	Postconditions []string `json:"postconditions"`
	Triggers       []string `json:"triggers"`
	Constraints    []string `json:"constraints"`

	// Source is "rules" or "rules+capability".
	Source string `json:"source"`
}
