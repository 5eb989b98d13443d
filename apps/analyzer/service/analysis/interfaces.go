package analysis

import (
	"context"

	"github.com/antinvestor/requirements/internal/events"
)

// =============================================================================
// Collaborators
// =============================================================================

// DomainValidator maps requirement terms onto a formal domain model.
type DomainValidator interface {
	Validate(ctx context.Context, req *DomainValidationRequest) (*events.DomainValidation, error)
}

// TestGenerationService turns a ready requirement into test cases.
type TestGenerationService interface {
	GenerateTestCases(ctx context.Context, req *events.TestGenerationRequest) (*events.TestGenerationResponse, error)
}

// HistoryStore persists analysis results. Writes are append-only: a request
// id is stored once and never updated.
type HistoryStore interface {
	// Append stores a new result. It returns ErrResultExists for a known id.
	Append(ctx context.Context, result *events.AnalysisResult) error

	// Get returns the result for id or ErrResultNotFound.
	Get(ctx context.Context, id events.RequestID) (*events.AnalysisResult, error)

	// Lineage returns every result sharing rootID, oldest first.
	Lineage(ctx context.Context, rootID events.RequestID) ([]*events.AnalysisResult, error)

	// RecordForward stores the forward record of a result. It returns
	// ErrAlreadyForwarded when one exists.
	RecordForward(ctx context.Context, record *events.ForwardRecord) error

	// GetForward returns the forward record for id or ErrResultNotFound.
	GetForward(ctx context.Context, id events.RequestID) (*events.ForwardRecord, error)
}

// =============================================================================
// Request Types
// =============================================================================

// DomainValidationRequest is sent to the domain collaborator.
type DomainValidationRequest struct {
	RequestID    events.RequestID  `json:"request_id"`
	Terms        []string          `json:"terms"`
	WorkflowHint string            `json:"workflow_hint,omitempty"`
	SourceKind   events.SourceKind `json:"source_kind"`
}
