package llm

import (
	"context"
	"sync"
	"time"
)

// StubClient is a deterministic Client. It returns a fixed hint (or error)
// for every call, which keeps analysis output reproducible in tests and in
// deployments that run without a provider.
type StubClient struct {
	Hint *StructureHint
	Err  error

	mu    sync.Mutex
	calls int
}

// NewStubClient returns a stub that always answers with hint.
func NewStubClient(hint *StructureHint) *StubClient {
	return &StubClient{Hint: hint}
}

// ExtractStructure implements Client.
func (s *StubClient) ExtractStructure(
	ctx context.Context,
	_ ExtractStructureInput,
) (*StructureHint, *InvocationResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if s.Err != nil {
		return nil, nil, s.Err
	}

	hint := &StructureHint{}
	if s.Hint != nil {
		copied := *s.Hint
		hint = &copied
	}

	return hint, &InvocationResult{
		Provider:    ProviderStub,
		Function:    FunctionExtractStructure,
		CompletedAt: time.Now(),
	}, nil
}

// GetUsage implements Client.
func (s *StubClient) GetUsage() Usage {
	return Usage{}
}

// Calls returns how many times ExtractStructure was invoked.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
