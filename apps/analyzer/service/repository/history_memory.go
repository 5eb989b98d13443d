package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/internal/events"
)

type memoryEntry struct {
	root    events.RequestID
	version int
	data    []byte
}

// MemoryHistoryStore is an in-memory history store for single-process
// deployments and tests.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	results  map[string]*memoryEntry
	forwards map[string]events.ForwardRecord
}

// NewMemoryHistoryStore creates an empty store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		results:  make(map[string]*memoryEntry),
		forwards: make(map[string]events.ForwardRecord),
	}
}

// Append stores a new result.
func (s *MemoryHistoryStore) Append(_ context.Context, result *events.AnalysisResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := result.RequestID.String()
	if _, exists := s.results[key]; exists {
		return fmt.Errorf("%w: %s", analysis.ErrResultExists, key)
	}
	s.results[key] = &memoryEntry{root: lineageRoot(result), version: result.Version, data: data}
	return nil
}

// Get returns the result for id.
func (s *MemoryHistoryStore) Get(_ context.Context, id events.RequestID) (*events.AnalysisResult, error) {
	s.mu.RLock()
	entry, ok := s.results[id.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", analysis.ErrResultNotFound, id)
	}
	return decodeResult(entry.data)
}

// Lineage returns every result sharing rootID, oldest first.
func (s *MemoryHistoryStore) Lineage(_ context.Context, rootID events.RequestID) ([]*events.AnalysisResult, error) {
	s.mu.RLock()
	var entries []*memoryEntry
	for _, entry := range s.results {
		if entry.root == rootID {
			entries = append(entries, entry)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *memoryEntry) int {
		return cmp.Compare(a.version, b.version)
	})

	out := make([]*events.AnalysisResult, 0, len(entries))
	for _, entry := range entries {
		result, err := decodeResult(entry.data)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

// RecordForward stores the forward record of a result.
func (s *MemoryHistoryStore) RecordForward(_ context.Context, record *events.ForwardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.RequestID.String()
	if _, exists := s.forwards[key]; exists {
		return fmt.Errorf("%w: %s", analysis.ErrAlreadyForwarded, key)
	}
	s.forwards[key] = *record
	return nil
}

// GetForward returns the forward record for id.
func (s *MemoryHistoryStore) GetForward(_ context.Context, id events.RequestID) (*events.ForwardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.forwards[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: forward record for %s", analysis.ErrResultNotFound, id)
	}
	return &record, nil
}
