package events

import (
	"context"
	"sync"
	"time"
)

// DeduplicationStore tracks processed analysis requests so redelivered queue
// messages do not produce a second result.
type DeduplicationStore interface {
	// IsProcessed checks if a request has been processed.
	IsProcessed(ctx context.Context, requestID RequestID) (bool, error)

	// MarkProcessedWithResult marks a request as processed with its outcome.
	MarkProcessedWithResult(ctx context.Context, requestID RequestID, result *ProcessingResult) error

	// GetProcessingResult returns the recorded outcome, or nil if unknown.
	GetProcessingResult(ctx context.Context, requestID RequestID) (*ProcessingResult, error)

	// Cleanup removes old deduplication entries.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// ProcessingResult stores the outcome of processing a request.
type ProcessingResult struct {
	RequestID   RequestID `json:"request_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Success     bool      `json:"success"`

	// ErrorCode is set if processing failed.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// ReadinessState is the state the stored result ended in.
	ReadinessState ReadinessState `json:"readiness_state,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// InMemoryDeduplicationStore is an in-memory implementation for single node
// deployments and tests.
type InMemoryDeduplicationStore struct {
	mu        sync.RWMutex
	entries   map[string]*deduplicationEntry
	stopCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
}

type deduplicationEntry struct {
	processedAt time.Time
	result      *ProcessingResult
}

// NewInMemoryDeduplicationStore creates a new in-memory deduplication store.
func NewInMemoryDeduplicationStore() *InMemoryDeduplicationStore {
	store := &InMemoryDeduplicationStore{
		entries:   make(map[string]*deduplicationEntry),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go store.periodicCleanup()
	return store
}

// Close stops the deduplication store's cleanup goroutine gracefully.
func (s *InMemoryDeduplicationStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.stoppedCh
	})
	return nil
}

func (s *InMemoryDeduplicationStore) periodicCleanup() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background(), defaultDedupTTL)
		}
	}
}

// IsProcessed checks if a request has been processed.
func (s *InMemoryDeduplicationStore) IsProcessed(_ context.Context, requestID RequestID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.entries[requestID.String()]
	return exists, nil
}

// MarkProcessedWithResult marks a request as processed with its outcome.
func (s *InMemoryDeduplicationStore) MarkProcessedWithResult(_ context.Context, requestID RequestID, result *ProcessingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[requestID.String()] = &deduplicationEntry{
		processedAt: time.Now(),
		result:      result,
	}
	return nil
}

// GetProcessingResult returns the outcome of a processed request.
func (s *InMemoryDeduplicationStore) GetProcessingResult(_ context.Context, requestID RequestID) (*ProcessingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[requestID.String()]
	if !exists {
		return nil, nil //nolint:nilnil // nil result is valid for unknown requests
	}
	return entry.result, nil
}

// Cleanup removes old deduplication entries.
func (s *InMemoryDeduplicationStore) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0

	for key, entry := range s.entries {
		if entry.processedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}

	return removed, nil
}
