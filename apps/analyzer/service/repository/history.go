package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antinvestor/requirements/internal/events"
)

// ErrDatabaseUnavailable is returned when the database connection is not available.
var ErrDatabaseUnavailable = errors.New("database connection is not available")

// Backend names accepted by the history configuration.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// encodeResult serialises a result for storage. Stored snapshots are
// decoded on every read so callers can never alias stored state.
func encodeResult(result *events.AnalysisResult) ([]byte, error) {
	if result == nil || result.RequestID.IsZero() {
		return nil, errors.New("result with a request id is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

func decodeResult(data []byte) (*events.AnalysisResult, error) {
	var result events.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

// lineageRoot returns the id a result's lineage is keyed by.
func lineageRoot(result *events.AnalysisResult) events.RequestID {
	if result.LineageRootID.IsZero() {
		return result.RequestID
	}
	return result.LineageRootID
}
