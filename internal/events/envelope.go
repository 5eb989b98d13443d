package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the payload schema version stamped on every event.
const SchemaVersion = "1.0.0"

// ErrChecksumMismatch is returned when an event payload was altered in transit.
var ErrChecksumMismatch = errors.New("event payload checksum mismatch")

// Event is the canonical envelope for events published by the analyzer.
type Event struct {
	EventID   EventID   `json:"event_id"`
	RequestID RequestID `json:"request_id"`
	EventType EventType `json:"event_type"`

	// SchemaVersion is the semantic version of the payload schema.
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`

	// Payload is the JSON-encoded event payload. Type determined by EventType.
	Payload json.RawMessage `json:"payload"`

	// PayloadChecksum is the SHA-256 checksum of the serialized payload.
	PayloadChecksum string `json:"payload_checksum"`

	Tags map[string]string `json:"tags,omitempty"`
}

// NewEvent wraps payload in an envelope for requestID.
func NewEvent(requestID RequestID, eventType EventType, payload any) (*Event, error) {
	if requestID.IsZero() {
		return nil, errors.New("request ID is required")
	}
	if eventType == "" {
		return nil, errors.New("event type is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return &Event{
		EventID:         NewEventID(),
		RequestID:       requestID,
		EventType:       eventType,
		SchemaVersion:   SchemaVersion,
		CreatedAt:       time.Now().UTC(),
		Payload:         data,
		PayloadChecksum: computeChecksum(data),
	}, nil
}

// computeChecksum computes SHA-256 checksum of data.
func computeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies the payload checksum.
func (e *Event) VerifyChecksum() bool {
	return e.PayloadChecksum == computeChecksum(e.Payload)
}

// UnmarshalPayload unmarshals the payload into the given type.
func (e *Event) UnmarshalPayload(v any) error {
	if !e.VerifyChecksum() {
		return ErrChecksumMismatch
	}
	return json.Unmarshal(e.Payload, v)
}

// Headers returns the queue message headers for this event.
func (e *Event) Headers() map[string]string {
	return map[string]string{
		"event_type":     e.EventType.String(),
		"event_id":       e.EventID.String(),
		"request_id":     e.RequestID.String(),
		"schema_version": e.SchemaVersion,
	}
}
