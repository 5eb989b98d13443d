// Package events provides the shared analysis data model, queue envelopes and
// idempotency primitives used by the requirement analysis services.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// XID provides globally unique, sortable identifiers.
// Format: 20 characters, base32-hex encoded, 12 bytes
// Structure:
//   - 4 bytes: timestamp (seconds since Unix epoch)
//   - 3 bytes: machine identifier
//   - 2 bytes: process identifier
//   - 3 bytes: random counter

// RequestID identifies a single analysis run. Every AnalyzeRequirement and
// ReanalyzeRequirement call produces a new one.
type RequestID struct {
	id xid.ID
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID{id: xid.New()}
}

// ParseRequestID parses a request ID from string.
func ParseRequestID(s string) (RequestID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return RequestID{}, fmt.Errorf("invalid request ID %q: %w", s, err)
	}
	return RequestID{id: id}, nil
}

// MustParseRequestID parses a request ID, panicking on error.
func MustParseRequestID(s string) RequestID {
	id, err := ParseRequestID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the string representation.
func (r RequestID) String() string {
	if r.id.IsNil() {
		return ""
	}
	return r.id.String()
}

// Short returns the first 8 characters for human-readable contexts.
func (r RequestID) Short() string {
	s := r.String()
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}

// Time returns the timestamp embedded in the ID.
func (r RequestID) Time() time.Time {
	return r.id.Time()
}

// IsZero returns true if this is the zero value.
func (r RequestID) IsZero() bool {
	return r.id.IsNil()
}

// MarshalJSON implements json.Marshaler. The zero value encodes as "".
func (r RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		r.id = xid.NilID()
		return nil
	}
	id, err := xid.FromString(s)
	if err != nil {
		return err
	}
	r.id = id
	return nil
}

// Compare returns -1, 0, or 1 comparing two IDs.
func (r RequestID) Compare(other RequestID) int {
	return r.id.Compare(other.id)
}

// DocumentID identifies a normalized requirement document snapshot.
type DocumentID struct {
	id xid.ID
}

// NewDocumentID generates a new document ID.
func NewDocumentID() DocumentID {
	return DocumentID{id: xid.New()}
}

// ParseDocumentID parses a document ID from string.
func ParseDocumentID(s string) (DocumentID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return DocumentID{}, fmt.Errorf("invalid document ID %q: %w", s, err)
	}
	return DocumentID{id: id}, nil
}

// String returns the string representation.
func (d DocumentID) String() string {
	if d.id.IsNil() {
		return ""
	}
	return d.id.String()
}

// IsZero returns true if this is the zero value.
func (d DocumentID) IsZero() bool {
	return d.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (d DocumentID) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DocumentID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.id = xid.NilID()
		return nil
	}
	id, err := xid.FromString(s)
	if err != nil {
		return err
	}
	d.id = id
	return nil
}

// EventID identifies a queue event envelope.
type EventID struct {
	id xid.ID
}

// NewEventID generates a new event ID.
func NewEventID() EventID {
	return EventID{id: xid.New()}
}

// String returns the string representation.
func (e EventID) String() string {
	if e.id.IsNil() {
		return ""
	}
	return e.id.String()
}

// IsZero returns true if this is the zero value.
func (e EventID) IsZero() bool {
	return e.id.IsNil()
}

// MarshalJSON implements json.Marshaler.
func (e EventID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *EventID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		e.id = xid.NilID()
		return nil
	}
	id, err := xid.FromString(s)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}
