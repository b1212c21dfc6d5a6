// internal/storage/documents.go
// Package storage provides the document store used by the evidence service,
// with in-memory and PostgreSQL backends that behave identically.
//
// Documents are JSON objects addressed by a collection path (for example
// "cases" or "cases/<id>/evidence") and an id. Every value written is
// normalised through encoding/json, so callers read back exactly what a
// JSON round trip of their input produces on either backend.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a document is not found
	ErrConflict = errors.New("conflict")  // Returned when a write cannot be applied
)

// serverTimestampToken is what ServerTimestamp marshals to before the store
// replaces it with its own clock.
const serverTimestampToken = "\x00server-timestamp"

type serverTimestamp struct{}

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(serverTimestampToken)
}

// ServerTimestamp may be used as any field value; the store writes its
// current time (RFC 3339, UTC) in its place.
var ServerTimestamp = serverTimestamp{}

// Documents is the storage collaborator.
type Documents interface {
	// PutDocument writes doc under collection/id, replacing any previous
	// document. An empty id is replaced by a new UUID, which is returned.
	PutDocument(ctx context.Context, collection, id string, doc any) (string, error)
	// GetDocument returns ErrNotFound when the document does not exist.
	GetDocument(ctx context.Context, collection, id string) (Document, error)
	// UpdateDocument merges fields into the top level of an existing document.
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error
	// IncrementCounter atomically adds delta to a numeric field; a missing field counts as 0.
	IncrementCounter(ctx context.Context, collection, id, field string, delta int64) error
	// ListDocuments returns the documents of collection whose top-level fields
	// equal every entry of filter, oldest first.
	ListDocuments(ctx context.Context, collection string, filter map[string]any) ([]Document, error)
	Ping(ctx context.Context) error
}

// Document is one stored JSON object.
type Document struct {
	ID     string
	Fields map[string]any
}

// Decode unmarshals the document fields into dst.
func (d Document) Decode(dst any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	return nil
}

// normalize turns v into a JSON object and resolves ServerTimestamp values.
func normalize(v any, now time.Time) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("document is not a JSON object: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	stamp := now.UTC().Format(time.RFC3339Nano)
	resolveTimestamps(fields, stamp)
	return fields, nil
}

func resolveTimestamps(v any, stamp string) any {
	switch t := v.(type) {
	case string:
		if t == serverTimestampToken {
			return stamp
		}
	case map[string]any:
		for k, e := range t {
			t[k] = resolveTimestamps(e, stamp)
		}
	case []any:
		for i, e := range t {
			t[i] = resolveTimestamps(e, stamp)
		}
	}
	return v
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// matches reports whether fields satisfies an equality filter. Filter
// values are normalised the same way as stored fields.
func matches(fields, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := fields[k]
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("%w: field is %T, not a number", ErrConflict, v)
	}
}
