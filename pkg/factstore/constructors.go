package factstore

import (
	"github.com/google/uuid"
)

// =============================================================================
// FactID constructors
// =============================================================================

// NewFactID generates a fresh random 128-bit FactID.
func NewFactID() FactID {
	return FactID(uuid.New())
}

// FactIDFromString parses a canonical UUID string into a FactID.
func FactIDFromString(s string) (FactID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return FactID{}, &ValidationError{
			StoreError: StoreError{Op: "FactIDFromString", Err: err},
			Field:      "id",
			Value:      s,
		}
	}
	return FactID(u), nil
}

// String returns the canonical UUID representation of id.
func (id FactID) String() string {
	return uuid.UUID(id).String()
}

// =============================================================================
// IdempotencyKey constructors
// =============================================================================

// NewIdempotencyKey generates a fresh random idempotency key.
func NewIdempotencyKey() IdempotencyKey {
	return IdempotencyKey(uuid.New())
}

// =============================================================================
// Tag / Subject constructors
// =============================================================================

// NewTag builds a Tag from a key-value pair.
func NewTag(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NewSubject builds a Subject from a type and id.
func NewSubject(subjectType, subjectID string) Subject {
	return Subject{Type: subjectType, ID: subjectID}
}

// =============================================================================
// Fact constructors
// =============================================================================

// NewFact builds a Fact ready for append, assigning a fresh FactID and the
// given appendedAt timestamp. Metadata and tags may be nil (no metadata /
// no tags).
func NewFact(factType string, subject Subject, appendedAt Timestamp, tags []Tag, metadata map[string]string, payload Payload) Fact {
	return Fact{
		ID:         NewFactID(),
		Type:       factType,
		Payload:    payload,
		Subject:    subject,
		AppendedAt: appendedAt,
		Metadata:   metadata,
		Tags:       tags,
	}
}

// =============================================================================
// AppendRequest constructors
// =============================================================================

// NewAppendRequest wraps facts in an AppendRequest with a fresh idempotency
// key and no precondition. facts must be non-empty with unique ids;
// violations surface from Appender.Append, not from this constructor, since
// request validation requires no I/O either way.
func NewAppendRequest(facts ...Fact) AppendRequest {
	return AppendRequest{
		Facts:          facts,
		IdempotencyKey: NewIdempotencyKey(),
		Condition:      NewNoneCondition(),
	}
}

// NewAppendRequestWithCondition is NewAppendRequest plus an explicit
// AppendCondition.
func NewAppendRequestWithCondition(condition AppendCondition, facts ...Fact) AppendRequest {
	req := NewAppendRequest(facts...)
	req.Condition = condition
	return req
}

// WithIdempotencyKey returns a copy of req using the given idempotency key,
// for constructing retries of a previously issued request.
func (req AppendRequest) WithIdempotencyKey(key IdempotencyKey) AppendRequest {
	req.IdempotencyKey = key
	return req
}
