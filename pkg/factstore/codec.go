package factstore

import (
	"fmt"
	"sort"

	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// encodeFactEnvelope serializes everything about f except its position
// (which is the FACTS-subspace key itself, assigned by the engine at
// commit) into a single opaque blob, using FoundationDB's tuple encoding
// so the format is self-describing and versioned implicitly by tuple's
// type-tagged element encoding. Round-trips losslessly: metadata is
// normalized (sorted by key) so identical maps always encode to identical
// bytes, tags keep the caller's order, and payload bytes are carried
// verbatim.
func encodeFactEnvelope(f Fact) []byte {
	metaTuple := encodeStringMap(f.Metadata)
	tagsTuple := encodeTags(f.Tags)

	env := tuple.Tuple{
		f.ID[:],
		f.Type,
		f.Subject.Type,
		f.Subject.ID,
		f.AppendedAt.Sec,
		int64(f.AppendedAt.Nanos),
		metaTuple,
		tagsTuple,
		f.Payload.Data,
		f.Payload.Format,
		f.Payload.Schema,
	}
	return env.Pack()
}

// decodeFactEnvelope is the inverse of encodeFactEnvelope. The caller fills
// in Position separately (it is not part of the encoded blob).
func decodeFactEnvelope(data []byte) (Fact, error) {
	vals, err := tuple.Unpack(data)
	if err != nil {
		return Fact{}, &StoreError{Op: "decodeFactEnvelope", Err: err}
	}
	if len(vals) != 11 {
		return Fact{}, &StoreError{Op: "decodeFactEnvelope", Err: fmt.Errorf("expected 11 envelope fields, got %d", len(vals))}
	}

	idBytes, ok := vals[0].([]byte)
	if !ok || len(idBytes) != 16 {
		return Fact{}, &StoreError{Op: "decodeFactEnvelope", Err: fmt.Errorf("malformed fact id")}
	}
	var id FactID
	copy(id[:], idBytes)

	factType, _ := vals[1].(string)
	subjectType, _ := vals[2].(string)
	subjectID, _ := vals[3].(string)
	sec, _ := vals[4].(int64)
	nanos, _ := vals[5].(int64)
	metaTuple, _ := vals[6].(tuple.Tuple)
	tagsTuple, _ := vals[7].(tuple.Tuple)
	payloadData, _ := vals[8].([]byte)
	payloadFormat, _ := vals[9].(string)
	payloadSchema, _ := vals[10].(string)

	metadata, err := decodeStringMap(metaTuple)
	if err != nil {
		return Fact{}, &StoreError{Op: "decodeFactEnvelope", Err: err}
	}
	tags, err := decodeTags(tagsTuple)
	if err != nil {
		return Fact{}, &StoreError{Op: "decodeFactEnvelope", Err: err}
	}

	return Fact{
		ID:         id,
		Type:       factType,
		Subject:    Subject{Type: subjectType, ID: subjectID},
		AppendedAt: Timestamp{Sec: sec, Nanos: int32(nanos)},
		Metadata:   metadata,
		Tags:       tags,
		Payload:    Payload{Data: payloadData, Format: payloadFormat, Schema: payloadSchema},
	}, nil
}

// encodeStringMap packs m as a flat (key, value, key, value, ...) tuple
// sorted by key, so map iteration order never affects the encoded bytes.
func encodeStringMap(m map[string]string) tuple.Tuple {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := make(tuple.Tuple, 0, len(keys)*2)
	for _, k := range keys {
		t = append(t, k, m[k])
	}
	return t
}

func decodeStringMap(t tuple.Tuple) (map[string]string, error) {
	if len(t) == 0 {
		return nil, nil
	}
	if len(t)%2 != 0 {
		return nil, fmt.Errorf("malformed metadata tuple")
	}
	m := make(map[string]string, len(t)/2)
	for i := 0; i < len(t); i += 2 {
		k, ok1 := t[i].(string)
		v, ok2 := t[i+1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("malformed metadata entry at %d", i)
		}
		m[k] = v
	}
	return m, nil
}

// encodeTags packs tags as a flat (key, value, key, value, ...) tuple,
// preserving the caller's order: tag order is not semantically meaningful,
// but round-trip identity is still required.
func encodeTags(tags []Tag) tuple.Tuple {
	t := make(tuple.Tuple, 0, len(tags)*2)
	for _, tag := range tags {
		t = append(t, tag.Key, tag.Value)
	}
	return t
}

func decodeTags(t tuple.Tuple) ([]Tag, error) {
	if len(t) == 0 {
		return nil, nil
	}
	if len(t)%2 != 0 {
		return nil, fmt.Errorf("malformed tags tuple")
	}
	tags := make([]Tag, 0, len(t)/2)
	for i := 0; i < len(t); i += 2 {
		k, ok1 := t[i].(string)
		v, ok2 := t[i+1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("malformed tag entry at %d", i)
		}
		tags = append(tags, Tag{Key: k, Value: v})
	}
	return tags, nil
}
