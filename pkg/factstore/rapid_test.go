package factstore

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestFactEnvelopeRoundTrip checks that encodeFactEnvelope/decodeFactEnvelope
// round-trip an arbitrary fact (minus Position, which is not part of the
// encoded envelope) for any combination of tags, metadata, and payload
// bytes rapid can generate.
func TestFactEnvelopeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tagCount := rapid.IntRange(0, 5).Draw(t, "tagCount")
		tags := make([]Tag, tagCount)
		for i := range tags {
			tags[i] = Tag{
				Key:   rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "tagKey"),
				Value: rapid.StringMatching(`[a-zA-Z0-9_-]{0,8}`).Draw(t, "tagValue"),
			}
		}

		metaCount := rapid.IntRange(0, 5).Draw(t, "metaCount")
		metadata := make(map[string]string, metaCount)
		for i := 0; i < metaCount; i++ {
			k := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "metaKey")
			metadata[k] = rapid.String().Draw(t, "metaValue")
		}

		f := Fact{
			ID:         NewFactID(),
			Type:       rapid.StringMatching(`[A-Za-z]{1,16}`).Draw(t, "type"),
			Subject:    Subject{Type: rapid.StringMatching(`[A-Za-z]{1,8}`).Draw(t, "subjectType"), ID: rapid.String().Draw(t, "subjectID")},
			AppendedAt: Timestamp{Sec: rapid.Int64Range(0, 1<<40).Draw(t, "sec"), Nanos: int32(rapid.IntRange(0, 999999999).Draw(t, "nanos"))},
			Metadata:   metadata,
			Tags:       tags,
			Payload: Payload{
				Data:   rapid.SliceOf(rapid.Byte()).Draw(t, "payloadData"),
				Format: rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "format"),
				Schema: rapid.StringMatching(`[a-z.]{0,8}`).Draw(t, "schema"),
			},
		}

		decoded, err := decodeFactEnvelope(encodeFactEnvelope(f))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		decoded.Position = f.Position

		if decoded.ID != f.ID || decoded.Type != f.Type || decoded.Subject != f.Subject || decoded.AppendedAt != f.AppendedAt {
			t.Fatalf("scalar fields diverged: got %+v, want %+v", decoded, f)
		}
		if !bytes.Equal(decoded.Payload.Data, f.Payload.Data) || decoded.Payload.Format != f.Payload.Format || decoded.Payload.Schema != f.Payload.Schema {
			t.Fatalf("payload diverged: got %+v, want %+v", decoded.Payload, f.Payload)
		}
		if len(decoded.Tags) != len(f.Tags) {
			t.Fatalf("tag count diverged: got %d, want %d", len(decoded.Tags), len(f.Tags))
		}
		for i := range f.Tags {
			if decoded.Tags[i] != f.Tags[i] {
				t.Fatalf("tag %d diverged: got %+v, want %+v", i, decoded.Tags[i], f.Tags[i])
			}
		}
		for k, v := range f.Metadata {
			if decoded.Metadata[k] != v {
				t.Fatalf("metadata[%q] diverged: got %q, want %q", k, decoded.Metadata[k], v)
			}
		}
	})
}

// TestFactPositionBeforeIsATotalOrder checks that Before is irreflexive,
// antisymmetric, transitive, and total over randomly generated position triples,
// matching the byte-lexicographic order FoundationDB assigns versionstamps.
func TestFactPositionBeforeIsATotalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := randomPosition(t)
		b := randomPosition(t)
		c := randomPosition(t)

		if a.Before(a) {
			t.Fatalf("Before is not irreflexive: %v.Before(%v)", a, a)
		}
		if a.Before(b) && b.Before(a) {
			t.Fatalf("Before is not antisymmetric for %v, %v", a, b)
		}
		if a.Before(b) && b.Before(c) && !a.Before(c) {
			t.Fatalf("Before is not transitive for %v, %v, %v", a, b, c)
		}
		if a != b && !a.Before(b) && !b.Before(a) {
			t.Fatalf("Before is not total for %v, %v", a, b)
		}
	})
}

func randomPosition(t *rapid.T) FactPosition {
	var p FactPosition
	bytes := rapid.SliceOfN(rapid.Byte(), 12, 12).Draw(t, "position")
	copy(p[:], bytes)
	return p
}
