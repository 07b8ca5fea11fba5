package factstore

import (
	"encoding/binary"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/subspace"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// keySpace computes the packed binary keys for one store's subtree. Every
// store occupies root/<storeName>/ in FoundationDB's ordered key space;
// keys are built as typed tuples so lexicographic byte order matches
// tuple order element-by-element. A keySpace is immutable after
// construction and safe for concurrent use.
type keySpace struct {
	root          subspace.Subspace
	facts         subspace.Subspace // (position) -> fact envelope
	positions     subspace.Subspace // (factId) -> (position)
	typeIndex     subspace.Subspace // (type, position) -> (factId)
	timeIndex     subspace.Subspace // (epochSec, nanos, position) -> (factId)
	subjectIndex  subspace.Subspace // (subjectType, subjectId, position) -> (factId)
	tagIndex      subspace.Subspace // (tagKey, tagValue, position) -> (factId)
	typeTagIndex  subspace.Subspace // (type, tagKey, tagValue, position) -> (factId)
	metadataIndex subspace.Subspace // (key, value, position) -> (factId)
	idempotency   subspace.Subspace // (idempotencyKey) -> empty
	sentinel      fdb.Key           // written on every append; Streamer watches it
}

func newKeySpace(storeName string) keySpace {
	root := subspace.Sub("factstore", storeName)
	return keySpace{
		root:          root,
		facts:         root.Sub("f"),
		positions:     root.Sub("p"),
		typeIndex:     root.Sub("ty"),
		timeIndex:     root.Sub("tm"),
		subjectIndex:  root.Sub("sj"),
		tagIndex:      root.Sub("tg"),
		typeTagIndex:  root.Sub("tt"),
		metadataIndex: root.Sub("md"),
		idempotency:   root.Sub("ik"),
		sentinel:      root.Pack(tuple.Tuple{"tail"}),
	}
}

// positionToVersionstamp converts a committed FactPosition back into the
// tuple.Versionstamp shape FoundationDB's tuple layer expects.
func positionToVersionstamp(p FactPosition) tuple.Versionstamp {
	var txnVersion [10]byte
	copy(txnVersion[:], p[:10])
	return tuple.Versionstamp{
		TransactionVersion: txnVersion,
		UserVersion:        binary.BigEndian.Uint16(p[10:12]),
	}
}

// versionstampToPosition is the inverse of positionToVersionstamp.
func versionstampToPosition(vs tuple.Versionstamp) FactPosition {
	var p FactPosition
	copy(p[:10], vs.TransactionVersion[:])
	binary.BigEndian.PutUint16(p[10:12], vs.UserVersion)
	return p
}

// incompleteVersionstamp builds the placeholder used for fact i within a
// single append request; the engine resolves it to the final position at
// commit, and facts are disambiguated by the per-request ordinal so that
// positions within one request remain strictly increasing.
func incompleteVersionstamp(ordinal int) tuple.Versionstamp {
	return tuple.IncompleteVersionstamp(uint16(ordinal))
}

// factKey packs the FACTS-subspace key for the placeholder vs, to be
// resolved by the engine at commit via SetVersionstampedKey.
func (ks keySpace) factKey(vs tuple.Versionstamp) (fdb.Key, error) {
	return ks.facts.PackWithVersionstamp(tuple.Tuple{vs})
}

// factKeyAt packs the FACTS-subspace key for an already-committed position.
// PackWithVersionstamp is for the write path only: it requires an
// incomplete versionstamp and the engine strips its trailing offset bytes
// from the stored key, so a complete versionstamp must instead go through
// the plain Pack used here to produce a key that actually matches what was
// stored.
func (ks keySpace) factKeyAt(pos FactPosition) fdb.Key {
	return ks.facts.Pack(tuple.Tuple{positionToVersionstamp(pos)})
}

// positionKey packs the POSITIONS-subspace key for a fact id.
func (ks keySpace) positionKey(id FactID) fdb.Key {
	return ks.positions.Pack(tuple.Tuple{id[:]})
}

// typeIndexKey packs a TYPE_INDEX row key for the placeholder vs.
func (ks keySpace) typeIndexKey(factType string, vs tuple.Versionstamp) (fdb.Key, error) {
	return ks.typeIndex.PackWithVersionstamp(tuple.Tuple{factType, vs})
}

// timeIndexKey packs a TIME_INDEX row key for the placeholder vs.
func (ks keySpace) timeIndexKey(ts Timestamp, vs tuple.Versionstamp) (fdb.Key, error) {
	return ks.timeIndex.PackWithVersionstamp(tuple.Tuple{ts.Sec, int64(ts.Nanos), vs})
}

// subjectIndexKey packs a SUBJECT_INDEX row key for the placeholder vs.
func (ks keySpace) subjectIndexKey(s Subject, vs tuple.Versionstamp) (fdb.Key, error) {
	return ks.subjectIndex.PackWithVersionstamp(tuple.Tuple{s.Type, s.ID, vs})
}

// tagIndexKey packs a TAG_INDEX row key for the placeholder vs.
func (ks keySpace) tagIndexKey(t Tag, vs tuple.Versionstamp) (fdb.Key, error) {
	return ks.tagIndex.PackWithVersionstamp(tuple.Tuple{t.Key, t.Value, vs})
}

// typeTagIndexKey packs a TYPE_TAG_INDEX row key for the placeholder vs.
func (ks keySpace) typeTagIndexKey(factType string, t Tag, vs tuple.Versionstamp) (fdb.Key, error) {
	return ks.typeTagIndex.PackWithVersionstamp(tuple.Tuple{factType, t.Key, t.Value, vs})
}

// typeTagIndexKeyAt packs the TYPE_TAG_INDEX row key for an already-committed
// position, for point-probing the index on the read path (see factKeyAt).
func (ks keySpace) typeTagIndexKeyAt(factType string, t Tag, pos FactPosition) fdb.Key {
	return ks.typeTagIndex.Pack(tuple.Tuple{factType, t.Key, t.Value, positionToVersionstamp(pos)})
}

// metadataIndexKey packs a METADATA_INDEX row key for the placeholder vs.
func (ks keySpace) metadataIndexKey(key, value string, vs tuple.Versionstamp) (fdb.Key, error) {
	return ks.metadataIndex.PackWithVersionstamp(tuple.Tuple{key, value, vs})
}

// idempotencyKey packs the IDEMPOTENCY-subspace key for key.
func (ks keySpace) idempotencyKey(key IdempotencyKey) fdb.Key {
	return ks.idempotency.Pack(tuple.Tuple{key[:]})
}

// typeTagRange returns the TYPE_TAG_INDEX range for (type, tag), bounded
// below by afterPosition when non-nil (exclusive).
func (ks keySpace) typeTagRange(factType string, t Tag, afterPosition *FactPosition) (fdb.Range, error) {
	ss := ks.typeTagIndex.Sub(factType, t.Key, t.Value)
	return ks.boundedRange(ss, afterPosition)
}

// tagRange returns the TAG_INDEX range for tag, bounded below by
// afterPosition when non-nil (exclusive).
func (ks keySpace) tagRange(t Tag, afterPosition *FactPosition) (fdb.Range, error) {
	ss := ks.tagIndex.Sub(t.Key, t.Value)
	return ks.boundedRange(ss, afterPosition)
}

// subjectRange returns the full SUBJECT_INDEX range for subject.
func (ks keySpace) subjectRange(s Subject) fdb.Range {
	return ks.subjectIndex.Sub(s.Type, s.ID)
}

// timeRange returns the TIME_INDEX range covering [start, end], inclusive
// at both ends.
func (ks keySpace) timeRange(start, end Timestamp) fdb.KeyRange {
	beginKey := ks.timeIndex.Pack(tuple.Tuple{start.Sec, int64(start.Nanos)})
	// tuple.Tuple{}.FDBRangeKeys()-style trick: pack end with a sentinel
	// tuple element so every (endSec, endNanos, anyPosition) key sorts
	// strictly before endKey.
	_, endKey := ks.timeIndex.Sub(end.Sec, int64(end.Nanos)).FDBRangeKeys()
	return fdb.KeyRange{Begin: beginKey, End: endKey}
}

// boundedRange returns the full range of ss, or the range strictly after
// afterPosition within ss when afterPosition is non-nil.
func (ks keySpace) boundedRange(ss subspace.Subspace, afterPosition *FactPosition) (fdb.Range, error) {
	if afterPosition == nil {
		return ss, nil
	}
	vs := positionToVersionstamp(*afterPosition)
	beginKey := ss.Pack(tuple.Tuple{vs})
	beginExclusive := append(append(fdb.Key{}, beginKey...), 0x00)
	_, endKey := ss.FDBRangeKeys()
	return fdb.KeyRange{Begin: beginExclusive, End: endKey}, nil
}

// extractPosition extracts the trailing versionstamp element from a packed
// index key and converts it to a FactPosition.
func extractPosition(key fdb.Key) (FactPosition, error) {
	unpacked, err := tuple.Unpack(key)
	if err != nil || len(unpacked) == 0 {
		return FactPosition{}, &StoreError{Op: "extractPosition", Err: err}
	}
	vs, ok := unpacked[len(unpacked)-1].(tuple.Versionstamp)
	if !ok {
		return FactPosition{}, &StoreError{Op: "extractPosition", Err: errInvalidIndexKey}
	}
	return versionstampToPosition(vs), nil
}

// positionFromBytes unpacks a POSITIONS-subspace value (a packed
// single-element versionstamp tuple) into a FactPosition.
func positionFromBytes(value []byte) (FactPosition, error) {
	vals, err := tuple.Unpack(value)
	if err != nil || len(vals) != 1 {
		return FactPosition{}, &StoreError{Op: "positionFromBytes", Err: errInvalidPosition}
	}
	vs, ok := vals[0].(tuple.Versionstamp)
	if !ok {
		return FactPosition{}, &StoreError{Op: "positionFromBytes", Err: errInvalidPosition}
	}
	return versionstampToPosition(vs), nil
}

// extractFactID decodes the FactID stored as an index row's value.
func extractFactID(value []byte) (FactID, error) {
	var id FactID
	if len(value) != len(id) {
		return FactID{}, &StoreError{Op: "extractFactID", Err: errInvalidIndexValue}
	}
	copy(id[:], value)
	return id, nil
}

// factIDBytes is the raw 16-byte form stored as an index row's value.
func factIDBytes(id FactID) []byte {
	return id[:]
}

// factsRangeFrom returns the FACTS-subspace range strictly after the raw
// key lowerExclusive, or the whole subspace when lowerExclusive is nil.
// Turning a StartPosition into that key is the streamer's job
// (resolveStart), since StartAfter and StartEnd require a read.
func (ks keySpace) factsRangeFrom(lowerExclusive fdb.Key) fdb.Range {
	if lowerExclusive == nil {
		begin, end := ks.facts.FDBRangeKeys()
		return fdb.KeyRange{Begin: begin, End: end}
	}
	_, end := ks.facts.FDBRangeKeys()
	beginExclusive := append(append(fdb.Key{}, lowerExclusive...), 0x00)
	return fdb.KeyRange{Begin: beginExclusive, End: end}
}
