package factstore

import (
	"context"
	"sort"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
)

// candidateBatchSize bounds how many positions of the driving tag in an
// existence check are read per range request; the scan goes on batch by
// batch until a match is found or the driving tag's range is exhausted.
// A DCB append condition is evaluated against a handful of recently
// observed facts in practice, so this is generously sized rather than
// tuned; Finder's full evaluation path is unbounded and does not use it.
const candidateBatchSize = 500

// queryEvaluator resolves a TagQuery into an ordered set of FactPosition
// using the tag/type indexes. It is shared between Finder
// (findByTagQuery) and Appender (TagQueryBased conditional append).
type queryEvaluator struct {
	db      fdb.Database
	ks      keySpace
	metrics Metrics
}

func newQueryEvaluator(db fdb.Database, ks keySpace, metrics Metrics) *queryEvaluator {
	return &queryEvaluator{db: db, ks: ks, metrics: metrics}
}

// Evaluate resolves query to the ordered, deduplicated set of matching
// positions, optionally bounded below by afterPosition.
func (qe *queryEvaluator) Evaluate(ctx context.Context, query TagQuery, afterPosition *FactPosition) ([]FactPosition, error) {
	if err := validateTagQuery(query); err != nil {
		return nil, err
	}
	start := time.Now()

	var positions []FactPosition
	_, err := qe.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set := make(map[FactPosition]struct{})
		for _, item := range query.Items {
			if err := qe.collectItem(tr, item, afterPosition, set); err != nil {
				return nil, err
			}
		}
		positions = sortedPositions(set)
		return nil, nil
	})
	if err != nil {
		return nil, classifyEngineError(err)
	}

	qe.metrics.RecordQueryEvaluation(time.Since(start), len(positions))
	return positions, nil
}

// existsInTx is the conditional-append variant: within an
// already-open transaction, report whether at least one fact matches
// query strictly after afterPosition, short-circuiting as soon as one is
// found.
func (qe *queryEvaluator) existsInTx(tr fdb.ReadTransaction, query TagQuery, afterPosition *FactPosition) (bool, error) {
	for _, item := range query.Items {
		found, err := qe.itemExists(tr, item, afterPosition)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// collectItem adds every position matching item into set.
func (qe *queryEvaluator) collectItem(tr fdb.ReadTransaction, item TagQueryItem, afterPosition *FactPosition, set map[FactPosition]struct{}) error {
	switch item.Kind {
	case TagOnlyItemKind:
		for _, tag := range item.Tags {
			positions, err := qe.rangePositions(tr, func(after *FactPosition) (fdb.Range, error) {
				return qe.ks.tagRange(tag, after)
			}, afterPosition)
			if err != nil {
				return err
			}
			for _, p := range positions {
				set[p] = struct{}{}
			}
		}
		return nil

	case TagTypeItemKind:
		for _, factType := range item.Types {
			positions, err := qe.intersectTags(tr, factType, item.Tags, afterPosition)
			if err != nil {
				return err
			}
			for _, p := range positions {
				set[p] = struct{}{}
			}
		}
		return nil

	default:
		return nil
	}
}

// itemExists reports whether item matches anything, per the short-circuit
// rules of the conditional-append variant.
func (qe *queryEvaluator) itemExists(tr fdb.ReadTransaction, item TagQueryItem, afterPosition *FactPosition) (bool, error) {
	switch item.Kind {
	case TagOnlyItemKind:
		// OR across tags: a single limit-1 hit on any tag is enough.
		for _, tag := range item.Tags {
			rng, err := qe.ks.tagRange(tag, afterPosition)
			if err != nil {
				return false, &StoreError{Op: "evaluate", Err: err}
			}
			hit, err := qe.rangeHasResult(tr, rng)
			if err != nil {
				return false, err
			}
			if hit {
				return true, nil
			}
		}
		return false, nil

	case TagTypeItemKind:
		for _, factType := range item.Types {
			found, err := qe.typeTagsIntersectionExists(tr, factType, item.Tags, afterPosition)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, nil
	}
}

// intersectTags computes the AND-intersection, across every tag in tags,
// of positions carrying factType, bounded below by afterPosition.
func (qe *queryEvaluator) intersectTags(tr fdb.ReadTransaction, factType string, tags []Tag, afterPosition *FactPosition) ([]FactPosition, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	sets := make([]map[FactPosition]struct{}, len(tags))
	for i, tag := range tags {
		positions, err := qe.rangePositions(tr, func(after *FactPosition) (fdb.Range, error) {
			return qe.ks.typeTagRange(factType, tag, after)
		}, afterPosition)
		if err != nil {
			return nil, err
		}
		sets[i] = toSet(positions)
	}
	return sortedPositions(intersectSets(sets)), nil
}

// typeTagsIntersectionExists answers the existence-only question without
// materializing full position sets: it scans the first tag's range in
// bounded batches (driving tag), and for each candidate position performs
// a direct point lookup (a limit-1 read in spirit) against every other
// tag's index row at that exact position, stopping at the first fact that
// satisfies every tag.
func (qe *queryEvaluator) typeTagsIntersectionExists(tr fdb.ReadTransaction, factType string, tags []Tag, afterPosition *FactPosition) (bool, error) {
	if len(tags) == 0 {
		return false, nil
	}
	if len(tags) == 1 {
		rng, err := qe.ks.typeTagRange(factType, tags[0], afterPosition)
		if err != nil {
			return false, &StoreError{Op: "evaluate", Err: err}
		}
		return qe.rangeHasResult(tr, rng)
	}

	driving, rest := tags[0], tags[1:]
	rng, err := qe.ks.typeTagRange(factType, driving, afterPosition)
	if err != nil {
		return false, &StoreError{Op: "evaluate", Err: err}
	}
	begin, end := rng.FDBRangeKeySelectors()
	for {
		kvs, err := tr.GetRange(fdb.SelectorRange{Begin: begin, End: end}, fdb.RangeOptions{Limit: candidateBatchSize}).GetSliceWithError()
		if err != nil {
			return false, &StoreError{Op: "evaluate", Err: err}
		}

		for _, kv := range kvs {
			pos, err := extractPosition(kv.Key)
			if err != nil {
				return false, err
			}
			ok, err := qe.allTagsAtPosition(tr, factType, rest, pos)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		if len(kvs) < candidateBatchSize {
			return false, nil
		}
		begin = fdb.FirstGreaterThan(kvs[len(kvs)-1].Key)
	}
}

// allTagsAtPosition checks, via direct point reads, whether every tag in
// tags is indexed under (factType, tag, pos).
func (qe *queryEvaluator) allTagsAtPosition(tr fdb.ReadTransaction, factType string, tags []Tag, pos FactPosition) (bool, error) {
	for _, tag := range tags {
		key := qe.ks.typeTagIndexKeyAt(factType, tag, pos)
		if tr.Get(key).MustGet() == nil {
			return false, nil
		}
	}
	return true, nil
}

// rangePositions reads a full range (built by buildRange against
// afterPosition) and projects every key to its FactPosition.
func (qe *queryEvaluator) rangePositions(tr fdb.ReadTransaction, buildRange func(after *FactPosition) (fdb.Range, error), afterPosition *FactPosition) ([]FactPosition, error) {
	rng, err := buildRange(afterPosition)
	if err != nil {
		return nil, &StoreError{Op: "evaluate", Err: err}
	}
	kvs, err := tr.GetRange(rng, fdb.RangeOptions{}).GetSliceWithError()
	if err != nil {
		return nil, &StoreError{Op: "evaluate", Err: err}
	}
	positions := make([]FactPosition, 0, len(kvs))
	for _, kv := range kvs {
		pos, err := extractPosition(kv.Key)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// rangeHasResult reports whether rng has at least one row, reading at
// most one.
func (qe *queryEvaluator) rangeHasResult(tr fdb.ReadTransaction, rng fdb.Range) (bool, error) {
	kvs, err := tr.GetRange(rng, fdb.RangeOptions{Limit: 1}).GetSliceWithError()
	if err != nil {
		return false, &StoreError{Op: "evaluate", Err: err}
	}
	return len(kvs) > 0, nil
}

func toSet(positions []FactPosition) map[FactPosition]struct{} {
	set := make(map[FactPosition]struct{}, len(positions))
	for _, p := range positions {
		set[p] = struct{}{}
	}
	return set
}

// intersectSets returns the intersection of every set in sets.
func intersectSets(sets []map[FactPosition]struct{}) map[FactPosition]struct{} {
	if len(sets) == 0 {
		return nil
	}
	smallest := sets[0]
	for _, s := range sets[1:] {
		if len(s) < len(smallest) {
			smallest = s
		}
	}
	result := make(map[FactPosition]struct{})
	for p := range smallest {
		inAll := true
		for _, s := range sets {
			if _, ok := s[p]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			result[p] = struct{}{}
		}
	}
	return result
}

func sortedPositions(set map[FactPosition]struct{}) []FactPosition {
	positions := make([]FactPosition, 0, len(set))
	for p := range set {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Before(positions[j]) })
	return positions
}
