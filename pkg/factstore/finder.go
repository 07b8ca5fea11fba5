package factstore

import (
	"context"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
)

// finder is the read side: point lookups and range scans against the fact
// envelope and its secondary indexes.
type finder struct {
	db      fdb.Database
	ks      keySpace
	queries *queryEvaluator
}

func newFinder(db fdb.Database, ks keySpace, qe *queryEvaluator) *finder {
	return &finder{db: db, ks: ks, queries: qe}
}

// FindByID returns the fact stored under id, or (Fact{}, false) if none
// exists.
func (fnd *finder) FindByID(ctx context.Context, id FactID) (Fact, bool, error) {
	if err := ctx.Err(); err != nil {
		return Fact{}, false, err
	}
	var fact Fact
	var found bool
	_, err := fnd.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
		f, ok, err := fnd.lookupByID(tr, id)
		fact, found = f, ok
		return nil, err
	})
	if err != nil {
		return Fact{}, false, classifyEngineError(err)
	}
	return fact, found, nil
}

// ExistsByID reports whether id is recorded in the store, without paying
// for the envelope decode.
func (fnd *finder) ExistsByID(ctx context.Context, id FactID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	_, err := fnd.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
		exists = tr.Get(fnd.ks.positionKey(id)).MustGet() != nil
		return nil, nil
	})
	if err != nil {
		return false, classifyEngineError(err)
	}
	return exists, nil
}

// FindInTimeRange returns every fact whose AppendedAt falls within
// [start, end], both bounds inclusive, ordered by position.
func (fnd *finder) FindInTimeRange(ctx context.Context, start, end Timestamp) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, &ValidationError{
			StoreError: StoreError{Op: "findInTimeRange", Err: errEndBeforeStart},
			Field:      "end",
		}
	}

	var facts []Fact
	_, err := fnd.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
		rng := fnd.ks.timeRange(start, end)
		kvs, err := tr.GetRange(rng, fdb.RangeOptions{}).GetSliceWithError()
		if err != nil {
			return nil, &StoreError{Op: "findInTimeRange", Err: err}
		}
		resolved, err := fnd.resolveByIndexRows(tr, kvs)
		facts = resolved
		return nil, err
	})
	if err != nil {
		return nil, classifyEngineError(err)
	}
	return facts, nil
}

// FindBySubject returns every fact for subject, ordered by position.
func (fnd *finder) FindBySubject(ctx context.Context, subject Subject) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var facts []Fact
	_, err := fnd.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
		rng := fnd.ks.subjectRange(subject)
		kvs, err := tr.GetRange(rng, fdb.RangeOptions{}).GetSliceWithError()
		if err != nil {
			return nil, &StoreError{Op: "findBySubject", Err: err}
		}
		resolved, err := fnd.resolveByIndexRows(tr, kvs)
		facts = resolved
		return nil, err
	})
	if err != nil {
		return nil, classifyEngineError(err)
	}
	return facts, nil
}

// FindByTags returns every fact carrying at least one of the (key, value)
// pairs in tags, regardless of type, ordered by position. Equivalent to FindByTagQuery
// with a single TagOnlyQueryItem clause. An empty tag list matches nothing
// and is answered without any engine read.
func (fnd *finder) FindByTags(ctx context.Context, tags []Tag) ([]Fact, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	return fnd.FindByTagQuery(ctx, NewTagQuery(NewTagOnlyItem(tags)))
}

// FindByTagQuery resolves query via the shared queryEvaluator and hydrates
// every matching position into a Fact, ordered by position.
func (fnd *finder) FindByTagQuery(ctx context.Context, query TagQuery) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	positions, err := fnd.queries.Evaluate(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	facts := make([]Fact, 0, len(positions))
	_, err = fnd.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
		for _, pos := range positions {
			f, ok, err := fnd.lookupByPosition(tr, pos)
			if err != nil {
				return nil, err
			}
			if ok {
				facts = append(facts, f)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, classifyEngineError(err)
	}
	return facts, nil
}

// lookupByID resolves id through POSITIONS, then hydrates its envelope.
func (fnd *finder) lookupByID(tr fdb.ReadTransaction, id FactID) (Fact, bool, error) {
	val := tr.Get(fnd.ks.positionKey(id)).MustGet()
	if val == nil {
		return Fact{}, false, nil
	}
	pos, err := positionFromBytes(val)
	if err != nil {
		return Fact{}, false, err
	}
	return fnd.lookupByPosition(tr, pos)
}

// lookupByPosition reads and decodes the fact envelope at pos.
func (fnd *finder) lookupByPosition(tr fdb.ReadTransaction, pos FactPosition) (Fact, bool, error) {
	raw := tr.Get(fnd.ks.factKeyAt(pos)).MustGet()
	if raw == nil {
		return Fact{}, false, nil
	}
	f, err := decodeFactEnvelope(raw)
	if err != nil {
		return Fact{}, false, err
	}
	f.Position = pos
	return f, true, nil
}

// resolveByIndexRows converts a batch of secondary-index rows (each keyed
// on a trailing position, valued with the raw fact id) into hydrated
// facts, ordered exactly as the rows arrived (every index is itself
// position-ordered).
func (fnd *finder) resolveByIndexRows(tr fdb.ReadTransaction, kvs []fdb.KeyValue) ([]Fact, error) {
	facts := make([]Fact, 0, len(kvs))
	for _, kv := range kvs {
		pos, err := extractPosition(kv.Key)
		if err != nil {
			return nil, err
		}
		f, ok, err := fnd.lookupByPosition(tr, pos)
		if err != nil {
			return nil, err
		}
		if ok {
			facts = append(facts, f)
		}
	}
	return facts, nil
}
