package factstore

import (
	"context"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/subspace"
	"golang.org/x/sync/errgroup"
)

// resetChunkSize bounds how many keys are cleared per transaction, keeping
// every chunk well under FoundationDB's five-second transaction limit even
// for a store with a large number of index rows.
const resetChunkSize = 10000

// resetStore permanently deletes every key belonging to ks's store,
// subspace by subspace, each in bounded chunks. Intended for test and
// benchmark fixtures only: unlike a single ClearRange, this never risks
// exceeding the engine's per-transaction time or size limit on a
// populated store.
func resetStore(ctx context.Context, db fdb.Database, ks keySpace) error {
	subspaces := []subspace.Subspace{
		ks.facts,
		ks.positions,
		ks.typeIndex,
		ks.timeIndex,
		ks.subjectIndex,
		ks.tagIndex,
		ks.typeTagIndex,
		ks.metadataIndex,
		ks.idempotency,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, ss := range subspaces {
		ss := ss
		group.Go(func() error {
			return clearSubspace(groupCtx, db, ss)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if _, err := db.Transact(func(tr fdb.Transaction) (any, error) {
		tr.Clear(ks.sentinel)
		return nil, nil
	}); err != nil {
		return classifyEngineError(err)
	}
	return nil
}

// clearSubspace deletes every key in ss, resetChunkSize keys at a time.
func clearSubspace(ctx context.Context, db fdb.Database, ss subspace.Subspace) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var cleared int
		_, err := db.Transact(func(tr fdb.Transaction) (any, error) {
			begin, end := ss.FDBRangeKeys()
			kvs, err := tr.GetRange(fdb.KeyRange{Begin: begin, End: end}, fdb.RangeOptions{Limit: resetChunkSize}).GetSliceWithError()
			if err != nil {
				return nil, &StoreError{Op: "reset", Err: err}
			}
			for _, kv := range kvs {
				tr.Clear(kv.Key)
			}
			cleared = len(kvs)
			return nil, nil
		})
		if err != nil {
			return classifyEngineError(err)
		}
		if cleared < resetChunkSize {
			return nil
		}
	}
}
