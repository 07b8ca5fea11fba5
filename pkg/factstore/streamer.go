package factstore

import (
	"context"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
)

const (
	defaultBatchSize    = 1024
	minBatchSize        = 1
	maxBatchSize        = 5000
	defaultPollInterval = 250 * time.Millisecond
)

// streamer is the resumable tailing reader behind Store.Stream. It serves
// facts in batches ordered by position, blocking for new facts once it
// catches up to the tail rather than returning EOF.
type streamer struct {
	db      fdb.Database
	ks      keySpace
	metrics Metrics
}

func newStreamer(db fdb.Database, ks keySpace, metrics Metrics) *streamer {
	return &streamer{db: db, ks: ks, metrics: metrics}
}

// FactStream is a live, resumable tail of a store. Read from Facts() until
// it closes, then inspect Err() for the reason (nil on a caller-driven
// Close).
type FactStream struct {
	facts  chan Fact
	errCh  chan error
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Facts returns the channel of facts emitted in position order. The
// channel closes when the stream's context is canceled, Close is called,
// or an unrecoverable engine error occurs.
func (s *FactStream) Facts() <-chan Fact {
	return s.facts
}

// Err returns the error that ended the stream, if any. Safe to call only
// after Facts() has been drained and closed.
func (s *FactStream) Err() error {
	select {
	case err := <-s.errCh:
		s.err = err
	default:
	}
	return s.err
}

// Close stops the stream and waits for its goroutine to exit.
func (s *FactStream) Close() error {
	s.cancel()
	<-s.done
	return s.Err()
}

// Stream opens a FactStream starting at opts.StartPosition. The returned
// stream owns a goroutine that runs until ctx is canceled or Close is
// called.
func (s *streamer) Stream(ctx context.Context, opts StreamOptions) (*FactStream, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	lowerExclusive, err := s.resolveStart(opts.StartPosition)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	fs := &FactStream{
		facts:  make(chan Fact, batchSize),
		errCh:  make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.run(streamCtx, fs, lowerExclusive, batchSize, pollInterval)
	return fs, nil
}

// resolveStart converts a StartPosition into the raw FACTS-subspace key to
// treat as the exclusive lower bound of the first batch, or nil to start
// from the beginning of the subspace.
func (s *streamer) resolveStart(start StartPosition) (fdb.Key, error) {
	switch start.Kind {
	case StartBeginning:
		return nil, nil

	case StartEnd:
		var lastKey fdb.Key
		_, err := s.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
			begin, end := s.ks.facts.FDBRangeKeys()
			kvs, err := tr.GetRange(fdb.KeyRange{Begin: begin, End: end}, fdb.RangeOptions{Limit: 1, Reverse: true}).GetSliceWithError()
			if err != nil {
				return nil, &StoreError{Op: "stream", Err: err}
			}
			if len(kvs) > 0 {
				lastKey = kvs[0].Key
			}
			return nil, nil
		})
		if err != nil {
			return nil, classifyEngineError(err)
		}
		return lastKey, nil

	case StartAfter:
		var key fdb.Key
		var found bool
		_, err := s.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
			val := tr.Get(s.ks.positionKey(start.FactID)).MustGet()
			if val == nil {
				return nil, nil
			}
			pos, err := positionFromBytes(val)
			if err != nil {
				return nil, err
			}
			key, found = s.ks.factKeyAt(pos), true
			return nil, nil
		})
		if err != nil {
			return nil, classifyEngineError(err)
		}
		if !found {
			return nil, &InvalidCursorError{StoreError: StoreError{Op: "stream"}, FactID: start.FactID}
		}
		return key, nil

	default:
		return nil, nil
	}
}

// run is the stream's goroutine body: read a batch, emit it, and when a
// batch comes back empty, wait for the tail sentinel to change (or for
// pollInterval to elapse) before trying again.
func (s *streamer) run(ctx context.Context, fs *FactStream, lowerExclusive fdb.Key, batchSize int, pollInterval time.Duration) {
	defer close(fs.facts)
	defer close(fs.done)

	for {
		if err := ctx.Err(); err != nil {
			s.finish(fs, nil)
			return
		}

		facts, lastKey, err := s.readBatch(lowerExclusive, batchSize)
		if err != nil {
			s.finish(fs, err)
			return
		}

		if len(facts) > 0 {
			s.metrics.RecordStreamBatch(len(facts))
			for _, f := range facts {
				select {
				case fs.facts <- f:
				case <-ctx.Done():
					s.finish(fs, nil)
					return
				}
			}
			lowerExclusive = lastKey
			continue
		}

		if !s.waitForChange(ctx, pollInterval) {
			s.finish(fs, nil)
			return
		}
	}
}

// finish records the terminal error (nil for a clean stop) without
// blocking, since errCh is buffered to 1 and only ever written once.
func (s *streamer) finish(fs *FactStream, err error) {
	select {
	case fs.errCh <- err:
	default:
	}
}

// readBatch reads up to batchSize facts strictly after lowerExclusive, in
// position order, decoding each envelope. lastKey is the raw key of the
// last fact read, to resume from on the next call.
func (s *streamer) readBatch(lowerExclusive fdb.Key, batchSize int) ([]Fact, fdb.Key, error) {
	var facts []Fact
	var lastKey fdb.Key

	_, err := s.db.ReadTransact(func(tr fdb.ReadTransaction) (any, error) {
		rng := s.ks.factsRangeFrom(lowerExclusive)
		kvs, err := tr.GetRange(rng, fdb.RangeOptions{Limit: batchSize}).GetSliceWithError()
		if err != nil {
			return nil, &StoreError{Op: "stream", Err: err}
		}

		facts = make([]Fact, 0, len(kvs))
		for _, kv := range kvs {
			pos, err := extractPosition(kv.Key)
			if err != nil {
				return nil, err
			}
			f, err := decodeFactEnvelope(kv.Value)
			if err != nil {
				return nil, err
			}
			f.Position = pos
			facts = append(facts, f)
			lastKey = kv.Key
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, classifyEngineError(err)
	}
	return facts, lastKey, nil
}

// waitForChange blocks until the store's tail sentinel changes or
// pollInterval elapses, whichever comes first, returning false only when
// ctx is canceled first. A watch is registered by letting Transact commit
// a transaction whose only effect is tr.Watch; FoundationDB resolves the
// returned future independently once the watched key's value changes. A
// watch registration failure (e.g. too many outstanding watches on this
// database handle) degrades to a plain sleep, since polling is always a
// correct fallback.
func (s *streamer) waitForChange(ctx context.Context, pollInterval time.Duration) bool {
	result, txErr := s.db.Transact(func(tr fdb.Transaction) (any, error) {
		return tr.Watch(s.ks.sentinel), nil
	})
	if txErr != nil {
		return s.sleep(ctx, pollInterval)
	}
	watchFuture := result.(fdb.FutureNil)

	watchCh := make(chan error, 1)
	go func() { watchCh <- watchFuture.Get() }()

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		watchFuture.Cancel()
		return false
	case <-timer.C:
		watchFuture.Cancel()
		return true
	case <-watchCh:
		return true
	}
}

// sleep blocks for d or until ctx is canceled, whichever comes first.
func (s *streamer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
