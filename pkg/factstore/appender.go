package factstore

import (
	"context"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
)

// appender is the single entry point for writes. It validates uniqueness,
// enforces idempotency, evaluates the append condition, and writes the
// fact plus every applicable secondary index atomically.
type appender struct {
	db      fdb.Database
	ks      keySpace
	queries *queryEvaluator
	logger  Logger
	metrics Metrics
}

func newAppender(db fdb.Database, ks keySpace, qe *queryEvaluator, logger Logger, metrics Metrics) *appender {
	return &appender{db: db, ks: ks, queries: qe, logger: logger, metrics: metrics}
}

// Append is the convenience wrapper for a single fact: a fresh idempotency
// key, no precondition.
func (a *appender) Append(ctx context.Context, fact Fact) (AppendResult, error) {
	return a.AppendRequest(ctx, NewAppendRequest(fact))
}

// AppendFacts is the convenience wrapper for a batch of facts: a fresh
// idempotency key, no precondition.
func (a *appender) AppendFacts(ctx context.Context, facts []Fact) (AppendResult, error) {
	return a.AppendRequest(ctx, NewAppendRequest(facts...))
}

// AppendRequest executes the full append transaction protocol.
func (a *appender) AppendRequest(ctx context.Context, req AppendRequest) (AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	if err := validateAppendRequest(req); err != nil {
		return AppendResult{}, err
	}

	start := time.Now()
	result, err := a.transact(ctx, req)
	duration := time.Since(start)

	outcome := "error"
	switch {
	case err != nil:
		outcome = "error"
	case result.Kind == ResultAppended:
		outcome = "appended"
	case result.Kind == ResultAlreadyApplied:
		outcome = "already_applied"
	case result.Kind == ResultAppendConditionViolated:
		outcome = "condition_violated"
	}
	a.metrics.RecordAppend(duration, len(req.Facts), outcome)

	fields := map[string]any{"fact_count": len(req.Facts), "duration_ms": duration.Milliseconds(), "outcome": outcome}
	if err != nil {
		a.logger.Error("append failed", err, fields)
	} else {
		a.logger.Debug("append completed", fields)
	}

	return result, err
}

// transact runs the single atomic transaction. FDB's Transact retries the
// whole closure on a transient conflict and reruns it from the top; the
// idempotency probe at the start of every retry is what prevents a
// duplicate commit.
func (a *appender) transact(ctx context.Context, req AppendRequest) (AppendResult, error) {
	var outcome AppendResult
	var vsFuture fdb.FutureKey

	_, err := a.db.Transact(func(tr fdb.Transaction) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vsFuture = nil
		outcome = AppendResult{}

		// Step 1: idempotency gate.
		idemKey := a.ks.idempotencyKey(req.IdempotencyKey)
		if tr.Get(idemKey).MustGet() != nil {
			outcome = AppendResult{Kind: ResultAlreadyApplied}
			return nil, nil
		}

		// Step 2: uniqueness check.
		if err := a.checkUniqueness(tr, req.Facts); err != nil {
			return nil, err
		}

		// Step 3: condition evaluation.
		violated, err := a.evaluateCondition(tr, req.Condition)
		if err != nil {
			return nil, err
		}
		if violated {
			outcome = AppendResult{Kind: ResultAppendConditionViolated}
			return nil, nil
		}

		// Step 4: writes.
		if err := a.writeFacts(tr, req.Facts); err != nil {
			return nil, err
		}

		// Step 5: idempotency record.
		tr.Set(idemKey, []byte{})

		// Tail sentinel so Streamer's watch mode wakes on this commit.
		tr.Set(a.ks.sentinel, []byte{1})

		vsFuture = tr.GetVersionstamp()
		outcome = AppendResult{Kind: ResultAppended}
		return nil, nil
	})
	if err != nil {
		return AppendResult{}, classifyEngineError(err)
	}
	if outcome.Kind == ResultAppended {
		raw, err := vsFuture.Get()
		if err != nil {
			return AppendResult{}, &StoreError{Op: "append", Err: err}
		}
		outcome.position = lastFactPosition(raw, len(req.Facts))
	}
	return outcome, nil
}

// checkUniqueness probes POSITIONS for every fact id in the request and
// returns a DuplicateFactIdError listing every collision.
func (a *appender) checkUniqueness(tr fdb.Transaction, facts []Fact) error {
	futures := make([]fdb.FutureByteSlice, len(facts))
	for i, f := range facts {
		futures[i] = tr.Get(a.ks.positionKey(f.ID))
	}
	var collisions []FactID
	for i, f := range facts {
		if futures[i].MustGet() != nil {
			collisions = append(collisions, f.ID)
		}
	}
	if len(collisions) > 0 {
		return &DuplicateFactIdError{
			StoreError: StoreError{Op: "append"},
			IDs:        collisions,
		}
	}
	return nil
}

// evaluateCondition dispatches on req.Condition.Kind and reports whether
// the condition is violated (true means: fail with
// AppendConditionViolated). It never writes.
func (a *appender) evaluateCondition(tr fdb.Transaction, cond AppendCondition) (bool, error) {
	switch cond.Kind {
	case ConditionNone:
		return false, nil

	case ConditionExpectedLastFact:
		return a.checkExpectedLastFact(tr, cond.Subject, cond.ExpectedLastID)

	case ConditionExpectedMultiSubjectLastFact:
		for _, exp := range cond.Expectations {
			violated, err := a.checkExpectedLastFact(tr, exp.Subject, exp.ExpectedLastID)
			if err != nil || violated {
				return violated, err
			}
		}
		return false, nil

	case ConditionTagQueryBased:
		var afterPos *FactPosition
		if cond.After != nil {
			pos, ok := a.resolvePosition(tr, *cond.After)
			if !ok {
				return false, &InvalidCursorError{StoreError: StoreError{Op: "append"}, FactID: *cond.After}
			}
			afterPos = &pos
		}
		exists, err := a.queries.existsInTx(tr, cond.FailIfEventsMatch, afterPos)
		return exists, err

	default:
		return false, nil
	}
}

// checkExpectedLastFact reads the last row of SUBJECT_INDEX[subject] and
// compares its fact id to expectedLastID (nil meaning "no prior fact").
func (a *appender) checkExpectedLastFact(tr fdb.Transaction, subject Subject, expectedLastID *FactID) (bool, error) {
	rng := a.ks.subjectRange(subject)
	kvs, err := tr.GetRange(rng, fdb.RangeOptions{Limit: 1, Reverse: true}).GetSliceWithError()
	if err != nil {
		return false, &StoreError{Op: "append", Err: err}
	}

	if len(kvs) == 0 {
		return expectedLastID != nil, nil
	}
	lastID, err := extractFactID(kvs[0].Value)
	if err != nil {
		return false, err
	}
	if expectedLastID == nil {
		return true, nil
	}
	return lastID != *expectedLastID, nil
}

// resolvePosition looks up POSITIONS[id]; the bool is false when id is
// unknown.
func (a *appender) resolvePosition(tr fdb.Transaction, id FactID) (FactPosition, bool) {
	val := tr.Get(a.ks.positionKey(id)).MustGet()
	if val == nil {
		return FactPosition{}, false
	}
	pos, err := positionFromBytes(val)
	if err != nil {
		return FactPosition{}, false
	}
	return pos, true
}

// writeFacts writes the fact envelope plus every applicable index row for
// each fact in req, at ordinal offsets that keep relative request order
// intact in every index.
func (a *appender) writeFacts(tr fdb.Transaction, facts []Fact) error {
	for i, f := range facts {
		vs := incompleteVersionstamp(i)

		factKey, err := a.ks.factKey(vs)
		if err != nil {
			return &StoreError{Op: "append", Err: err}
		}
		tr.SetVersionstampedKey(factKey, encodeFactEnvelope(f))

		posVal, err := (tuple.Tuple{vs}).PackWithVersionstamp(nil)
		if err != nil {
			return &StoreError{Op: "append", Err: err}
		}
		tr.SetVersionstampedValue(a.ks.positionKey(f.ID), posVal)

		typeKey, err := a.ks.typeIndexKey(f.Type, vs)
		if err != nil {
			return &StoreError{Op: "append", Err: err}
		}
		tr.SetVersionstampedKey(typeKey, factIDBytes(f.ID))

		timeKey, err := a.ks.timeIndexKey(f.AppendedAt, vs)
		if err != nil {
			return &StoreError{Op: "append", Err: err}
		}
		tr.SetVersionstampedKey(timeKey, factIDBytes(f.ID))

		subjKey, err := a.ks.subjectIndexKey(f.Subject, vs)
		if err != nil {
			return &StoreError{Op: "append", Err: err}
		}
		tr.SetVersionstampedKey(subjKey, factIDBytes(f.ID))

		for _, tag := range f.Tags {
			tagKey, err := a.ks.tagIndexKey(tag, vs)
			if err != nil {
				return &StoreError{Op: "append", Err: err}
			}
			tr.SetVersionstampedKey(tagKey, factIDBytes(f.ID))

			typeTagKey, err := a.ks.typeTagIndexKey(f.Type, tag, vs)
			if err != nil {
				return &StoreError{Op: "append", Err: err}
			}
			tr.SetVersionstampedKey(typeTagKey, factIDBytes(f.ID))
		}

		for k, v := range f.Metadata {
			metaKey, err := a.ks.metadataIndexKey(k, v, vs)
			if err != nil {
				return &StoreError{Op: "append", Err: err}
			}
			tr.SetVersionstampedKey(metaKey, factIDBytes(f.ID))
		}
	}
	return nil
}

// lastFactPosition combines the committed 10-byte transaction versionstamp
// with the ordinal of the last fact in the request, producing the
// FactPosition that Append reports back to the caller.
func lastFactPosition(txnVersion []byte, factCount int) FactPosition {
	var p FactPosition
	copy(p[:10], txnVersion)
	ordinal := uint16(factCount - 1)
	p[10] = byte(ordinal >> 8)
	p[11] = byte(ordinal)
	return p
}

// classifyEngineError passes the package's own error types through
// unchanged; anything else, including an engine error that the engine's
// transactional harness did not retry away, becomes an opaque StoreError
// wrapping it. The core never masks an engine error it cannot interpret.
func classifyEngineError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*DuplicateFactIdError); ok {
		return err
	}
	if _, ok := err.(*InvalidCursorError); ok {
		return err
	}
	if _, ok := err.(*ValidationError); ok {
		return err
	}
	if _, ok := err.(*StoreError); ok {
		return err
	}
	return &StoreError{Op: "append", Err: err}
}
