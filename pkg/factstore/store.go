package factstore

import (
	"context"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
)

// Store is the façade over one fact store instance: an Appender, a Finder,
// and a Streamer sharing one keySpace and one FoundationDB database handle.
type Store struct {
	db      fdb.Database
	ks      keySpace
	logger  Logger
	metrics Metrics

	appender *appender
	finder   *finder
	streamer *streamer
}

// StoreOptions groups the functional-option constructors for NewStore.
type StoreOptions struct{}

// WithLogger overrides the Store's Logger (noopLogger by default).
func (StoreOptions) WithLogger(l Logger) func(*Store) {
	return func(s *Store) { s.logger = l }
}

// WithMetrics overrides the Store's Metrics (noopMetrics by default).
func (StoreOptions) WithMetrics(m Metrics) func(*Store) {
	return func(s *Store) { s.metrics = m }
}

// NewStore opens a Store over storeName within db's key space. Every
// NewStore call against the same (db, storeName) pair shares the same
// underlying FoundationDB keys.
func NewStore(db fdb.Database, storeName string, opts ...func(*Store)) *Store {
	s := &Store{
		db:     db,
		ks:     newKeySpace(storeName),
		logger: noopLogger{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}

	qe := newQueryEvaluator(s.db, s.ks, s.metrics)
	s.appender = newAppender(s.db, s.ks, qe, s.logger, s.metrics)
	s.finder = newFinder(s.db, s.ks, qe)
	s.streamer = newStreamer(s.db, s.ks, s.metrics)
	return s
}

// Append persists a single fact under a fresh idempotency key.
func (s *Store) Append(ctx context.Context, fact Fact) (AppendResult, error) {
	return s.appender.Append(ctx, fact)
}

// AppendFacts persists a batch of facts atomically under a fresh
// idempotency key.
func (s *Store) AppendFacts(ctx context.Context, facts []Fact) (AppendResult, error) {
	return s.appender.AppendFacts(ctx, facts)
}

// AppendRequest executes the full append transaction protocol: idempotency
// gate, uniqueness check, append-condition evaluation, then the write.
func (s *Store) AppendRequest(ctx context.Context, req AppendRequest) (AppendResult, error) {
	return s.appender.AppendRequest(ctx, req)
}

// FindByID returns the fact stored under id, or (Fact{}, false) if none
// exists.
func (s *Store) FindByID(ctx context.Context, id FactID) (Fact, bool, error) {
	return s.finder.FindByID(ctx, id)
}

// ExistsByID reports whether id is recorded in the store.
func (s *Store) ExistsByID(ctx context.Context, id FactID) (bool, error) {
	return s.finder.ExistsByID(ctx, id)
}

// FindInTimeRange returns every fact whose AppendedAt falls within
// [start, end], both bounds inclusive, ordered by position.
func (s *Store) FindInTimeRange(ctx context.Context, start, end Timestamp) ([]Fact, error) {
	return s.finder.FindInTimeRange(ctx, start, end)
}

// FindBySubject returns every fact for subject, ordered by position.
func (s *Store) FindBySubject(ctx context.Context, subject Subject) ([]Fact, error) {
	return s.finder.FindBySubject(ctx, subject)
}

// FindByTags returns every fact carrying at least one of the (key, value)
// pairs in tags, regardless of type, ordered by position.
func (s *Store) FindByTags(ctx context.Context, tags []Tag) ([]Fact, error) {
	return s.finder.FindByTags(ctx, tags)
}

// FindByTagQuery resolves an arbitrary TagQuery, ordered by position.
func (s *Store) FindByTagQuery(ctx context.Context, query TagQuery) ([]Fact, error) {
	return s.finder.FindByTagQuery(ctx, query)
}

// Stream opens a resumable, live tail over the store starting at
// opts.StartPosition. The caller must Close the returned FactStream.
func (s *Store) Stream(ctx context.Context, opts StreamOptions) (*FactStream, error) {
	return s.streamer.Stream(ctx, opts)
}

// Reset permanently deletes every fact and index row belonging to this
// store, in bounded chunks so a large store does not exceed FoundationDB's
// five-second transaction limit.
func (s *Store) Reset(ctx context.Context) error {
	return resetStore(ctx, s.db, s.ks)
}

// Close releases resources held by the Store. It does not close the
// underlying fdb.Database, since a Database handle is typically shared
// across many Store instances in one process.
func (s *Store) Close() error {
	return nil
}
