package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"kindred/internal/models"
	"kindred/internal/observability"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//
//	doc:{collection}:{id}            hash: data (JSON), version, created (unix micros)
//	idx:{collection}                 zset of all ids, scored by creation time
//	idx:{collection}:{field}:{value} zset per indexed field value
//
// Creation scores are unix microseconds so they survive the float64 score
// conversion losslessly.
type RedisStore struct {
	rdb              *redis.Client
	schema           Schema
	maxTxAttempts    uint
	txBackoffInitial time.Duration
	log              *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithSchema overrides the default collection index layout.
func WithSchema(s Schema) RedisOption {
	return func(r *RedisStore) { r.schema = s }
}

// WithTxAttempts bounds the optimistic transaction retry budget.
func WithTxAttempts(n uint) RedisOption {
	return func(r *RedisStore) {
		if n > 0 {
			r.maxTxAttempts = n
		}
	}
}

// WithTxBackoff sets the initial backoff interval between transaction retries.
func WithTxBackoff(d time.Duration) RedisOption {
	return func(r *RedisStore) {
		if d > 0 {
			r.txBackoffInitial = d
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *RedisStore) { r.log = l }
}

// NewRedisStore creates a document store backed by the given Redis client.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:              rdb,
		schema:           DefaultSchema(),
		maxTxAttempts:    5,
		txBackoffInitial: 10 * time.Millisecond,
		log:              observability.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func docKey(collection, id string) string {
	return "doc:" + collection + ":" + id
}

func indexAllKey(collection string) string {
	return "idx:" + collection
}

func indexFieldKey(collection, field, value string) string {
	return "idx:" + collection + ":" + field + ":" + value
}

// wrapStoreErr maps raw client errors to UNAVAILABLE, passing application
// errors through untouched.
func wrapStoreErr(operation string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewUnavailableError(operation, err)
}

func parseDoc(collection, id string, h map[string]string) (*Document, error) {
	version, err := strconv.ParseInt(h["version"], 10, 64)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("corrupt version for %s/%s: %w", collection, id, err))
	}
	created, err := strconv.ParseInt(h["created"], 10, 64)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("corrupt created for %s/%s: %w", collection, id, err))
	}
	return &Document{
		Collection: collection,
		ID:         id,
		Data:       json.RawMessage(h["data"]),
		Version:    version,
		CreatedAt:  time.UnixMicro(created).UTC(),
	}, nil
}

// extractIndexes pulls the creation score and index keys out of a document
// body using the collection's schema.
func (s *RedisStore) extractIndexes(collection string, raw []byte) (int64, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, nil, models.NewInternalError(fmt.Errorf("index %s document: %w", collection, err))
	}
	createdRaw, ok := m["created_at"].(string)
	if !ok {
		return 0, nil, models.NewInternalError(fmt.Errorf("%s document missing created_at", collection))
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return 0, nil, models.NewInternalError(fmt.Errorf("%s document created_at: %w", collection, err))
	}
	var keys []string
	for _, field := range s.schema[collection] {
		if v, ok := m[field].(string); ok && v != "" {
			keys = append(keys, indexFieldKey(collection, field, v))
		}
	}
	return created.UnixMicro(), keys, nil
}

// Get returns a document by id, or a NOT_FOUND error.
func (s *RedisStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	defer observability.TrackStoreOp("get", collection)()
	ctx, span := observability.TraceStoreOperation(ctx, "get", collection)
	defer span.End()
	h, err := s.rdb.HGetAll(ctx, docKey(collection, id)).Result()
	if err != nil {
		return nil, wrapStoreErr("get "+collection, err)
	}
	if len(h) == 0 {
		return nil, models.NewNotFoundError(collection, id)
	}
	return parseDoc(collection, id, h)
}

// Create writes a new document. The caller supplies a fresh id.
func (s *RedisStore) Create(ctx context.Context, collection, id string, data any) (*Document, error) {
	defer observability.TrackStoreOp("create", collection)()
	ctx, span := observability.TraceStoreOperation(ctx, "create", collection)
	defer span.End()
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("encode %s document: %w", collection, err))
	}
	score, idxKeys, err := s.extractIndexes(collection, raw)
	if err != nil {
		return nil, err
	}

	key := docKey(collection, id)
	var verCmd *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "data", string(raw), "created", score)
		verCmd = pipe.HIncrBy(ctx, key, "version", 1)
		z := redis.Z{Score: float64(score), Member: id}
		pipe.ZAdd(ctx, indexAllKey(collection), z)
		for _, idx := range idxKeys {
			pipe.ZAdd(ctx, idx, z)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("create "+collection, err)
	}
	return &Document{
		Collection: collection,
		ID:         id,
		Data:       raw,
		Version:    verCmd.Val(),
		CreatedAt:  time.UnixMicro(score).UTC(),
	}, nil
}

// Update applies field operations atomically and returns the updated document.
func (s *RedisStore) Update(ctx context.Context, collection, id string, ops ...FieldOp) (*Document, error) {
	defer observability.TrackStoreOp("update", collection)()
	ctx, span := observability.TraceStoreOperation(ctx, "update", collection)
	defer span.End()
	err := s.RunTransaction(ctx, []Ref{{Collection: collection, ID: id}}, func(tx Tx) error {
		return tx.Update(collection, id, ops...)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, collection, id)
}

// Delete removes a document and its index entries.
func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	defer observability.TrackStoreOp("delete", collection)()
	ctx, span := observability.TraceStoreOperation(ctx, "delete", collection)
	defer span.End()
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	_, idxKeys, err := s.extractIndexes(collection, doc.Data)
	if err != nil {
		return err
	}
	key := docKey(collection, id)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, indexAllKey(collection), id)
		for _, idx := range idxKeys {
			pipe.ZRem(ctx, idx, id)
		}
		return nil
	})
	return wrapStoreErr("delete "+collection, err)
}

// scored pairs an id with its creation score for merge-sorting.
type scored struct {
	id    string
	score int64
}

// Query returns one page of documents ordered newest-first. Pagination is
// snapshot-style: items appended ahead of the cursor never cause skips or
// duplicates on the pages that follow.
func (s *RedisStore) Query(ctx context.Context, q Query) (*QueryResult, error) {
	defer observability.TrackStoreOp("query", q.Collection)()
	ctx, span := observability.TraceStoreOperation(ctx, "query", q.Collection)
	defer span.End()
	if q.Limit <= 0 {
		return nil, models.NewValidationError("Query limit must be positive")
	}
	if q.In != nil && len(q.In.Values) > MaxInValues {
		return nil, models.NewValidationError(
			fmt.Sprintf("Membership filter exceeds %d values; split and union instead", MaxInValues))
	}

	keys, err := s.queryIndexKeys(q)
	if err != nil {
		return nil, err
	}

	var pos *cursorPos
	if q.StartAfter != "" {
		p, err := decodeCursor(q.StartAfter)
		if err != nil {
			return nil, err
		}
		pos = &p
	}

	items, err := s.fetchOrdered(ctx, keys, pos, q.Limit)
	if err != nil {
		return nil, wrapStoreErr("query "+q.Collection, err)
	}

	docs := make([]*Document, 0, len(items))
	for _, it := range items {
		doc, err := s.Get(ctx, q.Collection, it.id)
		if err != nil {
			if models.IsNotFound(err) {
				continue // deleted between index read and hydration
			}
			return nil, err
		}
		docs = append(docs, doc)
	}

	res := &QueryResult{Docs: docs}
	if len(items) > 0 {
		last := items[len(items)-1]
		res.NextCursor = encodeCursor(last.score, last.id)
	}
	return res, nil
}

func (s *RedisStore) queryIndexKeys(q Query) ([]string, error) {
	switch {
	case q.Filter != nil && q.In != nil:
		return nil, models.NewValidationError("Query cannot combine equality and membership filters")
	case q.Filter != nil:
		if !s.indexed(q.Collection, q.Filter.Field) {
			return nil, models.NewValidationError("Cannot query unindexed field " + q.Filter.Field)
		}
		return []string{indexFieldKey(q.Collection, q.Filter.Field, q.Filter.Value)}, nil
	case q.In != nil:
		if !s.indexed(q.Collection, q.In.Field) {
			return nil, models.NewValidationError("Cannot query unindexed field " + q.In.Field)
		}
		keys := make([]string, 0, len(q.In.Values))
		for _, v := range q.In.Values {
			keys = append(keys, indexFieldKey(q.Collection, q.In.Field, v))
		}
		return keys, nil
	default:
		return []string{indexAllKey(q.Collection)}, nil
	}
}

func (s *RedisStore) indexed(collection, field string) bool {
	for _, f := range s.schema[collection] {
		if f == field {
			return true
		}
	}
	return false
}

// fetchOrdered merges the index zsets newest-first and applies the cursor.
// Creation scores can collide at microsecond resolution, so the cursor pins
// (score, id) and same-score items are tie-broken by id, descending, to
// match Redis's reverse-lexicographical order within a score.
func (s *RedisStore) fetchOrdered(ctx context.Context, keys []string, pos *cursorPos, limit int) ([]scored, error) {
	maxArg := "+inf"
	if pos != nil {
		maxArg = strconv.FormatInt(pos.score, 10) // inclusive; ties filtered below
	}

	count := int64(limit + 64)
	for {
		merged, exhausted, err := s.fetchMerged(ctx, keys, maxArg, count)
		if err != nil {
			return nil, err
		}

		page := make([]scored, 0, limit)
		for _, it := range merged {
			if pos != nil && it.score == pos.score && it.id >= pos.id {
				continue // at or before the cursor position
			}
			page = append(page, it)
			if len(page) == limit {
				return page, nil
			}
		}
		if exhausted {
			return page, nil
		}
		count *= 4
	}
}

func (s *RedisStore) fetchMerged(ctx context.Context, keys []string, maxArg string, count int64) ([]scored, bool, error) {
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: maxArg, Count: count}

	cmds := make([]*redis.ZSliceCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.ZRevRangeByScoreWithScores(ctx, key, rangeBy)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	exhausted := true
	var merged []scored
	seen := make(map[string]struct{})
	for _, cmd := range cmds {
		zs := cmd.Val()
		if int64(len(zs)) == count {
			exhausted = false
		}
		for _, z := range zs {
			id := z.Member.(string)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, scored{id: id, score: int64(z.Score)})
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].id > merged[j].id
	})
	return merged, exhausted, nil
}

// RunBatch stages writes through fn and commits them in a single MULTI/EXEC.
func (s *RedisStore) RunBatch(ctx context.Context, fn func(b Batch) error) error {
	defer observability.TrackStoreOp("batch", "multi")()
	ctx, span := observability.TraceStoreOperation(ctx, "batch", "multi")
	defer span.End()
	b := &redisBatch{store: s}
	if err := fn(b); err != nil {
		return err
	}

	// Read phase: resolve index entries for deletions before committing.
	type deletion struct {
		ref     Ref
		idxKeys []string
	}
	dels := make([]deletion, 0, len(b.dels))
	for _, ref := range b.dels {
		doc, err := s.Get(ctx, ref.Collection, ref.ID)
		if err != nil {
			if models.IsNotFound(err) {
				continue // already gone; deletes are idempotent in batches
			}
			return err
		}
		_, idxKeys, err := s.extractIndexes(ref.Collection, doc.Data)
		if err != nil {
			return err
		}
		dels = append(dels, deletion{ref: ref, idxKeys: idxKeys})
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range b.sets {
			key := docKey(w.collection, w.id)
			pipe.HSet(ctx, key, "data", string(w.raw), "created", w.score)
			pipe.HIncrBy(ctx, key, "version", 1)
			z := redis.Z{Score: float64(w.score), Member: w.id}
			pipe.ZAdd(ctx, indexAllKey(w.collection), z)
			for _, idx := range w.idxKeys {
				pipe.ZAdd(ctx, idx, z)
			}
		}
		for _, d := range dels {
			pipe.Del(ctx, docKey(d.ref.Collection, d.ref.ID))
			pipe.ZRem(ctx, indexAllKey(d.ref.Collection), d.ref.ID)
			for _, idx := range d.idxKeys {
				pipe.ZRem(ctx, idx, d.ref.ID)
			}
		}
		return nil
	})
	return wrapStoreErr("batch commit", err)
}

type batchSet struct {
	collection string
	id         string
	raw        []byte
	score      int64
	idxKeys    []string
}

type redisBatch struct {
	store *RedisStore
	sets  []batchSet
	dels  []Ref
}

func (b *redisBatch) Set(collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.NewInternalError(fmt.Errorf("encode %s document: %w", collection, err))
	}
	score, idxKeys, err := b.store.extractIndexes(collection, raw)
	if err != nil {
		return err
	}
	b.sets = append(b.sets, batchSet{collection: collection, id: id, raw: raw, score: score, idxKeys: idxKeys})
	return nil
}

func (b *redisBatch) Delete(collection, id string) {
	b.dels = append(b.dels, Ref{Collection: collection, ID: id})
}

// RunTransaction runs fn under WATCH-based optimistic concurrency over the
// declared documents. A conflicting write by another client fails the
// EXEC and the whole function is retried with exponential backoff, up to
// the configured attempt budget, before surfacing CONFLICT.
func (s *RedisStore) RunTransaction(ctx context.Context, refs []Ref, fn func(tx Tx) error) error {
	if len(refs) == 0 {
		return models.NewInternalError(errors.New("transaction requires at least one document ref"))
	}
	collection := refs[0].Collection
	defer observability.TrackStoreOp("transaction", collection)()
	ctx, span := observability.TraceStoreOperation(ctx, "transaction", collection)
	defer span.End()

	keys := make([]string, len(refs))
	allowed := make(map[Ref]struct{}, len(refs))
	for i, ref := range refs {
		keys[i] = docKey(ref.Collection, ref.ID)
		allowed[ref] = struct{}{}
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			observability.TxRetries.WithLabelValues(collection).Inc()
		}
		err := s.rdb.Watch(ctx, func(wtx *redis.Tx) error {
			t := &redisTx{store: s, ctx: ctx, wtx: wtx, allowed: allowed}
			if err := fn(t); err != nil {
				return err
			}
			_, err := wtx.TxPipelined(ctx, t.flush)
			return err
		}, keys...)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, redis.TxFailedErr):
			return struct{}{}, err // lost the race; retry
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.txBackoffInitial
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.maxTxAttempts),
	)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			observability.TxConflicts.WithLabelValues(collection).Inc()
			return models.NewConflictError("transaction on "+collection, err)
		}
		return wrapStoreErr("transaction on "+collection, err)
	}
	return nil
}

type txWrite struct {
	del        bool
	collection string
	id         string
	raw        []byte
	score      int64
	idxKeys    []string
	oldIdxKeys []string
}

// redisTx stages writes against a watched connection. All reads and writes
// must address documents declared in the RunTransaction refs; anything else
// would escape the WATCH set and silently lose the concurrency guarantee.
type redisTx struct {
	store   *RedisStore
	ctx     context.Context
	wtx     *redis.Tx
	allowed map[Ref]struct{}
	writes  []txWrite
}

func (t *redisTx) check(collection, id string) error {
	if _, ok := t.allowed[Ref{Collection: collection, ID: id}]; !ok {
		return models.NewInternalError(
			fmt.Errorf("transaction touched undeclared document %s/%s", collection, id))
	}
	return nil
}

func (t *redisTx) Get(collection, id string) (*Document, error) {
	if err := t.check(collection, id); err != nil {
		return nil, err
	}
	h, err := t.wtx.HGetAll(t.ctx, docKey(collection, id)).Result()
	if err != nil {
		return nil, wrapStoreErr("get "+collection, err)
	}
	if len(h) == 0 {
		return nil, models.NewNotFoundError(collection, id)
	}
	return parseDoc(collection, id, h)
}

func (t *redisTx) Set(collection, id string, data any) error {
	if err := t.check(collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return models.NewInternalError(fmt.Errorf("encode %s document: %w", collection, err))
	}
	score, idxKeys, err := t.store.extractIndexes(collection, raw)
	if err != nil {
		return err
	}
	var oldIdx []string
	if existing, err := t.Get(collection, id); err == nil {
		_, oldIdx, err = t.store.extractIndexes(collection, existing.Data)
		if err != nil {
			return err
		}
		score = existing.CreatedAt.UnixMicro() // edits never reorder
	} else if !models.IsNotFound(err) {
		return err
	}
	t.writes = append(t.writes, txWrite{
		collection: collection, id: id, raw: raw,
		score: score, idxKeys: idxKeys, oldIdxKeys: oldIdx,
	})
	return nil
}

func (t *redisTx) Update(collection, id string, ops ...FieldOp) error {
	doc, err := t.Get(collection, id)
	if err != nil {
		return err
	}
	raw, clamped, err := applyFieldOps(doc.Data, ops)
	if err != nil {
		return err
	}
	if clamped {
		observability.ClampedCounters.Inc()
		t.store.log.ErrorContext(t.ctx, "counter decrement clamped at zero",
			slog.String("collection", collection),
			slog.String("doc_id", id),
		)
	}
	_, idxKeys, err := t.store.extractIndexes(collection, raw)
	if err != nil {
		return err
	}
	_, oldIdx, err := t.store.extractIndexes(collection, doc.Data)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, txWrite{
		collection: collection, id: id, raw: raw,
		score: doc.CreatedAt.UnixMicro(), idxKeys: idxKeys, oldIdxKeys: oldIdx,
	})
	return nil
}

func (t *redisTx) Delete(collection, id string) error {
	doc, err := t.Get(collection, id)
	if err != nil {
		return err
	}
	_, idxKeys, err := t.store.extractIndexes(collection, doc.Data)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, txWrite{del: true, collection: collection, id: id, idxKeys: idxKeys})
	return nil
}

func (t *redisTx) flush(pipe redis.Pipeliner) error {
	ctx := t.ctx
	for _, w := range t.writes {
		key := docKey(w.collection, w.id)
		if w.del {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, indexAllKey(w.collection), w.id)
			for _, idx := range w.idxKeys {
				pipe.ZRem(ctx, idx, w.id)
			}
			continue
		}
		for _, old := range w.oldIdxKeys {
			if !containsString(w.idxKeys, old) {
				pipe.ZRem(ctx, old, w.id)
			}
		}
		pipe.HSet(ctx, key, "data", string(w.raw), "created", w.score)
		pipe.HIncrBy(ctx, key, "version", 1)
		z := redis.Z{Score: float64(w.score), Member: w.id}
		pipe.ZAdd(ctx, indexAllKey(w.collection), z)
		for _, idx := range w.idxKeys {
			pipe.ZAdd(ctx, idx, z)
		}
	}
	return nil
}
