// Package docstore defines the remote document store contract the feed core
// is written against, plus a Redis-backed implementation. The store provides
// get-by-id, equality and bounded membership queries with cursor
// continuation, atomic field updates, multi-document batches, and
// optimistic-concurrency transactions with automatic retry on conflict.
package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kindred/internal/models"
)

// Collection names used by the feed core.
const (
	CollectionPosts         = "posts"
	CollectionComments      = "comments"
	CollectionNotifications = "notifications"
	CollectionBlockedUsers  = "blockedUsers"
)

// MaxInValues is the upper bound on values in a single membership filter.
// Callers needing more must split into multiple queries and union the
// results (see pager.BatchedIn).
const MaxInValues = 10

// Document is a stored record plus its store-assigned metadata. Version
// increases by one with every committed write to the document.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	Version    int64
	CreatedAt  time.Time
}

// Decode unmarshals the document body into v. When v implements
// models.Entity the store-assigned version is copied onto it.
func (d *Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return models.NewInternalError(fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err))
	}
	if e, ok := v.(models.Entity); ok {
		e.SetVersion(d.Version)
	}
	return nil
}

// Ref names a single document.
type Ref struct {
	Collection string
	ID         string
}

// Filter is an equality predicate on a top-level JSON field.
type Filter struct {
	Field string
	Value string
}

// InFilter is a bounded set-membership predicate on a top-level JSON field.
type InFilter struct {
	Field  string
	Values []string
}

// Query describes a read against one collection. Results are always ordered
// by creation time, newest first. A query uses at most one equality filter
// or one membership filter; the indexable fields per collection are fixed by
// the Schema.
type Query struct {
	Collection string
	Filter     *Filter
	In         *InFilter
	Limit      int
	StartAfter Cursor
}

// QueryResult is one page of documents plus the continuation cursor.
type QueryResult struct {
	Docs       []*Document
	NextCursor Cursor
}

// Cursor is an opaque continuation token marking the last-seen item of a
// paginated query. The zero value means "from the beginning".
type Cursor string

// CursorFor returns the continuation cursor positioned immediately after
// the given document.
func CursorFor(d *Document) Cursor {
	return encodeCursor(d.CreatedAt.UnixMicro(), d.ID)
}

type cursorPos struct {
	score int64
	id    string
}

func encodeCursor(score int64, id string) Cursor {
	raw := strconv.FormatInt(score, 10) + ":" + id
	return Cursor(base64.RawURLEncoding.EncodeToString([]byte(raw)))
}

func decodeCursor(c Cursor) (cursorPos, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return cursorPos{}, models.NewValidationError("Invalid cursor")
	}
	score, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return cursorPos{}, models.NewValidationError("Invalid cursor")
	}
	n, err := strconv.ParseInt(score, 10, 64)
	if err != nil {
		return cursorPos{}, models.NewValidationError("Invalid cursor")
	}
	return cursorPos{score: n, id: id}, nil
}

// OpKind enumerates atomic field operations.
type OpKind int

// Supported field operations.
const (
	OpSet OpKind = iota
	OpIncrement
	OpArrayUnion
	OpArrayRemove
)

// FieldOp is a single atomic operation on a top-level JSON field.
type FieldOp struct {
	Kind  OpKind
	Field string
	Value any
	Delta int
	// FloorZero clamps a decrement at zero instead of going negative.
	// A clamped decrement indicates a consistency bug and is logged.
	FloorZero bool
}

// Set replaces a field's value.
func Set(field string, value any) FieldOp {
	return FieldOp{Kind: OpSet, Field: field, Value: value}
}

// Increment adds delta to a numeric field.
func Increment(field string, delta int) FieldOp {
	return FieldOp{Kind: OpIncrement, Field: field, Delta: delta}
}

// IncrementFloored adds delta to a numeric field, clamping the result at zero.
func IncrementFloored(field string, delta int) FieldOp {
	return FieldOp{Kind: OpIncrement, Field: field, Delta: delta, FloorZero: true}
}

// ArrayUnion adds elem to a string-array field if not already present.
func ArrayUnion(field string, elem string) FieldOp {
	return FieldOp{Kind: OpArrayUnion, Field: field, Value: elem}
}

// ArrayRemove removes elem from a string-array field.
func ArrayRemove(field string, elem string) FieldOp {
	return FieldOp{Kind: OpArrayRemove, Field: field, Value: elem}
}

// Tx is the handle passed to a transaction function. Reads observe a
// consistent snapshot guarded by optimistic concurrency; writes are staged
// and committed atomically when the function returns nil. A concurrent
// write to any read or written document aborts the attempt and the whole
// function is retried.
type Tx interface {
	Get(collection, id string) (*Document, error)
	Set(collection, id string, data any) error
	Update(collection, id string, ops ...FieldOp) error
	Delete(collection, id string) error
}

// Batch stages multi-document writes that commit atomically.
type Batch interface {
	Set(collection, id string, data any) error
	Delete(collection, id string)
}

// Store is the remote document store contract.
type Store interface {
	// Get returns a document by id, or a NOT_FOUND error.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Create writes a new document. The caller supplies a fresh id.
	Create(ctx context.Context, collection, id string, data any) (*Document, error)
	// Update applies field operations atomically (read-modify-write under
	// optimistic concurrency) and returns the updated document.
	Update(ctx context.Context, collection, id string, ops ...FieldOp) (*Document, error)
	// Delete removes a document. Returns NOT_FOUND when it does not exist.
	Delete(ctx context.Context, collection, id string) error
	// Query returns one page of documents ordered newest-first.
	Query(ctx context.Context, q Query) (*QueryResult, error)
	// RunBatch stages writes through fn and commits them atomically.
	RunBatch(ctx context.Context, fn func(b Batch) error) error
	// RunTransaction runs fn with optimistic concurrency over the given
	// documents, retrying on conflict up to the configured attempt budget
	// before surfacing a CONFLICT error.
	RunTransaction(ctx context.Context, refs []Ref, fn func(tx Tx) error) error
}

// Schema maps each collection to the top-level JSON fields it is indexed
// on. Queries may only filter on indexed fields.
type Schema map[string][]string

// DefaultSchema returns the index layout for the feed core's collections.
func DefaultSchema() Schema {
	return Schema{
		CollectionPosts:         {"author_id"},
		CollectionComments:      {"post_id"},
		CollectionNotifications: {"recipient_id"},
		CollectionBlockedUsers:  {"blocker_id"},
	}
}
