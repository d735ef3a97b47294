/*
store.go - Document Store interface

PURPOSE:
  A narrow, backend-agnostic document database contract. The ledger never
  talks to a database directly; it reads and writes JSON documents grouped
  in collections through this interface.

CONTRACT:
  Get        Read one document (ErrNotFound when absent)
  Set        Replace a document, or deep-merge into it when merge=true
  Update     Patch dotted field paths on an existing document
  Delete     Remove a document (no-op when absent)
  Query      Filter/order/limit within one collection
  Subscribe  Stream snapshots of a filtered collection as it changes
  RunBatch   Apply several writes all-or-nothing

VERSIONING:
  Every document carries a Version. Create starts at 1 and every write
  increments it. A Write with IfVersion > 0 only applies when the stored
  version still matches, otherwise the whole batch fails with ErrConflict.
  This is the optimistic concurrency primitive the ledger builds on.

IMPLEMENTATIONS:
  docstore/memory: in-process maps (tests, dev)
  store/sqlstore:  SQLite / PostgreSQL document table

SEE ALSO:
  - apply.go: Write semantics shared by all backends
  - match.go: Filter and ordering semantics shared by all backends
  - hub.go:   Subscription fan-out
*/
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MaxBatchSize is the default upper bound on writes per batch.
const MaxBatchSize = 500

// Store is the document database used by the ledger.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data any, merge bool) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]*Document, error)
	Subscribe(ctx context.Context, collection string, filters ...Filter) (*Subscription, error)
	RunBatch(ctx context.Context, writes []Write) error
	Close() error
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// Document is a stored JSON object plus its bookkeeping.
type Document struct {
	Collection string
	ID         string
	Version    int64
	Data       json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the document body into v.
func (d *Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Fields decodes the document body into a generic map.
func (d *Document) Fields() (map[string]any, error) {
	return decodeObject(d.Data)
}

// Clone returns a deep copy so callers cannot mutate store state.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Data = append(json.RawMessage(nil), d.Data...)
	return &c
}

// =============================================================================
// QUERIES
// =============================================================================

// Op is a filter comparison operator.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

// Filter restricts a query to documents whose Field satisfies Op against Value.
// Field may be a dotted path into nested objects.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents within a collection.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Snapshot is the full result set of a subscription at one point in time.
// Seq increases with every committed write to the store, so a consumer can
// discard snapshots it has already seen or that arrive out of order.
type Snapshot struct {
	Seq       uint64
	Documents []*Document
}

// Subscription delivers snapshots until Close is called or its context ends.
type Subscription struct {
	C      <-chan Snapshot
	cancel func()
}

// Close stops delivery and releases the subscription.
func (s *Subscription) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// =============================================================================
// WRITES
// =============================================================================

// WriteKind identifies the kind of a batched write.
type WriteKind int

const (
	WriteCreate WriteKind = iota
	WriteSet
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return fmt.Sprintf("write(%d)", int(k))
	}
}

// Write is one mutation inside a batch.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string

	// Data is the whole document for Create and Set (a struct or a map).
	Data  any
	Merge bool

	// Fields holds dotted paths for Update.
	Fields map[string]any

	// IfVersion, when positive, requires the stored document to be at that
	// version. Zero means unconditional.
	IfVersion int64
}

// deleteField is the marker type behind DeleteField.
type deleteField struct{}

// DeleteField removes the addressed key when used as an Update value.
var DeleteField = deleteField{}

// Create returns a write that fails with ErrAlreadyExists when id is taken.
func Create(collection, id string, data any) Write {
	return Write{Kind: WriteCreate, Collection: collection, ID: id, Data: data}
}

// Set returns a write that replaces the document.
func Set(collection, id string, data any) Write {
	return Write{Kind: WriteSet, Collection: collection, ID: id, Data: data}
}

// SetMerge returns a write that deep-merges data into the document.
func SetMerge(collection, id string, data any) Write {
	return Write{Kind: WriteSet, Collection: collection, ID: id, Data: data, Merge: true}
}

// Update returns a write that patches dotted field paths.
func Update(collection, id string, fields map[string]any) Write {
	return Write{Kind: WriteUpdate, Collection: collection, ID: id, Fields: fields}
}

// Delete returns a write that removes the document.
func Delete(collection, id string) Write {
	return Write{Kind: WriteDelete, Collection: collection, ID: id}
}

// IfVersionIs adds an optimistic concurrency precondition.
func (w Write) IfVersionIs(version int64) Write {
	w.IfVersion = version
	return w
}

// CreateDocument is a convenience for a single Create write.
func CreateDocument(ctx context.Context, s Store, collection, id string, data any) error {
	return s.RunBatch(ctx, []Write{Create(collection, id, data)})
}
