/*
Package sqlstore provides a SQL-backed implementation of docstore.Store.

PURPOSE:
  Persists ledger documents (groups, expenses, payments, friend requests,
  notifications, outbox entries) as JSON rows in a single versioned table.
  The same code runs on SQLite and PostgreSQL; only placeholders and error
  classification differ per driver.

DRIVERS:
  sqlite3   github.com/mattn/go-sqlite3 (cgo, default)
  sqlite    modernc.org/sqlite (pure Go)
  postgres  github.com/lib/pq

KEY TABLE:
  documents(collection, id, version, data, created_at, updated_at)
  PRIMARY KEY (collection, id)

OPTIMISTIC CONCURRENCY:
  Every UPDATE and DELETE carries "AND version = ?" with the version read
  inside the same transaction. Zero affected rows means another writer got
  there first and the batch fails with docstore.ErrConflict. A concurrent
  INSERT of the same id surfaces as a unique violation and maps to the same
  error.

ERROR CLASSIFICATION:
  busy/locked (SQLite), connection and serialization classes (PostgreSQL),
  and dropped connections are wrapped in docstore.UnavailableError. A
  failed COMMIT is always reported as unavailable because the outcome is
  unknown to the caller.

QUERIES:
  Equality filters on top-level string fields are pushed into SQL
  (json_extract on SQLite, ->> on PostgreSQL) to narrow the scan.
  Range, in, array-contains, nested-path and timestamp filters, ordering
  and limits are evaluated in Go by docstore.Select over the candidates,
  so a query without a pushable filter still reads the whole collection.
  There are no expression indexes on document fields.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within the process. SQLite connections
  are capped at one so ":memory:" databases are shared by every caller.

WAL MODE:
  File-backed SQLite databases are opened in WAL mode with a busy timeout.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - docstore/store.go: Interface definition
  - docstore/apply.go: Write semantics applied before each SQL statement
  - docstore/memory:   In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/warp/expense-ledger/docstore"
)

// Supported driver names.
const (
	DriverSQLite     = "sqlite3"
	DriverPureSQLite = "sqlite"
	DriverPostgres   = "postgres"
)

// Store implements docstore.Store on database/sql.
type Store struct {
	db       *sql.DB
	driver   string
	mu       sync.RWMutex
	now      func() time.Time
	maxBatch int
	logger   *slog.Logger
	hub      *docstore.Hub
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMaxBatchSize overrides docstore.MaxBatchSize.
func WithMaxBatchSize(n int) Option {
	return func(s *Store) { s.maxBatch = n }
}

// New opens a SQLite database at dbPath with the default driver.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	return Open(DriverSQLite, dbPath, opts...)
}

// Open connects using the named driver and migrates the schema.
func Open(driverName, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		driver:   driverName,
		now:      func() time.Time { return time.Now().UTC() },
		maxBatch: docstore.MaxBatchSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	source, err := dataSource(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if s.isSQLite() {
		db.SetMaxOpenConns(1)
	}
	s.db = db

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	s.hub = docstore.NewHub(s.Query, s.logger)
	return s, nil
}

func dataSource(driverName, dsn string) (string, error) {
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	switch driverName {
	case DriverSQLite:
		if memory || strings.Contains(dsn, "?") {
			return dsn, nil
		}
		return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverPureSQLite:
		if memory || strings.Contains(dsn, "?") {
			return dsn, nil
		}
		return dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	case DriverPostgres:
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driverName)
	}
}

func (s *Store) isSQLite() bool {
	return s.driver == DriverSQLite || s.driver == DriverPureSQLite
}

// Close closes subscriptions and the database connection.
func (s *Store) Close() error {
	s.hub.CloseAll()
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			version BIGINT NOT NULL,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_updated
			ON documents(collection, updated_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

var _ docstore.Store = (*Store)(nil)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load(ctx, s.db, collection, id)
	if err != nil {
		return nil, s.classify("get", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	return doc, nil
}

func (s *Store) load(ctx context.Context, q querier, collection, id string) (*docstore.Document, error) {
	row := q.QueryRowContext(ctx, s.rebind(
		`SELECT version, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`),
		collection, id)

	doc := &docstore.Document{Collection: collection, ID: id}
	var data, created, updated string
	if err := row.Scan(&doc.Version, &data, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	doc.Data = []byte(data)
	doc.CreateTime, _ = time.Parse(time.RFC3339Nano, created)
	doc.UpdateTime, _ = time.Parse(time.RFC3339Nano, updated)
	return doc, nil
}

// Query narrows the scan in SQL with the filters that are plain text
// equality on top-level fields, then applies docstore.Select for the exact
// semantics, ordering and limit.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]*docstore.Document, error) {
	query, args := s.selectQuery(collection, q.Filters)

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.mu.RUnlock()
		return nil, s.classify("query", err)
	}

	var docs []*docstore.Document
	for rows.Next() {
		doc := &docstore.Document{Collection: collection}
		var data, created, updated string
		if err := rows.Scan(&doc.ID, &doc.Version, &data, &created, &updated); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, s.classify("query", err)
		}
		doc.Data = []byte(data)
		doc.CreateTime, _ = time.Parse(time.RFC3339Nano, created)
		doc.UpdateTime, _ = time.Parse(time.RFC3339Nano, updated)
		docs = append(docs, doc)
	}
	err = rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return nil, s.classify("query", err)
	}
	return docstore.Select(docs, q)
}

// selectQuery builds the candidate scan for a collection. Only filters
// accepted by Filter.TextEquality are pushed down, so the SQL never drops a
// document Select would keep.
func (s *Store) selectQuery(collection string, filters []docstore.Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, version, data, created_at, updated_at FROM documents WHERE collection = ?`)
	args := []any{collection}
	for _, f := range filters {
		field, value, ok := f.TextEquality()
		if !ok {
			continue
		}
		if s.driver == DriverPostgres {
			b.WriteString(` AND (data::jsonb ->> ?::text) = ?`)
			args = append(args, field, value)
		} else {
			b.WriteString(` AND json_extract(data, ?) = ?`)
			args = append(args, "$."+field, value)
		}
	}
	return s.rebind(b.String()), args
}

func (s *Store) Subscribe(ctx context.Context, collection string, filters ...docstore.Filter) (*docstore.Subscription, error) {
	return s.hub.Subscribe(ctx, collection, filters)
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) Set(ctx context.Context, collection, id string, data any, merge bool) error {
	w := docstore.Set(collection, id, data)
	if merge {
		w = docstore.SetMerge(collection, id, data)
	}
	return s.RunBatch(ctx, []docstore.Write{w})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.RunBatch(ctx, []docstore.Write{docstore.Update(collection, id, fields)})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.RunBatch(ctx, []docstore.Write{docstore.Delete(collection, id)})
}

// RunBatch applies writes inside one database transaction.
func (s *Store) RunBatch(ctx context.Context, writes []docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}
	if len(writes) > s.maxBatch {
		return docstore.ErrBatchTooLarge
	}

	s.mu.Lock()
	collections, err := s.runBatchLocked(ctx, writes)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.Publish(collections...)
	return nil
}

func (s *Store) runBatchLocked(ctx context.Context, writes []docstore.Write) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.classify("begin", err)
	}
	defer tx.Rollback()

	now := s.now()
	collections := make([]string, 0, len(writes))
	for _, w := range writes {
		cur, err := s.load(ctx, tx, w.Collection, w.ID)
		if err != nil {
			return nil, s.classify("load", err)
		}
		next, err := docstore.Apply(cur, w, now)
		if err != nil {
			return nil, err
		}
		if err := s.write(ctx, tx, w, cur, next); err != nil {
			return nil, err
		}
		collections = append(collections, w.Collection)
	}

	if err := tx.Commit(); err != nil {
		return nil, &docstore.UnavailableError{Op: "commit", Err: err}
	}
	return collections, nil
}

func (s *Store) write(ctx context.Context, tx *sql.Tx, w docstore.Write, cur, next *docstore.Document) error {
	var (
		res sql.Result
		err error
	)
	switch {
	case cur == nil && next == nil:
		return nil
	case next == nil:
		res, err = tx.ExecContext(ctx, s.rebind(
			`DELETE FROM documents WHERE collection = ? AND id = ? AND version = ?`),
			w.Collection, w.ID, cur.Version)
	case cur == nil:
		res, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO documents (collection, id, version, data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			w.Collection, w.ID, next.Version, string(next.Data),
			next.CreateTime.Format(time.RFC3339Nano), next.UpdateTime.Format(time.RFC3339Nano))
	default:
		res, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE documents SET version = ?, data = ?, updated_at = ?
			 WHERE collection = ? AND id = ? AND version = ?`),
			next.Version, string(next.Data), next.UpdateTime.Format(time.RFC3339Nano),
			w.Collection, w.ID, cur.Version)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return &docstore.ConflictError{Collection: w.Collection, ID: w.ID, Expected: 0, Actual: 1}
		}
		return s.classify(w.Kind.String(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.classify(w.Kind.String(), err)
	}
	if n == 0 {
		return &docstore.ConflictError{
			Collection: w.Collection,
			ID:         w.ID,
			Expected:   cur.Version,
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// rebind converts "?" placeholders to the driver's style.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isTransient(err) {
		s.logger.Warn("transient database error", "op", op, "driver", s.driver, "error", err)
		return &docstore.UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
