package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-ledger/docstore"
)

func newTestStores(t *testing.T) map[string]*Store {
	t.Helper()
	stores := make(map[string]*Store)
	for _, driverName := range []string{DriverSQLite, DriverPureSQLite} {
		s, err := Open(driverName, ":memory:")
		require.NoError(t, err, driverName)
		t.Cleanup(func() { s.Close() })
		stores[driverName] = s
	}
	return stores
}

func TestStore_CRUD(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "group", "g1")
			assert.ErrorIs(t, err, docstore.ErrNotFound)

			require.NoError(t, docstore.CreateDocument(ctx, s, "group", "g1", map[string]any{
				"name":     "trip",
				"balances": map[string]any{"a": "0"},
			}))
			assert.ErrorIs(t, docstore.CreateDocument(ctx, s, "group", "g1", map[string]any{}), docstore.ErrAlreadyExists)

			require.NoError(t, s.Set(ctx, "group", "g1", map[string]any{"balances": map[string]any{"b": "0"}}, true))
			require.NoError(t, s.Update(ctx, "group", "g1", map[string]any{"balances.a": "4.5"}))

			doc, err := s.Get(ctx, "group", "g1")
			require.NoError(t, err)
			assert.Equal(t, int64(3), doc.Version)
			assert.False(t, doc.CreateTime.IsZero())

			var g struct {
				Name     string            `json:"name"`
				Balances map[string]string `json:"balances"`
			}
			require.NoError(t, doc.DataTo(&g))
			assert.Equal(t, "trip", g.Name)
			assert.Equal(t, map[string]string{"a": "4.5", "b": "0"}, g.Balances)

			require.NoError(t, s.Delete(ctx, "group", "g1"))
			_, err = s.Get(ctx, "group", "g1")
			assert.ErrorIs(t, err, docstore.ErrNotFound)
		})
	}
}

func TestStore_BatchRollsBackOnConflict(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, docstore.CreateDocument(ctx, s, "group", "g1", map[string]any{"name": "trip"}))

			// GIVEN: a batch that inserts, then violates a precondition
			err := s.RunBatch(ctx, []docstore.Write{
				docstore.Create("expenses", "e1", map[string]any{"amount": "1"}),
				docstore.Update("group", "g1", map[string]any{"name": "x"}).IfVersionIs(2),
			})

			// THEN: the insert is rolled back
			assert.ErrorIs(t, err, docstore.ErrConflict)
			_, err = s.Get(ctx, "expenses", "e1")
			assert.ErrorIs(t, err, docstore.ErrNotFound)
		})
	}
}

func TestStore_QueryOrderAndFilters(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
			for i, id := range []string{"e1", "e2", "e3"} {
				require.NoError(t, docstore.CreateDocument(ctx, s, "expenses", id, map[string]any{
					"groupId":   "g1",
					"createdAt": base.Add(time.Duration(i) * time.Hour),
				}))
			}
			require.NoError(t, docstore.CreateDocument(ctx, s, "expenses", "other", map[string]any{"groupId": "g2"}))

			docs, err := s.Query(ctx, "expenses", docstore.Query{
				Filters:    []docstore.Filter{docstore.Where("groupId", docstore.OpEqual, "g1")},
				OrderBy:    "createdAt",
				Descending: true,
				Limit:      2,
			})
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "e3", docs[0].ID)
			assert.Equal(t, "e2", docs[1].ID)
		})
	}
}

func TestStore_QueryPushesDownEquality(t *testing.T) {
	// GIVEN: payments with mixed statuses, users and timestamps
	// WHEN: querying with pushed-down and Go-evaluated filters together
	// THEN: results match docstore.Select semantics on every driver

	type status string
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed := map[string]map[string]any{
				"p1": {"userId": "B", "status": "PENDING_CONFIRMATION", "createdAt": created, "amount": 10},
				"p2": {"userId": "B", "status": "CONFIRMED", "createdAt": created, "amount": 20},
				"p3": {"userId": "C", "status": "PENDING_CONFIRMATION", "createdAt": created.Add(time.Hour), "amount": 30},
				"p4": {"userId": "it's", "status": "PENDING_CONFIRMATION", "meta": map[string]any{"source": "B"}},
			}
			for id, data := range seed {
				require.NoError(t, docstore.CreateDocument(ctx, s, "payments", id, data))
			}

			ids := func(filters ...docstore.Filter) []string {
				docs, err := s.Query(ctx, "payments", docstore.Query{Filters: filters})
				require.NoError(t, err)
				out := make([]string, len(docs))
				for i, d := range docs {
					out[i] = d.ID
				}
				return out
			}

			assert.Equal(t, []string{"p1"}, ids(
				docstore.Where("userId", docstore.OpEqual, "B"),
				docstore.Where("status", docstore.OpEqual, status("PENDING_CONFIRMATION"))))
			assert.Equal(t, []string{"p4"}, ids(docstore.Where("userId", docstore.OpEqual, "it's")))
			assert.Equal(t, []string{"p4"}, ids(docstore.Where("meta.source", docstore.OpEqual, "B")))
			assert.Equal(t, []string{"p1", "p2"}, ids(docstore.Where("createdAt", docstore.OpEqual, created)))
			assert.Equal(t, []string{"p3"}, ids(
				docstore.Where("status", docstore.OpEqual, "PENDING_CONFIRMATION"),
				docstore.Where("amount", docstore.OpGreater, 10)))
			assert.Empty(t, ids(docstore.Where("amount", docstore.OpEqual, "10")))
		})
	}
}

func TestSelectQuery(t *testing.T) {
	filters := []docstore.Filter{
		docstore.Where("groupId", docstore.OpEqual, "g1"),
		docstore.Where("createdAt", docstore.OpGreaterEqual, time.Now()),
		docstore.Where("status", docstore.OpEqual, "APPROVED"),
	}

	lite := &Store{driver: DriverSQLite}
	query, args := lite.selectQuery("expenses", filters)
	assert.Equal(t, "SELECT id, version, data, created_at, updated_at FROM documents WHERE collection = ?"+
		" AND json_extract(data, ?) = ? AND json_extract(data, ?) = ?", query)
	assert.Equal(t, []any{"expenses", "$.groupId", "g1", "$.status", "APPROVED"}, args)

	pg := &Store{driver: DriverPostgres}
	query, args = pg.selectQuery("expenses", filters[:1])
	assert.Equal(t, "SELECT id, version, data, created_at, updated_at FROM documents WHERE collection = $1"+
		" AND (data::jsonb ->> $2::text) = $3", query)
	assert.Equal(t, []any{"expenses", "groupId", "g1"}, args)
}

func TestStore_SubscribeReceivesCommittedWrites(t *testing.T) {
	s, err := Open(DriverPureSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "notifications", docstore.Where("status", docstore.OpEqual, "UNREAD"))
	require.NoError(t, err)
	defer sub.Close()
	<-sub.C

	require.NoError(t, docstore.CreateDocument(ctx, s, "notifications", "n1", map[string]any{"status": "UNREAD"}))

	select {
	case snap := <-sub.C:
		require.Len(t, snap.Documents, 1)
		assert.Equal(t, "n1", snap.Documents[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestDataSource(t *testing.T) {
	dsn, err := dataSource(DriverSQLite, "ledger.db")
	require.NoError(t, err)
	assert.Contains(t, dsn, "_journal_mode=WAL")

	dsn, err = dataSource(DriverSQLite, ":memory:")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	_, err = dataSource("mysql", "x")
	assert.Error(t, err)
}
