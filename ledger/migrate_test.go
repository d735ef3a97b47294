package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-ledger/docstore"
	"github.com/warp/expense-ledger/docstore/memory"
	"github.com/warp/expense-ledger/ledger"
)

func seedLegacy(t *testing.T, store docstore.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.RunBatch(ctx, []docstore.Write{
		docstore.Create(ledger.CollectionGroups, "g1", map[string]any{
			"id":        "g1",
			"name":      "Old trip",
			"currency":  "EUR",
			"ownerId":   "A",
			"memberIds": []string{"A", "B"},
			"balances":  map[string]any{"A": "10"},
			"isActive":  true,
		}),
		docstore.Create(ledger.CollectionExpenses, "e1", map[string]any{
			"id":           "e1",
			"groupId":      "g1",
			"description":  "Dinner",
			"amount":       20,
			"paidBy":       "A",
			"divisionType": "EQUAL",
			"status":       "APPROVED",
			"createdBy":    "A",
			"divisions": []map[string]any{
				{"userId": "A", "amount": 10, "paid": true},
				{"userId": "B", "amount": 10, "paid": false},
			},
		}),
		docstore.Create(ledger.CollectionLegacyPayments, "p1", map[string]any{
			"despesaId":       "e1",
			"valor":           10,
			"deUsuarioId":     "B",
			"paraUsuarioId":   "A",
			"metodoPagamento": "PIX",
			"comentario":      "valeu",
			"status":          "PENDING_CONFIRMATION",
			"createdBy":       "B",
		}),
		docstore.Create(ledger.CollectionLegacyPayments, "p2", map[string]any{
			"despesaId":   "gone",
			"valor":       5,
			"deUsuarioId": "B",
		}),
	}))
}

func TestMigrator_UpgradesLegacyDocuments(t *testing.T) {
	// GIVEN: a v1 group, a v1 expense and two legacy payments, one orphaned
	// WHEN: the migrator runs
	// THEN: the payment is rewritten as a v2 payment and v1 documents are stamped

	ctx := context.Background()
	store := memory.New()
	seedLegacy(t, store)

	report, err := ledger.NewMigrator(store, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.MigrationReport{
		PaymentsMigrated: 1,
		PaymentsSkipped:  1,
		ExpensesStamped:  1,
		GroupsStamped:    1,
	}, report)

	svc := ledger.NewService(store, nil)

	p, err := svc.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ledger.SchemaVersion, p.SchemaVersion)
	assert.Equal(t, "e1", p.ExpenseID)
	assert.Equal(t, "g1", p.GroupID)
	assert.Equal(t, "B", p.UserID)
	assert.Equal(t, "A", p.ToUserID)
	assert.True(t, p.Amount.Equal(dec("10")))
	assert.Equal(t, "PIX", p.PaymentMethod)
	assert.Equal(t, "valeu", p.Comment)
	assert.Equal(t, ledger.PaymentPending, p.Status)

	_, err = store.Get(ctx, ledger.CollectionLegacyPayments, "p1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = store.Get(ctx, ledger.CollectionLegacyPayments, "p2")
	assert.NoError(t, err, "orphaned payments stay for manual review")

	e, err := svc.GetExpense(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, ledger.SchemaVersion, e.SchemaVersion)
	assert.True(t, e.Divisions[0].PaidAmount.Equal(dec("10")))
	assert.True(t, e.Divisions[1].PaidAmount.IsZero())

	g, err := svc.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, ledger.SchemaVersion, g.SchemaVersion)
	assertKeysMatchMembers(t, g)
	assert.Equal(t, ledger.GroupUnsettled, g.Status)

	// The migrated payment goes through the normal state machine.
	require.NoError(t, svc.ConfirmPayment(ctx, "p1", "A"))
}

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedLegacy(t, store)

	m := ledger.NewMigrator(store, nil)
	_, err := m.Run(ctx)
	require.NoError(t, err)

	report, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.MigrationReport{PaymentsSkipped: 1}, report)
	assert.Equal(t, 1, store.Len(ledger.CollectionPayments))
}
