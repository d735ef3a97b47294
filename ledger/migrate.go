/*
migrate.go - One-shot upgrade of schema v1 documents

PURPOSE:
  Version 1 of the application stored payments in "pagamentos" with
  Portuguese field names and left schemaVersion unset everywhere. The ledger
  reads only SchemaVersion documents, so old data is converted once, here,
  instead of through field-name fallbacks at read time.

STEPS:
  1. pagamentos/<id>  ->  payments/<id> (v2), legacy document deleted in the
     same batch. groupId and toUserId come from the referenced expense.
  2. expenses without schemaVersion: divisions get paidAmount (the full
     share when paid, else zero), then schemaVersion = 2.
  3. groups without schemaVersion: every member gets a balances entry and
     status is recomputed, then schemaVersion = 2.

IDEMPOTENCE:
  Every step skips documents already at SchemaVersion, and a legacy payment
  whose id already exists in payments is only deleted. Running the migrator
  twice is a no-op the second time.

SEE ALSO:
  - cmd/server/main.go: -migrate flag
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/expense-ledger/docstore"
)

// legacyPayment is the v1 layout of a payment.
type legacyPayment struct {
	DespesaID       string          `json:"despesaId"`
	Valor           decimal.Decimal `json:"valor"`
	DeUsuarioID     string          `json:"deUsuarioId"`
	ParaUsuarioID   string          `json:"paraUsuarioId"`
	MetodoPagamento string          `json:"metodoPagamento"`
	Comentario      string          `json:"comentario"`
	Status          PaymentStatus   `json:"status"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       *time.Time      `json:"createdAt"`
	UpdatedAt       *time.Time      `json:"updatedAt"`
}

// MigrationReport counts what a migration run changed.
type MigrationReport struct {
	PaymentsMigrated int `json:"paymentsMigrated"`
	PaymentsSkipped  int `json:"paymentsSkipped"`
	ExpensesStamped  int `json:"expensesStamped"`
	GroupsStamped    int `json:"groupsStamped"`
}

// Migrator upgrades documents written by schema v1.
type Migrator struct {
	store  docstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewMigrator creates a Migrator. A nil logger uses slog.Default().
func NewMigrator(store docstore.Store, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run performs every migration step in order.
func (m *Migrator) Run(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport
	var err error

	if report.PaymentsMigrated, report.PaymentsSkipped, err = m.migrateLegacyPayments(ctx); err != nil {
		return report, fmt.Errorf("migrate payments: %w", err)
	}
	if report.ExpensesStamped, err = m.stampExpenses(ctx); err != nil {
		return report, fmt.Errorf("migrate expenses: %w", err)
	}
	if report.GroupsStamped, err = m.stampGroups(ctx); err != nil {
		return report, fmt.Errorf("migrate groups: %w", err)
	}

	m.logger.Info("migration finished",
		"payments_migrated", report.PaymentsMigrated,
		"payments_skipped", report.PaymentsSkipped,
		"expenses_stamped", report.ExpensesStamped,
		"groups_stamped", report.GroupsStamped)
	return report, nil
}

func (m *Migrator) migrateLegacyPayments(ctx context.Context) (migrated, skipped int, err error) {
	docs, err := m.store.Query(ctx, CollectionLegacyPayments, docstore.Query{})
	if err != nil {
		return 0, 0, err
	}

	var writes []docstore.Write
	for _, d := range docs {
		var old legacyPayment
		if err := d.DataTo(&old); err != nil {
			return migrated, skipped, err
		}

		if _, err := m.store.Get(ctx, CollectionPayments, d.ID); err == nil {
			writes = append(writes, docstore.Delete(CollectionLegacyPayments, d.ID))
			continue
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return migrated, skipped, err
		}

		expenseDoc, err := m.store.Get(ctx, CollectionExpenses, old.DespesaID)
		if errors.Is(err, docstore.ErrNotFound) || old.DespesaID == "" {
			m.logger.Warn("legacy payment references a missing expense, left in place",
				"payment_id", d.ID, "expense_id", old.DespesaID)
			skipped++
			continue
		}
		if err != nil {
			return migrated, skipped, err
		}
		var e Expense
		if err := expenseDoc.DataTo(&e); err != nil {
			return migrated, skipped, err
		}

		writes = append(writes,
			docstore.Create(CollectionPayments, d.ID, upgradePayment(d, old, &e)),
			docstore.Delete(CollectionLegacyPayments, d.ID).IfVersionIs(d.Version),
		)
		migrated++
	}
	return migrated, skipped, m.flush(ctx, writes)
}

func upgradePayment(d *docstore.Document, old legacyPayment, e *Expense) Payment {
	createdAt := d.CreateTime
	if old.CreatedAt != nil {
		createdAt = *old.CreatedAt
	}
	updatedAt := createdAt
	if old.UpdatedAt != nil {
		updatedAt = *old.UpdatedAt
	}
	status := old.Status
	if status == "" {
		status = PaymentPending
	}
	createdBy := old.CreatedBy
	if createdBy == "" {
		createdBy = old.DeUsuarioID
	}
	toUserID := old.ParaUsuarioID
	if toUserID == "" {
		toUserID = e.CreatedBy
	}
	return Payment{
		ID:            d.ID,
		SchemaVersion: SchemaVersion,
		ExpenseID:     old.DespesaID,
		GroupID:       e.GroupID,
		UserID:        old.DeUsuarioID,
		ToUserID:      toUserID,
		Amount:        old.Valor.Round(2),
		PaymentMethod: old.MetodoPagamento,
		Comment:       old.Comentario,
		Status:        status,
		CreatedBy:     createdBy,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

func (m *Migrator) stampExpenses(ctx context.Context) (int, error) {
	docs, err := m.store.Query(ctx, CollectionExpenses, docstore.Query{})
	if err != nil {
		return 0, err
	}
	var writes []docstore.Write
	for _, d := range docs {
		var e Expense
		if err := d.DataTo(&e); err != nil {
			return 0, err
		}
		if e.SchemaVersion >= SchemaVersion {
			continue
		}
		for i := range e.Divisions {
			div := &e.Divisions[i]
			if div.Paid && div.PaidAmount.IsZero() {
				div.PaidAmount = div.Amount
			}
		}
		writes = append(writes, docstore.Update(CollectionExpenses, d.ID, map[string]any{
			"divisions":     e.Divisions,
			"schemaVersion": SchemaVersion,
			"updatedAt":     m.now(),
		}).IfVersionIs(d.Version))
	}
	return len(writes), m.flush(ctx, writes)
}

func (m *Migrator) stampGroups(ctx context.Context) (int, error) {
	docs, err := m.store.Query(ctx, CollectionGroups, docstore.Query{})
	if err != nil {
		return 0, err
	}
	var writes []docstore.Write
	for _, d := range docs {
		var g Group
		if err := d.DataTo(&g); err != nil {
			return 0, err
		}
		if g.SchemaVersion >= SchemaVersion {
			continue
		}
		if g.Balances == nil {
			g.Balances = make(map[string]decimal.Decimal)
		}
		for _, id := range g.MemberIDs {
			if _, ok := g.Balances[id]; !ok {
				g.Balances[id] = decimal.Zero
			}
		}
		refreshStatus(&g)
		writes = append(writes, docstore.Update(CollectionGroups, d.ID, map[string]any{
			"balances":      g.Balances,
			"status":        g.Status,
			"schemaVersion": SchemaVersion,
			"updatedAt":     m.now(),
		}).IfVersionIs(d.Version))
	}
	return len(writes), m.flush(ctx, writes)
}

func (m *Migrator) flush(ctx context.Context, writes []docstore.Write) error {
	for start := 0; start < len(writes); start += docstore.MaxBatchSize {
		end := min(start+docstore.MaxBatchSize, len(writes))
		if err := m.store.RunBatch(ctx, writes[start:end]); err != nil {
			return err
		}
	}
	return nil
}
