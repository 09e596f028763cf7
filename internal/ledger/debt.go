package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// DebtIntent describes the debt movement a transaction should produce. An
// empty Cycle targets the person's rolling ledger; Amount defaults to the
// transaction amount when zero.
type DebtIntent struct {
	PersonID string
	Type     core.DebtMovementType
	Amount   core.Money
	Cycle    core.CycleTag
	Notes    string
}

// DebtEngine maintains the per-(person, cycle) debt ledger.
type DebtEngine struct {
	repo *storage.Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewDebtEngine(repo *storage.Repository, log *slog.Logger) *DebtEngine {
	return &DebtEngine{repo: repo, log: log, now: time.Now}
}

// Apply records a movement and folds it into the matching ledger row,
// creating the row on first use. Borrow and split feed new debt, repay feeds
// repayments, discount feeds the discount total and adjust feeds the opening
// balance. Net and status are rederived from the components on every write.
func (e *DebtEngine) Apply(ctx context.Context, q storage.DBTX, tx core.Transaction, intent DebtIntent) (core.DebtMovement, error) {
	amount := intent.Amount
	if amount.IsZero() {
		amount = tx.Amount
	}
	now := e.now().UTC()
	m := core.DebtMovement{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		PersonID:      intent.PersonID,
		AccountID:     tx.AccountID,
		Type:          intent.Type,
		Amount:        amount,
		Cycle:         intent.Cycle,
		Status:        core.DebtActive,
		Notes:         intent.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.Validate(); err != nil {
		return core.DebtMovement{}, err
	}
	if err := e.repo.InsertDebtMovement(ctx, q, m); err != nil {
		return core.DebtMovement{}, err
	}

	existed, err := e.repo.ApplyDebtToLedger(ctx, q, m.PersonID, m.Cycle, m.Type, +1, amount.Cents, now)
	if err != nil {
		return core.DebtMovement{}, err
	}
	if !existed {
		l, err := seedDebtLedger(m, now)
		if err != nil {
			return core.DebtMovement{}, err
		}
		if err := e.repo.InsertDebtLedger(ctx, q, l); err != nil {
			return core.DebtMovement{}, fmt.Errorf("create debt ledger: %w", err)
		}
		e.log.InfoContext(ctx, "debt ledger created",
			"person_id", m.PersonID, "cycle", string(m.Cycle))
	}
	return m, nil
}

// seedDebtLedger builds the first ledger row for a key from a single
// movement, with net and status derived the same way the incremental path
// derives them.
func seedDebtLedger(m core.DebtMovement, now time.Time) (core.DebtLedger, error) {
	l := core.DebtLedger{
		ID:          uuid.NewString(),
		PersonID:    m.PersonID,
		Cycle:       m.Cycle,
		LastUpdated: now,
	}
	switch m.Type {
	case core.DebtBorrow, core.DebtSplit:
		l.NewDebt = m.Amount
	case core.DebtRepay:
		l.Repayments = m.Amount
	case core.DebtDiscount:
		l.DebtDiscount = m.Amount
	case core.DebtAdjust:
		l.InitialDebt = m.Amount
	default:
		return core.DebtLedger{}, core.ErrInvalidMovementType
	}
	net := core.NetOf(l.InitialDebt.Cents, l.NewDebt.Cents, l.Repayments.Cents, l.DebtDiscount.Cents)
	l.NetDebt = core.Money{Cents: net}
	l.Status = core.DebtStatusOf(net)
	return l, nil
}

// Rollback reverses a movement and subtracts its contribution from the
// ledger. Terminal movements report core.ErrNotFound, which makes a repeated
// rollback safe. A missing ledger row is logged and skipped.
func (e *DebtEngine) Rollback(ctx context.Context, q storage.DBTX, movementID string) error {
	m, err := e.repo.GetDebtMovement(ctx, q, movementID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	if err := e.repo.ReverseDebtMovement(ctx, q, movementID, now); err != nil {
		return err
	}
	existed, err := e.repo.ApplyDebtToLedger(ctx, q, m.PersonID, m.Cycle, m.Type, -1, m.Amount.Cents, now)
	if err != nil {
		return err
	}
	if !existed {
		e.log.WarnContext(ctx, "debt ledger missing on rollback",
			"movement_id", movementID, "person_id", m.PersonID, "cycle", string(m.Cycle))
	}
	return nil
}

// RollbackAll reverses every still-active movement of a transaction.
func (e *DebtEngine) RollbackAll(ctx context.Context, q storage.DBTX, transactionID string) error {
	movements, err := e.repo.ListActiveDebtMovements(ctx, q, transactionID)
	if err != nil {
		return err
	}
	for _, m := range movements {
		if err := e.Rollback(ctx, q, m.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("rollback debt movement %s: %w", m.ID, err)
		}
	}
	return nil
}

// Balance returns the net debt for a key, zero when no ledger row exists.
func (e *DebtEngine) Balance(ctx context.Context, personID string, cycle core.CycleTag) (core.Money, error) {
	return e.repo.GetDebtBalance(ctx, personID, cycle)
}
