// Package ledger holds the movement engines that keep the summary ledgers
// consistent with the append-only movement tables. Every apply has an exact
// inverse rollback; both run inside the database scope handed in by the
// caller, never in a scope of their own.
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

// CashbackIntent describes the cashback a transaction should earn. For the
// percent type ValueBps is a 4-decimal fixed-point rate applied to the
// transaction amount; for the fixed type FixedAmount is credited as-is.
type CashbackIntent struct {
	Type        core.CashbackType
	ValueBps    int64
	FixedAmount core.Money
	BudgetCap   core.Money
	Note        string
}

// CashbackEngine maintains the per-(account, cycle) cashback ledger.
type CashbackEngine struct {
	repo *storage.Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewCashbackEngine(repo *storage.Repository, log *slog.Logger) *CashbackEngine {
	return &CashbackEngine{repo: repo, log: log, now: time.Now}
}

// Apply records a movement for the transaction and folds its amount into the
// ledger row for (account, cycle), creating the row on first use. Both writes
// happen in the caller's scope.
func (e *CashbackEngine) Apply(ctx context.Context, q storage.DBTX, tx core.Transaction, intent CashbackIntent) (core.CashbackMovement, error) {
	if !intent.Type.Valid() {
		return core.CashbackMovement{}, core.ErrInvalidMovementType
	}
	cycle := core.CycleOf(tx.OccurredOn)

	var amount core.Money
	switch intent.Type {
	case core.CashbackPercent:
		if intent.ValueBps <= 0 {
			return core.CashbackMovement{}, core.ErrInvalidRate
		}
		amount = core.PercentOf(tx.Amount, intent.ValueBps)
	case core.CashbackFixed:
		if err := intent.FixedAmount.Validate(); err != nil {
			return core.CashbackMovement{}, err
		}
		amount = intent.FixedAmount
	}

	now := e.now().UTC()
	m := core.CashbackMovement{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Cycle:         cycle,
		Type:          intent.Type,
		ValueBps:      intent.ValueBps,
		Amount:        amount,
		Status:        core.CashbackApplied,
		BudgetCap:     intent.BudgetCap,
		Note:          intent.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.Validate(); err != nil {
		return core.CashbackMovement{}, err
	}
	if err := e.repo.InsertCashbackMovement(ctx, q, m); err != nil {
		return core.CashbackMovement{}, err
	}

	existed, err := e.repo.AddCashbackToLedger(ctx, q, tx.AccountID, cycle, amount.Cents, tx.Amount.Cents, now)
	if err != nil {
		return core.CashbackMovement{}, err
	}
	if !existed {
		// Remaining budget always satisfies remaining = cap - total, so a
		// later rollback lands the fresh ledger back on cap (zero when no
		// cap was supplied).
		l := core.CashbackLedger{
			ID:              uuid.NewString(),
			AccountID:       tx.AccountID,
			Cycle:           cycle,
			TotalSpend:      tx.Amount,
			TotalCashback:   amount,
			BudgetCap:       intent.BudgetCap,
			Eligibility:     core.PendingCap,
			RemainingBudget: core.Money{Cents: intent.BudgetCap.Cents - amount.Cents},
			Status:          core.LedgerOpen,
			LastUpdated:     now,
		}
		if err := e.repo.InsertCashbackLedger(ctx, q, l); err != nil {
			return core.CashbackMovement{}, fmt.Errorf("create cashback ledger: %w", err)
		}
		e.log.InfoContext(ctx, "cashback ledger created",
			"account_id", tx.AccountID, "cycle", string(cycle))
	}
	return m, nil
}

// Rollback invalidates a movement and subtracts its contribution from the
// ledger. A movement that is already invalidated reports core.ErrNotFound so
// callers can treat a repeated rollback as a no-op. A missing ledger row is
// logged and skipped: the movement still ends terminal and history survives.
func (e *CashbackEngine) Rollback(ctx context.Context, q storage.DBTX, movementID string) error {
	m, err := e.repo.GetCashbackMovement(ctx, q, movementID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	if err := e.repo.InvalidateCashbackMovement(ctx, q, movementID, now); err != nil {
		return err
	}
	existed, err := e.repo.SubtractCashbackFromLedger(ctx, q, m.AccountID, m.Cycle, m.Amount.Cents, now)
	if err != nil {
		return err
	}
	if !existed {
		e.log.WarnContext(ctx, "cashback ledger missing on rollback",
			"movement_id", movementID, "account_id", m.AccountID, "cycle", string(m.Cycle))
	}
	return nil
}

// RollbackAll reverses every still-applied movement of a transaction.
func (e *CashbackEngine) RollbackAll(ctx context.Context, q storage.DBTX, transactionID string) error {
	movements, err := e.repo.ListAppliedCashbackMovements(ctx, q, transactionID)
	if err != nil {
		return err
	}
	for _, m := range movements {
		if err := e.Rollback(ctx, q, m.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("rollback cashback movement %s: %w", m.ID, err)
		}
	}
	return nil
}

// Balance returns the accumulated cashback for a key, zero when no ledger row
// exists yet.
func (e *CashbackEngine) Balance(ctx context.Context, accountID string, cycle core.CycleTag) (core.Money, error) {
	return e.repo.GetCashbackBalance(ctx, accountID, cycle)
}

// SetBudgetCap updates the cap on an existing ledger row and recomputes its
// remaining budget and eligibility.
func (e *CashbackEngine) SetBudgetCap(ctx context.Context, accountID string, cycle core.CycleTag, cap core.Money) error {
	if cap.IsNegative() {
		return core.ErrInvalidAmount
	}
	return e.repo.SetCashbackBudgetCap(ctx, e.repo.DB(), accountID, cycle, cap.Cents, e.now().UTC())
}
