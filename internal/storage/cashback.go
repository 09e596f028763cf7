package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
)

const cashbackMovementColumns = `id, transaction_id, account_id, cycle_tag, cashback_type,
	cashback_value_bps, cashback_amount_cents, status, budget_cap_cents, note, created_at, updated_at`

func (r *Repository) InsertCashbackMovement(ctx context.Context, q DBTX, m core.CashbackMovement) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cashback_movements (`+cashbackMovementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TransactionID, m.AccountID, string(m.Cycle), string(m.Type),
		m.ValueBps, m.Amount.Cents, string(m.Status), m.BudgetCap.Cents, m.Note,
		fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert cashback movement: %w", err)
	}
	return nil
}

func (r *Repository) GetCashbackMovement(ctx context.Context, q DBTX, id string) (core.CashbackMovement, error) {
	row := q.QueryRowContext(ctx, `SELECT `+cashbackMovementColumns+` FROM cashback_movements WHERE id = ?`, id)
	m, err := scanCashbackMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CashbackMovement{}, fmt.Errorf("cashback movement %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.CashbackMovement{}, fmt.Errorf("get cashback movement: %w", err)
	}
	return m, nil
}

// InvalidateCashbackMovement flips applied -> invalidated. Returns
// core.ErrNotFound when the movement is missing or already invalidated, which
// doubles as the idempotent double-rollback guard.
func (r *Repository) InvalidateCashbackMovement(ctx context.Context, q DBTX, id string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE cashback_movements SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(core.CashbackInvalidated), fmtTime(at), id, string(core.CashbackApplied),
	)
	if err != nil {
		return fmt.Errorf("invalidate cashback movement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("invalidate cashback movement rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cashback movement %s not applied: %w", id, core.ErrNotFound)
	}
	return nil
}

// ListAppliedCashbackMovements returns the still-applied movements that
// reference a transaction, oldest first. Used by the delete rollback path.
func (r *Repository) ListAppliedCashbackMovements(ctx context.Context, q DBTX, transactionID string) ([]core.CashbackMovement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+cashbackMovementColumns+` FROM cashback_movements
		WHERE transaction_id = ? AND status = ?
		ORDER BY created_at`, transactionID, string(core.CashbackApplied))
	if err != nil {
		return nil, fmt.Errorf("list cashback movements: %w", err)
	}
	defer rows.Close()

	var out []core.CashbackMovement
	for rows.Next() {
		m, err := scanCashbackMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cashback movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) GetCashbackLedger(ctx context.Context, q DBTX, accountID string, cycle core.CycleTag) (core.CashbackLedger, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, account_id, cycle_tag, total_spend_cents, total_cashback_cents,
			budget_cap_cents, eligibility, remaining_budget_cents, status, last_updated
		FROM cashback_ledger WHERE account_id = ? AND cycle_tag = ?`, accountID, string(cycle))

	var l core.CashbackLedger
	var cyc, elig, status, upd string
	err := row.Scan(&l.ID, &l.AccountID, &cyc, &l.TotalSpend.Cents, &l.TotalCashback.Cents,
		&l.BudgetCap.Cents, &elig, &l.RemainingBudget.Cents, &status, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CashbackLedger{}, fmt.Errorf("cashback ledger %s/%s: %w", accountID, cycle, core.ErrNotFound)
	}
	if err != nil {
		return core.CashbackLedger{}, fmt.Errorf("get cashback ledger: %w", err)
	}
	l.Cycle = core.CycleTag(cyc)
	l.Eligibility = core.Eligibility(elig)
	l.Status = core.LedgerStatus(status)
	l.LastUpdated = parseTime(upd)
	return l, nil
}

func (r *Repository) InsertCashbackLedger(ctx context.Context, q DBTX, l core.CashbackLedger) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cashback_ledger (id, account_id, cycle_tag, total_spend_cents,
			total_cashback_cents, budget_cap_cents, eligibility, remaining_budget_cents,
			status, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.AccountID, string(l.Cycle), l.TotalSpend.Cents, l.TotalCashback.Cents,
		l.BudgetCap.Cents, string(l.Eligibility), l.RemainingBudget.Cents,
		string(l.Status), fmtTime(l.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("insert cashback ledger: %w", err)
	}
	return nil
}

// AddCashbackToLedger applies a movement's amount to the existing ledger row
// with a single computed UPDATE, so concurrent appliers cannot lose each
// other's increment. Remaining budget is recomputed from the stored cap and
// the new total so remaining = cap - total holds at every commit point.
// Returns false when no row exists for the key.
func (r *Repository) AddCashbackToLedger(ctx context.Context, q DBTX, accountID string, cycle core.CycleTag, amountCents, spendCents int64, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE cashback_ledger SET
			total_cashback_cents = total_cashback_cents + ?,
			remaining_budget_cents = budget_cap_cents - (total_cashback_cents + ?),
			total_spend_cents = total_spend_cents + ?,
			last_updated = ?
		WHERE account_id = ? AND cycle_tag = ?`,
		amountCents, amountCents, spendCents, fmtTime(at), accountID, string(cycle),
	)
	if err != nil {
		return false, fmt.Errorf("add cashback to ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add cashback rows affected: %w", err)
	}
	return n > 0, nil
}

// SubtractCashbackFromLedger is the exact inverse of AddCashbackToLedger,
// used by rollback. Remaining budget follows the same remaining = cap - total
// rule, so rolling back the only movement of a fresh ledger lands on
// total = 0 and remaining = cap.
func (r *Repository) SubtractCashbackFromLedger(ctx context.Context, q DBTX, accountID string, cycle core.CycleTag, amountCents int64, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE cashback_ledger SET
			total_cashback_cents = total_cashback_cents - ?,
			remaining_budget_cents = budget_cap_cents - (total_cashback_cents - ?),
			last_updated = ?
		WHERE account_id = ? AND cycle_tag = ?`,
		amountCents, amountCents, fmtTime(at), accountID, string(cycle),
	)
	if err != nil {
		return false, fmt.Errorf("subtract cashback from ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("subtract cashback rows affected: %w", err)
	}
	return n > 0, nil
}

// SetCashbackBudgetCap updates the cap and recomputes remaining budget and
// eligibility from the stored totals in one statement.
func (r *Repository) SetCashbackBudgetCap(ctx context.Context, q DBTX, accountID string, cycle core.CycleTag, capCents int64, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE cashback_ledger SET
			budget_cap_cents = ?,
			remaining_budget_cents = ? - total_cashback_cents,
			eligibility = CASE WHEN total_cashback_cents >= ? THEN ? ELSE ? END,
			last_updated = ?
		WHERE account_id = ? AND cycle_tag = ?`,
		capCents, capCents, capCents,
		string(core.ReachedCap), string(core.Eligible),
		fmtTime(at), accountID, string(cycle),
	)
	if err != nil {
		return fmt.Errorf("set cashback budget cap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set budget cap rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cashback ledger %s/%s: %w", accountID, cycle, core.ErrNotFound)
	}
	return nil
}

// GetCashbackBalance returns the total cashback for a key, 0 when the ledger
// row does not exist: absence is a zero balance, not an error.
func (r *Repository) GetCashbackBalance(ctx context.Context, accountID string, cycle core.CycleTag) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT total_cashback_cents FROM cashback_ledger
		WHERE account_id = ? AND cycle_tag = ?`, accountID, string(cycle)).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, nil
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("get cashback balance: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func (r *Repository) ListCashbackLedgers(ctx context.Context, cycle core.CycleTag) ([]core.CashbackLedger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, cycle_tag, total_spend_cents, total_cashback_cents,
			budget_cap_cents, eligibility, remaining_budget_cents, status, last_updated
		FROM cashback_ledger WHERE cycle_tag = ? ORDER BY account_id`, string(cycle))
	if err != nil {
		return nil, fmt.Errorf("list cashback ledgers: %w", err)
	}
	defer rows.Close()

	var out []core.CashbackLedger
	for rows.Next() {
		var (
			l                      core.CashbackLedger
			cyc, elig, status, upd string
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &cyc, &l.TotalSpend.Cents, &l.TotalCashback.Cents,
			&l.BudgetCap.Cents, &elig, &l.RemainingBudget.Cents, &status, &upd); err != nil {
			return nil, fmt.Errorf("scan cashback ledger: %w", err)
		}
		l.Cycle = core.CycleTag(cyc)
		l.Eligibility = core.Eligibility(elig)
		l.Status = core.LedgerStatus(status)
		l.LastUpdated = parseTime(upd)
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanCashbackMovement(row rowScanner) (core.CashbackMovement, error) {
	var (
		m                              core.CashbackMovement
		cyc, typ, status, created, upd string
	)
	err := row.Scan(&m.ID, &m.TransactionID, &m.AccountID, &cyc, &typ, &m.ValueBps,
		&m.Amount.Cents, &status, &m.BudgetCap.Cents, &m.Note, &created, &upd)
	if err != nil {
		return core.CashbackMovement{}, err
	}
	m.Cycle = core.CycleTag(cyc)
	m.Type = core.CashbackType(typ)
	m.Status = core.CashbackMovementStatus(status)
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(upd)
	return m, nil
}
