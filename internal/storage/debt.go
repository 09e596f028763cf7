package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
)

const debtMovementColumns = `id, transaction_id, person_id, account_id, movement_type,
	amount_cents, cycle_tag, status, notes, created_at, updated_at`

func (r *Repository) InsertDebtMovement(ctx context.Context, q DBTX, m core.DebtMovement) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO debt_movements (`+debtMovementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, nullStr(m.TransactionID), m.PersonID, nullStr(m.AccountID), string(m.Type),
		m.Amount.Cents, nullStr(string(m.Cycle)), string(m.Status), m.Notes,
		fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert debt movement: %w", err)
	}
	return nil
}

func (r *Repository) GetDebtMovement(ctx context.Context, q DBTX, id string) (core.DebtMovement, error) {
	row := q.QueryRowContext(ctx, `SELECT `+debtMovementColumns+` FROM debt_movements WHERE id = ?`, id)
	m, err := scanDebtMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DebtMovement{}, fmt.Errorf("debt movement %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.DebtMovement{}, fmt.Errorf("get debt movement: %w", err)
	}
	return m, nil
}

// ReverseDebtMovement flips active -> reversed. Terminal movements (reversed
// or settled) no longer match, so a second rollback reports core.ErrNotFound.
func (r *Repository) ReverseDebtMovement(ctx context.Context, q DBTX, id string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE debt_movements SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(core.DebtReversed), fmtTime(at), id, string(core.DebtActive),
	)
	if err != nil {
		return fmt.Errorf("reverse debt movement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reverse debt movement rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("debt movement %s not active: %w", id, core.ErrNotFound)
	}
	return nil
}

// ListActiveDebtMovements returns the still-active movements referencing a
// transaction, oldest first.
func (r *Repository) ListActiveDebtMovements(ctx context.Context, q DBTX, transactionID string) ([]core.DebtMovement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+debtMovementColumns+` FROM debt_movements
		WHERE transaction_id = ? AND status = ?
		ORDER BY created_at`, transactionID, string(core.DebtActive))
	if err != nil {
		return nil, fmt.Errorf("list debt movements: %w", err)
	}
	defer rows.Close()

	var out []core.DebtMovement
	for rows.Next() {
		m, err := scanDebtMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debt movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) GetDebtLedger(ctx context.Context, q DBTX, personID string, cycle core.CycleTag) (core.DebtLedger, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, person_id, cycle_tag, initial_debt_cents, new_debt_cents,
			repayments_cents, debt_discount_cents, net_debt_cents, status, last_updated, notes
		FROM debt_ledger WHERE person_id = ? AND COALESCE(cycle_tag, '') = ?`,
		personID, string(cycle))
	l, err := scanDebtLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DebtLedger{}, fmt.Errorf("debt ledger %s/%q: %w", personID, cycle, core.ErrNotFound)
	}
	if err != nil {
		return core.DebtLedger{}, fmt.Errorf("get debt ledger: %w", err)
	}
	return l, nil
}

func (r *Repository) InsertDebtLedger(ctx context.Context, q DBTX, l core.DebtLedger) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO debt_ledger (id, person_id, cycle_tag, initial_debt_cents,
			new_debt_cents, repayments_cents, debt_discount_cents, net_debt_cents,
			status, last_updated, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.PersonID, nullStr(string(l.Cycle)), l.InitialDebt.Cents, l.NewDebt.Cents,
		l.Repayments.Cents, l.DebtDiscount.Cents, l.NetDebt.Cents,
		string(l.Status), fmtTime(l.LastUpdated), l.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert debt ledger: %w", err)
	}
	return nil
}

// debtComponent maps a movement type to the ledger column it feeds and the
// sign with which that column enters the net debt formula.
func debtComponent(t core.DebtMovementType) (column string, netSign int64, err error) {
	switch t {
	case core.DebtBorrow, core.DebtSplit:
		return "new_debt_cents", 1, nil
	case core.DebtRepay:
		return "repayments_cents", -1, nil
	case core.DebtDiscount:
		return "debt_discount_cents", -1, nil
	case core.DebtAdjust:
		return "initial_debt_cents", 1, nil
	default:
		return "", 0, core.ErrInvalidMovementType
	}
}

// ApplyDebtToLedger adds (direction +1) or removes (direction -1) a
// movement's contribution from the matching ledger row. The component
// increment, the net debt recompute and the status derivation happen in one
// UPDATE over the stored component columns, so the formula invariant holds at
// every commit point and concurrent writers cannot interleave a stale total.
// Returns false when no row exists for the key.
func (r *Repository) ApplyDebtToLedger(ctx context.Context, q DBTX, personID string, cycle core.CycleTag, movementType core.DebtMovementType, direction int64, amountCents int64, at time.Time) (bool, error) {
	column, netSign, err := debtComponent(movementType)
	if err != nil {
		return false, err
	}
	delta := direction * amountCents
	netDelta := netSign * delta

	// column is a fixed identifier from debtComponent, never user input.
	query := fmt.Sprintf(`
		UPDATE debt_ledger SET
			%[1]s = %[1]s + ?,
			net_debt_cents = (initial_debt_cents + new_debt_cents - repayments_cents - debt_discount_cents) + ?,
			status = CASE
				WHEN (initial_debt_cents + new_debt_cents - repayments_cents - debt_discount_cents) + ? <= 0 THEN ?
				ELSE ?
			END,
			last_updated = ?
		WHERE person_id = ? AND COALESCE(cycle_tag, '') = ?`, column)

	res, err := q.ExecContext(ctx, query,
		delta, netDelta, netDelta,
		string(core.DebtLedgerRepaid), string(core.DebtLedgerOpen),
		fmtTime(at), personID, string(cycle),
	)
	if err != nil {
		return false, fmt.Errorf("apply debt to ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply debt rows affected: %w", err)
	}
	return n > 0, nil
}

// GetDebtBalance returns the net debt for a (person, cycle) key, 0 when no
// ledger row exists.
func (r *Repository) GetDebtBalance(ctx context.Context, personID string, cycle core.CycleTag) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT net_debt_cents FROM debt_ledger
		WHERE person_id = ? AND COALESCE(cycle_tag, '') = ?`,
		personID, string(cycle)).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, nil
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("get debt balance: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func (r *Repository) ListDebtLedgers(ctx context.Context, cycle core.CycleTag) ([]core.DebtLedger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, person_id, cycle_tag, initial_debt_cents, new_debt_cents,
			repayments_cents, debt_discount_cents, net_debt_cents, status, last_updated, notes
		FROM debt_ledger WHERE COALESCE(cycle_tag, '') = ? ORDER BY person_id`, string(cycle))
	if err != nil {
		return nil, fmt.Errorf("list debt ledgers: %w", err)
	}
	defer rows.Close()

	var out []core.DebtLedger
	for rows.Next() {
		l, err := scanDebtLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debt ledger: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanDebtMovement(row rowScanner) (core.DebtMovement, error) {
	var m core.DebtMovement
	var txID, acctID, cyc sql.NullString
	var typ, status, created, upd string
	err := row.Scan(&m.ID, &txID, &m.PersonID, &acctID, &typ, &m.Amount.Cents,
		&cyc, &status, &m.Notes, &created, &upd)
	if err != nil {
		return core.DebtMovement{}, err
	}
	m.TransactionID = fromNull(txID)
	m.AccountID = fromNull(acctID)
	m.Cycle = core.CycleTag(fromNull(cyc))
	m.Type = core.DebtMovementType(typ)
	m.Status = core.DebtMovementStatus(status)
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(upd)
	return m, nil
}

func scanDebtLedger(row rowScanner) (core.DebtLedger, error) {
	var l core.DebtLedger
	var cyc sql.NullString
	var status, upd string
	err := row.Scan(&l.ID, &l.PersonID, &cyc, &l.InitialDebt.Cents, &l.NewDebt.Cents,
		&l.Repayments.Cents, &l.DebtDiscount.Cents, &l.NetDebt.Cents, &status, &upd, &l.Notes)
	if err != nil {
		return core.DebtLedger{}, err
	}
	l.Cycle = core.CycleTag(fromNull(cyc))
	l.Status = core.DebtLedgerStatus(status)
	l.LastUpdated = parseTime(upd)
	return l, nil
}
