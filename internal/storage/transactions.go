package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
)

const transactionColumns = `id, account_id, person_id, category_id, shop_id, subscription_id,
	linked_group_id, type, status, amount_cents, fee_cents, occurred_on, notes, created_at, updated_at`

// InsertTransaction writes a new transaction row in the supplied scope.
func (r *Repository) InsertTransaction(ctx context.Context, q DBTX, t core.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, nullStr(t.PersonID), nullStr(t.CategoryID), nullStr(t.ShopID),
		nullStr(t.SubscriptionID), nullStr(t.LinkedGroupID), string(t.Type), string(t.Status),
		t.Amount.Cents, t.Fee.Cents, fmtDate(t.OccurredOn), t.Notes,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateTransaction rewrites every mutable column of an existing row.
func (r *Repository) UpdateTransaction(ctx context.Context, q DBTX, t core.Transaction) error {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions SET
			account_id = ?, person_id = ?, category_id = ?, shop_id = ?,
			subscription_id = ?, linked_group_id = ?, type = ?, status = ?,
			amount_cents = ?, fee_cents = ?, occurred_on = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		t.AccountID, nullStr(t.PersonID), nullStr(t.CategoryID), nullStr(t.ShopID),
		nullStr(t.SubscriptionID), nullStr(t.LinkedGroupID), string(t.Type), string(t.Status),
		t.Amount.Cents, t.Fee.Cents, fmtDate(t.OccurredOn), t.Notes, fmtTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

// DeleteTransaction removes the row. The caller is responsible for rolling
// back ledger movements in the same scope before this commits.
func (r *Repository) DeleteTransaction(ctx context.Context, q DBTX, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, q DBTX, id string) (core.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	AccountID string
	PersonID  string
	Type      core.TransactionType
	Status    core.TransactionStatus
	From      string // inclusive occurred_on lower bound, YYYY-MM-DD
	To        string // inclusive upper bound
	Limit     int
	Offset    int
}

func (r *Repository) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	var args []any
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.PersonID != "" {
		query += ` AND person_id = ?`
		args = append(args, f.PersonID)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.From != "" {
		query += ` AND occurred_on >= ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		query += ` AND occurred_on <= ?`
		args = append(args, f.To)
	}
	query += ` ORDER BY occurred_on DESC, created_at DESC`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListUnmirroredTransactions returns active rows the mirror worker has not
// written to the sheet yet, oldest first. Used by the catch-up sweep when
// events were lost.
func (r *Repository) ListUnmirroredTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE mirrored_at IS NULL AND status = ?
		ORDER BY created_at LIMIT ?`, string(core.TxActive), limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkTransactionMirrored stamps a successful sheet append.
func (r *Repository) MarkTransactionMirrored(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET mirrored_at = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("mark transaction mirrored: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var t core.Transaction
	var person, category, shop, sub, grp sql.NullString
	var typ, status, occurred, created, updated string
	err := row.Scan(&t.ID, &t.AccountID, &person, &category, &shop, &sub, &grp,
		&typ, &status, &t.Amount.Cents, &t.Fee.Cents, &occurred, &t.Notes, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}
	t.PersonID = fromNull(person)
	t.CategoryID = fromNull(category)
	t.ShopID = fromNull(shop)
	t.SubscriptionID = fromNull(sub)
	t.LinkedGroupID = fromNull(grp)
	t.Type = core.TransactionType(typ)
	t.Status = core.TransactionStatus(status)
	t.OccurredOn = parseDate(occurred)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}
