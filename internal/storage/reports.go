package storage

import (
	"context"
	"fmt"

	"bilancio/internal/core"
)

// MonthTotals returns total active expenses and income for a cycle. Pending,
// void and canceled rows are excluded so reports match the ledgers.
func (r *Repository) MonthTotals(ctx context.Context, cycle core.CycleTag) (expenses, income core.Money, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type IN (?, ?, ?) THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = ? THEN amount_cents ELSE 0 END), 0)
		FROM transactions
		WHERE status = ? AND substr(occurred_on, 1, 7) = ?`,
		string(core.TxExpense), string(core.TxSubscription), string(core.TxImport),
		string(core.TxIncome),
		string(core.TxActive), string(cycle)).
		Scan(&expenses.Cents, &income.Cents)
	if err != nil {
		return core.Money{}, core.Money{}, fmt.Errorf("month totals: %w", err)
	}
	return expenses, income, nil
}

// ExpensesByCategory aggregates active expense-like transactions for a cycle
// by category name, largest first. Uncategorized rows group under "other".
func (r *Repository) ExpensesByCategory(ctx context.Context, cycle core.CycleTag) ([]core.CategoryAmount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(c.name, 'other'), SUM(t.amount_cents)
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.status = ? AND t.type IN (?, ?, ?) AND substr(t.occurred_on, 1, 7) = ?
		GROUP BY COALESCE(c.name, 'other')
		ORDER BY SUM(t.amount_cents) DESC`,
		string(core.TxActive),
		string(core.TxExpense), string(core.TxSubscription), string(core.TxImport),
		string(cycle))
	if err != nil {
		return nil, fmt.Errorf("expenses by category: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryAmount
	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan category amount: %w", err)
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}

// CashbackByAccount joins the cycle's cashback ledgers with account names.
func (r *Repository) CashbackByAccount(ctx context.Context, cycle core.CycleTag) ([]core.AccountCashback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.account_id, a.name, l.total_cashback_cents, l.budget_cap_cents,
			l.remaining_budget_cents, l.eligibility
		FROM cashback_ledger l
		JOIN accounts a ON a.id = l.account_id
		WHERE l.cycle_tag = ?
		ORDER BY a.name`, string(cycle))
	if err != nil {
		return nil, fmt.Errorf("cashback by account: %w", err)
	}
	defer rows.Close()

	var out []core.AccountCashback
	for rows.Next() {
		var ac core.AccountCashback
		var elig string
		if err := rows.Scan(&ac.AccountID, &ac.Name, &ac.TotalCashback.Cents,
			&ac.BudgetCap.Cents, &ac.RemainingBudget.Cents, &elig); err != nil {
			return nil, fmt.Errorf("scan account cashback: %w", err)
		}
		ac.Eligibility = core.Eligibility(elig)
		out = append(out, ac)
	}
	return out, rows.Err()
}

// DebtsByPerson joins the cycle's debt ledgers with person names. An empty
// cycle selects the rolling ledgers.
func (r *Repository) DebtsByPerson(ctx context.Context, cycle core.CycleTag) ([]core.PersonDebt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.person_id, p.name, l.net_debt_cents, l.status
		FROM debt_ledger l
		JOIN people p ON p.id = l.person_id
		WHERE COALESCE(l.cycle_tag, '') = ?
		ORDER BY p.name`, string(cycle))
	if err != nil {
		return nil, fmt.Errorf("debts by person: %w", err)
	}
	defer rows.Close()

	var out []core.PersonDebt
	for rows.Next() {
		var pd core.PersonDebt
		var status string
		if err := rows.Scan(&pd.PersonID, &pd.Name, &pd.NetDebt.Cents, &status); err != nil {
			return nil, fmt.Errorf("scan person debt: %w", err)
		}
		pd.Status = core.DebtLedgerStatus(status)
		out = append(out, pd)
	}
	return out, rows.Err()
}
