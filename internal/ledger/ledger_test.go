package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedAccount(t *testing.T, repo *storage.Repository, name string) string {
	t.Helper()
	now := time.Now().UTC()
	a := core.Account{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := repo.InsertAccount(context.Background(), a); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	return a.ID
}

func seedPerson(t *testing.T, repo *storage.Repository, name string) string {
	t.Helper()
	now := time.Now().UTC()
	p := core.Person{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := repo.InsertPerson(context.Background(), p); err != nil {
		t.Fatalf("InsertPerson: %v", err)
	}
	return p.ID
}

func seedTransaction(t *testing.T, repo *storage.Repository, accountID string, typ core.TransactionType, cents int64, occurred time.Time) core.Transaction {
	t.Helper()
	now := time.Now().UTC()
	tx := core.Transaction{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Type:       typ,
		Status:     core.TxActive,
		Amount:     core.Money{Cents: cents},
		OccurredOn: occurred,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.InsertTransaction(context.Background(), repo.DB(), tx); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	return tx
}

var march = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func TestCashbackApplyCreatesLedger(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewCashbackEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	tx := seedTransaction(t, repo, account, core.TxCashback, 10000, march)

	m, err := engine.Apply(ctx, repo.DB(), tx, CashbackIntent{Type: core.CashbackPercent, ValueBps: 50000})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if m.Amount.Cents != 500 {
		t.Fatalf("movement amount = %d, want 500", m.Amount.Cents)
	}
	if m.Cycle != "2025-03" {
		t.Fatalf("movement cycle = %s, want 2025-03", m.Cycle)
	}

	l, err := repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
	if err != nil {
		t.Fatalf("GetCashbackLedger: %v", err)
	}
	if l.TotalCashback.Cents != 500 {
		t.Errorf("total cashback = %d, want 500", l.TotalCashback.Cents)
	}
	if l.RemainingBudget.Cents != -500 {
		t.Errorf("remaining budget = %d, want cap - total = -500 while no cap is set", l.RemainingBudget.Cents)
	}
	if l.TotalSpend.Cents != 10000 {
		t.Errorf("total spend = %d, want 10000", l.TotalSpend.Cents)
	}
	if l.Eligibility != core.PendingCap {
		t.Errorf("eligibility = %s, want pending", l.Eligibility)
	}
	if l.Status != core.LedgerOpen {
		t.Errorf("status = %s, want open", l.Status)
	}
}

func TestCashbackApplyExistingLedgerIncrements(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewCashbackEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	tx1 := seedTransaction(t, repo, account, core.TxCashback, 10000, march)
	tx2 := seedTransaction(t, repo, account, core.TxCashback, 4000, march)

	if _, err := engine.Apply(ctx, repo.DB(), tx1, CashbackIntent{Type: core.CashbackPercent, ValueBps: 50000}); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if _, err := engine.Apply(ctx, repo.DB(), tx2, CashbackIntent{Type: core.CashbackFixed, FixedAmount: core.Money{Cents: 200}}); err != nil {
		t.Fatalf("second Apply: %v", err)
	}

	l, err := repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
	if err != nil {
		t.Fatalf("GetCashbackLedger: %v", err)
	}
	if l.TotalCashback.Cents != 700 {
		t.Errorf("total cashback = %d, want 700", l.TotalCashback.Cents)
	}
	if l.RemainingBudget.Cents != -700 {
		t.Errorf("remaining budget = %d, want cap - total = -700 while no cap is set", l.RemainingBudget.Cents)
	}

	ledgers, err := repo.ListCashbackLedgers(ctx, "2025-03")
	if err != nil {
		t.Fatalf("ListCashbackLedgers: %v", err)
	}
	if len(ledgers) != 1 {
		t.Fatalf("ledger rows = %d, want exactly 1 per key", len(ledgers))
	}
}

func TestCashbackRollbackIsExactInverse(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewCashbackEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	tx1 := seedTransaction(t, repo, account, core.TxCashback, 10000, march)
	tx2 := seedTransaction(t, repo, account, core.TxCashback, 6000, march)

	if _, err := engine.Apply(ctx, repo.DB(), tx1, CashbackIntent{Type: core.CashbackPercent, ValueBps: 50000}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	m, err := engine.Apply(ctx, repo.DB(), tx2, CashbackIntent{Type: core.CashbackPercent, ValueBps: 50000})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := engine.Rollback(ctx, repo.DB(), m.ID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	l, err := repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
	if err != nil {
		t.Fatalf("GetCashbackLedger: %v", err)
	}
	if l.TotalCashback.Cents != 500 {
		t.Errorf("total cashback = %d, want 500 after rollback", l.TotalCashback.Cents)
	}
	if l.RemainingBudget.Cents != -500 {
		t.Errorf("remaining budget = %d, want cap - total = -500 after rollback", l.RemainingBudget.Cents)
	}

	got, err := repo.GetCashbackMovement(ctx, repo.DB(), m.ID)
	if err != nil {
		t.Fatalf("GetCashbackMovement: %v", err)
	}
	if got.Status != core.CashbackInvalidated {
		t.Errorf("movement status = %s, want invalidated", got.Status)
	}
}

func TestCashbackRollbackOnFreshLedger(t *testing.T) {
	tests := []struct {
		name          string
		cap           int64
		wantRemaining int64
	}{
		{name: "no cap", cap: 0, wantRemaining: 0},
		{name: "with cap", cap: 1000, wantRemaining: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepo(t)
			engine := NewCashbackEngine(repo, discardLogger())
			ctx := context.Background()

			account := seedAccount(t, repo, "main card")
			tx := seedTransaction(t, repo, account, core.TxCashback, 10000, march)

			m, err := engine.Apply(ctx, repo.DB(), tx, CashbackIntent{
				Type:        core.CashbackFixed,
				FixedAmount: core.Money{Cents: 412},
				BudgetCap:   core.Money{Cents: tt.cap},
			})
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}

			l, err := repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
			if err != nil {
				t.Fatalf("GetCashbackLedger: %v", err)
			}
			if l.RemainingBudget.Cents != tt.cap-412 {
				t.Errorf("remaining after apply = %d, want %d", l.RemainingBudget.Cents, tt.cap-412)
			}

			// Rolling back the only movement must restore the fresh
			// ledger to zero totals and a full remaining budget.
			if err := engine.Rollback(ctx, repo.DB(), m.ID); err != nil {
				t.Fatalf("Rollback: %v", err)
			}
			l, err = repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
			if err != nil {
				t.Fatalf("GetCashbackLedger: %v", err)
			}
			if l.TotalCashback.Cents != 0 {
				t.Errorf("total cashback = %d, want 0 after rollback", l.TotalCashback.Cents)
			}
			if l.RemainingBudget.Cents != tt.wantRemaining {
				t.Errorf("remaining budget = %d, want %d after rollback", l.RemainingBudget.Cents, tt.wantRemaining)
			}
		})
	}
}

func TestCashbackDoubleRollback(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewCashbackEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	tx := seedTransaction(t, repo, account, core.TxCashback, 10000, march)

	m, err := engine.Apply(ctx, repo.DB(), tx, CashbackIntent{Type: core.CashbackFixed, FixedAmount: core.Money{Cents: 300}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := engine.Rollback(ctx, repo.DB(), m.ID); err != nil {
		t.Fatalf("first Rollback: %v", err)
	}
	err = engine.Rollback(ctx, repo.DB(), m.ID)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second Rollback err = %v, want ErrNotFound", err)
	}

	l, err := repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
	if err != nil {
		t.Fatalf("GetCashbackLedger: %v", err)
	}
	if l.TotalCashback.Cents != 0 {
		t.Errorf("total cashback = %d, want 0 after single effective rollback", l.TotalCashback.Cents)
	}
}

func TestCashbackRollbackMissingLedger(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewCashbackEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	tx := seedTransaction(t, repo, account, core.TxCashback, 10000, march)

	m, err := engine.Apply(ctx, repo.DB(), tx, CashbackIntent{Type: core.CashbackFixed, FixedAmount: core.Money{Cents: 300}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := repo.DB().ExecContext(ctx, `DELETE FROM cashback_ledger`); err != nil {
		t.Fatalf("delete ledger rows: %v", err)
	}

	if err := engine.Rollback(ctx, repo.DB(), m.ID); err != nil {
		t.Fatalf("Rollback with missing ledger: %v", err)
	}
	got, err := repo.GetCashbackMovement(ctx, repo.DB(), m.ID)
	if err != nil {
		t.Fatalf("GetCashbackMovement: %v", err)
	}
	if got.Status != core.CashbackInvalidated {
		t.Errorf("movement status = %s, want invalidated even without a ledger row", got.Status)
	}
}

func TestDebtBorrowRepayLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewDebtEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	person := seedPerson(t, repo, "alice")

	borrowTx := seedTransaction(t, repo, account, core.TxDebt, 10000, march)
	if _, err := engine.Apply(ctx, repo.DB(), borrowTx, DebtIntent{PersonID: person, Type: core.DebtBorrow, Cycle: "2025-03"}); err != nil {
		t.Fatalf("borrow Apply: %v", err)
	}

	l, err := repo.GetDebtLedger(ctx, repo.DB(), person, "2025-03")
	if err != nil {
		t.Fatalf("GetDebtLedger: %v", err)
	}
	if l.NetDebt.Cents != 10000 || l.Status != core.DebtLedgerOpen {
		t.Fatalf("after borrow: net=%d status=%s, want 10000/open", l.NetDebt.Cents, l.Status)
	}

	repayTx := seedTransaction(t, repo, account, core.TxRepayment, 4000, march)
	if _, err := engine.Apply(ctx, repo.DB(), repayTx, DebtIntent{PersonID: person, Type: core.DebtRepay, Cycle: "2025-03"}); err != nil {
		t.Fatalf("repay Apply: %v", err)
	}
	l, err = repo.GetDebtLedger(ctx, repo.DB(), person, "2025-03")
	if err != nil {
		t.Fatalf("GetDebtLedger: %v", err)
	}
	if l.NetDebt.Cents != 6000 || l.Status != core.DebtLedgerOpen {
		t.Fatalf("after partial repay: net=%d status=%s, want 6000/open", l.NetDebt.Cents, l.Status)
	}
	if l.Repayments.Cents != 4000 {
		t.Fatalf("repayments = %d, want 4000", l.Repayments.Cents)
	}

	finalTx := seedTransaction(t, repo, account, core.TxRepayment, 6000, march)
	if _, err := engine.Apply(ctx, repo.DB(), finalTx, DebtIntent{PersonID: person, Type: core.DebtRepay, Cycle: "2025-03"}); err != nil {
		t.Fatalf("final repay Apply: %v", err)
	}
	l, err = repo.GetDebtLedger(ctx, repo.DB(), person, "2025-03")
	if err != nil {
		t.Fatalf("GetDebtLedger: %v", err)
	}
	if l.NetDebt.Cents != 0 || l.Status != core.DebtLedgerRepaid {
		t.Fatalf("after full repay: net=%d status=%s, want 0/repaid", l.NetDebt.Cents, l.Status)
	}
}

func TestDebtComponentsFeedTheRightColumns(t *testing.T) {
	tests := []struct {
		name    string
		txType  core.TransactionType
		movType core.DebtMovementType
		cents   int64
		check   func(t *testing.T, l core.DebtLedger)
	}{
		{
			name: "adjust feeds initial debt", txType: core.TxAdjustment,
			movType: core.DebtAdjust, cents: 5000,
			check: func(t *testing.T, l core.DebtLedger) {
				if l.InitialDebt.Cents != 5000 || l.NetDebt.Cents != 5000 {
					t.Errorf("initial=%d net=%d, want 5000/5000", l.InitialDebt.Cents, l.NetDebt.Cents)
				}
			},
		},
		{
			name: "split feeds new debt", txType: core.TxExpense,
			movType: core.DebtSplit, cents: 3000,
			check: func(t *testing.T, l core.DebtLedger) {
				if l.NewDebt.Cents != 3000 || l.NetDebt.Cents != 3000 {
					t.Errorf("new=%d net=%d, want 3000/3000", l.NewDebt.Cents, l.NetDebt.Cents)
				}
			},
		},
		{
			name: "discount reduces net", txType: core.TxDebt,
			movType: core.DebtDiscount, cents: 1500,
			check: func(t *testing.T, l core.DebtLedger) {
				if l.DebtDiscount.Cents != 1500 || l.NetDebt.Cents != -1500 {
					t.Errorf("discount=%d net=%d, want 1500/-1500", l.DebtDiscount.Cents, l.NetDebt.Cents)
				}
				if l.Status != core.DebtLedgerRepaid {
					t.Errorf("status = %s, want repaid for non-positive net", l.Status)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepo(t)
			engine := NewDebtEngine(repo, discardLogger())
			ctx := context.Background()

			account := seedAccount(t, repo, "main card")
			person := seedPerson(t, repo, "alice")
			tx := seedTransaction(t, repo, account, tt.txType, tt.cents, march)

			if _, err := engine.Apply(ctx, repo.DB(), tx, DebtIntent{PersonID: person, Type: tt.movType, Cycle: "2025-03"}); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			l, err := repo.GetDebtLedger(ctx, repo.DB(), person, "2025-03")
			if err != nil {
				t.Fatalf("GetDebtLedger: %v", err)
			}
			tt.check(t, l)
		})
	}
}

func TestDebtRollingLedgerWithEmptyCycle(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewDebtEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	person := seedPerson(t, repo, "alice")

	tx1 := seedTransaction(t, repo, account, core.TxDebt, 2000, march)
	tx2 := seedTransaction(t, repo, account, core.TxDebt, 3000, march.AddDate(0, 1, 0))

	if _, err := engine.Apply(ctx, repo.DB(), tx1, DebtIntent{PersonID: person, Type: core.DebtBorrow}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := engine.Apply(ctx, repo.DB(), tx2, DebtIntent{PersonID: person, Type: core.DebtBorrow}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	balance, err := engine.Balance(ctx, person, "")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.Cents != 5000 {
		t.Errorf("rolling balance = %d, want 5000 across months", balance.Cents)
	}

	ledgers, err := repo.ListDebtLedgers(ctx, "")
	if err != nil {
		t.Fatalf("ListDebtLedgers: %v", err)
	}
	if len(ledgers) != 1 {
		t.Fatalf("rolling ledger rows = %d, want 1", len(ledgers))
	}
}

func TestDebtRollbackIsExactInverse(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewDebtEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	person := seedPerson(t, repo, "alice")

	tx1 := seedTransaction(t, repo, account, core.TxDebt, 10000, march)
	tx2 := seedTransaction(t, repo, account, core.TxRepayment, 4000, march)

	if _, err := engine.Apply(ctx, repo.DB(), tx1, DebtIntent{PersonID: person, Type: core.DebtBorrow, Cycle: "2025-03"}); err != nil {
		t.Fatalf("borrow Apply: %v", err)
	}
	m, err := engine.Apply(ctx, repo.DB(), tx2, DebtIntent{PersonID: person, Type: core.DebtRepay, Cycle: "2025-03"})
	if err != nil {
		t.Fatalf("repay Apply: %v", err)
	}

	if err := engine.Rollback(ctx, repo.DB(), m.ID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	l, err := repo.GetDebtLedger(ctx, repo.DB(), person, "2025-03")
	if err != nil {
		t.Fatalf("GetDebtLedger: %v", err)
	}
	if l.NetDebt.Cents != 10000 || l.Repayments.Cents != 0 {
		t.Errorf("net=%d repayments=%d, want 10000/0 after rollback", l.NetDebt.Cents, l.Repayments.Cents)
	}
	if l.Status != core.DebtLedgerOpen {
		t.Errorf("status = %s, want open after repayment rollback", l.Status)
	}

	if err := engine.Rollback(ctx, repo.DB(), m.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second Rollback err = %v, want ErrNotFound", err)
	}
}

func TestDebtRollbackMissingLedger(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewDebtEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	person := seedPerson(t, repo, "alice")
	tx := seedTransaction(t, repo, account, core.TxDebt, 7000, march)

	m, err := engine.Apply(ctx, repo.DB(), tx, DebtIntent{PersonID: person, Type: core.DebtBorrow, Cycle: "2025-03"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := repo.DB().ExecContext(ctx, `DELETE FROM debt_ledger`); err != nil {
		t.Fatalf("delete ledger rows: %v", err)
	}

	if err := engine.Rollback(ctx, repo.DB(), m.ID); err != nil {
		t.Fatalf("Rollback with missing ledger: %v", err)
	}
	got, err := repo.GetDebtMovement(ctx, repo.DB(), m.ID)
	if err != nil {
		t.Fatalf("GetDebtMovement: %v", err)
	}
	if got.Status != core.DebtReversed {
		t.Errorf("movement status = %s, want reversed even without a ledger row", got.Status)
	}
	if _, err := repo.GetDebtLedger(ctx, repo.DB(), person, "2025-03"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetDebtLedger err = %v, want ErrNotFound: rollback must not recreate the row", err)
	}
}

func TestOrchestratorRejectsMismatchedIntents(t *testing.T) {
	repo := newTestRepo(t)
	log := discardLogger()
	orch := NewOrchestrator(NewCashbackEngine(repo, log), NewDebtEngine(repo, log), log)
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	person := seedPerson(t, repo, "alice")
	tx := seedTransaction(t, repo, account, core.TxExpense, 10000, march)

	_, err := orch.OnTransactionPosted(ctx, repo.DB(), tx, Intents{
		Cashback: &CashbackIntent{Type: core.CashbackPercent, ValueBps: 50000},
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("cashback on expense err = %v, want ErrValidation", err)
	}

	_, err = orch.OnTransactionPosted(ctx, repo.DB(), tx, Intents{
		Debts: []DebtIntent{{PersonID: person, Type: core.DebtRepay}},
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("repay on expense err = %v, want ErrValidation", err)
	}
}

func TestOrchestratorDeleteRollsBackEverything(t *testing.T) {
	repo := newTestRepo(t)
	log := discardLogger()
	orch := NewOrchestrator(NewCashbackEngine(repo, log), NewDebtEngine(repo, log), log)
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	person := seedPerson(t, repo, "alice")
	tx := seedTransaction(t, repo, account, core.TxExpense, 9000, march)

	ids, err := orch.OnTransactionPosted(ctx, repo.DB(), tx, Intents{
		Debts: []DebtIntent{
			{PersonID: person, Type: core.DebtSplit, Amount: core.Money{Cents: 3000}, Cycle: "2025-03"},
			{PersonID: person, Type: core.DebtSplit, Amount: core.Money{Cents: 3000}, Cycle: "2025-03"},
		},
	})
	if err != nil {
		t.Fatalf("OnTransactionPosted: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("movement count = %d, want 2", len(ids))
	}

	if err := orch.OnTransactionDeleted(ctx, repo.DB(), tx.ID); err != nil {
		t.Fatalf("OnTransactionDeleted: %v", err)
	}

	l, err := repo.GetDebtLedger(ctx, repo.DB(), person, "2025-03")
	if err != nil {
		t.Fatalf("GetDebtLedger: %v", err)
	}
	if l.NetDebt.Cents != 0 {
		t.Errorf("net = %d, want 0 after delete rollback", l.NetDebt.Cents)
	}
	active, err := repo.ListActiveDebtMovements(ctx, repo.DB(), tx.ID)
	if err != nil {
		t.Fatalf("ListActiveDebtMovements: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active movements = %d, want 0", len(active))
	}

	// Deleting again finds nothing live and succeeds quietly.
	if err := orch.OnTransactionDeleted(ctx, repo.DB(), tx.ID); err != nil {
		t.Fatalf("repeated OnTransactionDeleted: %v", err)
	}
}

func TestSetBudgetCapRecomputesEligibility(t *testing.T) {
	repo := newTestRepo(t)
	engine := NewCashbackEngine(repo, discardLogger())
	ctx := context.Background()

	account := seedAccount(t, repo, "main card")
	tx := seedTransaction(t, repo, account, core.TxCashback, 10000, march)

	if _, err := engine.Apply(ctx, repo.DB(), tx, CashbackIntent{Type: core.CashbackFixed, FixedAmount: core.Money{Cents: 800}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := engine.SetBudgetCap(ctx, account, "2025-03", core.Money{Cents: 1000}); err != nil {
		t.Fatalf("SetBudgetCap: %v", err)
	}
	l, err := repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
	if err != nil {
		t.Fatalf("GetCashbackLedger: %v", err)
	}
	if l.BudgetCap.Cents != 1000 || l.RemainingBudget.Cents != 200 {
		t.Errorf("cap=%d remaining=%d, want 1000/200", l.BudgetCap.Cents, l.RemainingBudget.Cents)
	}
	if l.Eligibility != core.Eligible {
		t.Errorf("eligibility = %s, want eligible", l.Eligibility)
	}

	if err := engine.SetBudgetCap(ctx, account, "2025-03", core.Money{Cents: 500}); err != nil {
		t.Fatalf("SetBudgetCap: %v", err)
	}
	l, err = repo.GetCashbackLedger(ctx, repo.DB(), account, "2025-03")
	if err != nil {
		t.Fatalf("GetCashbackLedger: %v", err)
	}
	if l.Eligibility != core.ReachedCap {
		t.Errorf("eligibility = %s, want reached_cap once total passes the cap", l.Eligibility)
	}

	if err := engine.SetBudgetCap(ctx, account, "2025-12", core.Money{Cents: 500}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("cap on missing ledger err = %v, want ErrNotFound", err)
	}
}
