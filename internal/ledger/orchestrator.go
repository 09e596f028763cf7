package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// Effect is one ledger consequence of a transaction. Apply and Rollback are
// exact inverses; both run in the scope the caller passes in.
type Effect interface {
	Apply(ctx context.Context, q storage.DBTX) (movementID string, err error)
	Rollback(ctx context.Context, q storage.DBTX, movementID string) error
}

type cashbackEffect struct {
	engine *CashbackEngine
	tx     core.Transaction
	intent CashbackIntent
}

func (e cashbackEffect) Apply(ctx context.Context, q storage.DBTX) (string, error) {
	m, err := e.engine.Apply(ctx, q, e.tx, e.intent)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (e cashbackEffect) Rollback(ctx context.Context, q storage.DBTX, movementID string) error {
	return e.engine.Rollback(ctx, q, movementID)
}

type debtEffect struct {
	engine *DebtEngine
	tx     core.Transaction
	intent DebtIntent
}

func (e debtEffect) Apply(ctx context.Context, q storage.DBTX) (string, error) {
	m, err := e.engine.Apply(ctx, q, e.tx, e.intent)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (e debtEffect) Rollback(ctx context.Context, q storage.DBTX, movementID string) error {
	return e.engine.Rollback(ctx, q, movementID)
}

// Intents carries the ledger side effects requested alongside a transaction.
type Intents struct {
	Cashback *CashbackIntent
	Debts    []DebtIntent
}

// Orchestrator turns transaction lifecycle events into ledger effects and
// routes rollbacks to whichever engine owns a movement.
type Orchestrator struct {
	cashback *CashbackEngine
	debt     *DebtEngine
	log      *slog.Logger
}

func NewOrchestrator(cashback *CashbackEngine, debt *DebtEngine, log *slog.Logger) *Orchestrator {
	return &Orchestrator{cashback: cashback, debt: debt, log: log}
}

// effectsFor validates the intents against the transaction type and builds
// the effect list. Cashback intents only attach to cashback transactions;
// debt intents attach to debt, repayment and adjustment transactions, plus
// expense splits.
func (o *Orchestrator) effectsFor(tx core.Transaction, intents Intents) ([]Effect, error) {
	var effects []Effect
	if intents.Cashback != nil {
		if tx.Type != core.TxCashback {
			return nil, fmt.Errorf("%w: cashback intent on %s transaction", core.ErrValidation, tx.Type)
		}
		effects = append(effects, cashbackEffect{engine: o.cashback, tx: tx, intent: *intents.Cashback})
	}
	for _, d := range intents.Debts {
		if err := debtIntentAllowed(tx.Type, d.Type); err != nil {
			return nil, err
		}
		effects = append(effects, debtEffect{engine: o.debt, tx: tx, intent: d})
	}
	return effects, nil
}

func debtIntentAllowed(txType core.TransactionType, movType core.DebtMovementType) error {
	switch txType {
	case core.TxDebt:
		if movType == core.DebtBorrow || movType == core.DebtDiscount {
			return nil
		}
	case core.TxRepayment:
		if movType == core.DebtRepay {
			return nil
		}
	case core.TxAdjustment:
		if movType == core.DebtAdjust {
			return nil
		}
	case core.TxExpense, core.TxImport:
		if movType == core.DebtSplit {
			return nil
		}
	}
	return fmt.Errorf("%w: debt movement %s on %s transaction", core.ErrValidation, movType, txType)
}

// OnTransactionPosted applies every requested effect in the given scope and
// returns the created movement ids in application order.
func (o *Orchestrator) OnTransactionPosted(ctx context.Context, q storage.DBTX, tx core.Transaction, intents Intents) ([]string, error) {
	effects, err := o.effectsFor(tx, intents)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(effects))
	for _, ef := range effects {
		id, err := ef.Apply(ctx, q)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		o.log.InfoContext(ctx, "ledger effects applied",
			"transaction_id", tx.ID, "movements", len(ids))
	}
	return ids, nil
}

// OnTransactionDeleted rolls back every live movement that references the
// transaction, on both ledgers, in the given scope.
func (o *Orchestrator) OnTransactionDeleted(ctx context.Context, q storage.DBTX, transactionID string) error {
	if err := o.cashback.RollbackAll(ctx, q, transactionID); err != nil {
		return err
	}
	if err := o.debt.RollbackAll(ctx, q, transactionID); err != nil {
		return err
	}
	return nil
}
