package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/storage"
)

// SubscriptionBilling turns due subscriptions into transactions of type
// subscription through the lifecycle manager, so ledger effects and events
// apply the same way as manual entries.
type SubscriptionBilling struct {
	repo         *storage.Repository
	transactions *TransactionService
	log          *slog.Logger
}

func NewSubscriptionBilling(repo *storage.Repository, transactions *TransactionService, log *slog.Logger) *SubscriptionBilling {
	return &SubscriptionBilling{repo: repo, transactions: transactions, log: log}
}

// ProcessDueSubscriptions bills every active subscription that is due at the
// given time. One failing subscription is logged and skipped, the rest still
// bill. Returns the number billed.
func (p *SubscriptionBilling) ProcessDueSubscriptions(ctx context.Context, now time.Time) (int, error) {
	if p.repo == nil || p.transactions == nil {
		return 0, fmt.Errorf("billing processor not properly initialized")
	}

	subs, err := p.repo.ListActiveSubscriptions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list active subscriptions: %w", err)
	}

	p.log.InfoContext(ctx, "processing subscriptions",
		"total_active", len(subs),
		"processing_date", now.Format("2006-01-02"))

	billed := 0
	for _, sub := range subs {
		checker, err := GetDuenessChecker(sub.Every)
		if err != nil {
			p.log.ErrorContext(ctx, "unsupported billing frequency",
				"subscription_id", sub.ID, "every", string(sub.Every), "error", err)
			continue
		}
		if !checker.IsDue(sub.LastBilledAt, now, sub.StartDate) {
			continue
		}

		if err := p.billOne(ctx, sub, now); err != nil {
			p.log.ErrorContext(ctx, "failed to bill subscription",
				"subscription_id", sub.ID, "name", sub.Name, "error", err)
			continue
		}

		billed++
		p.log.InfoContext(ctx, "billed subscription",
			"subscription_id", sub.ID,
			"name", sub.Name,
			"amount_cents", sub.Amount.Cents,
			"every", string(sub.Every))
	}

	p.log.InfoContext(ctx, "subscription billing complete",
		"billed", billed, "total_checked", len(subs))
	return billed, nil
}

// billOne creates the transaction, then stamps last_billed_at. A crash
// between the two re-bills once on the next sweep; the duplicate is visible
// as two subscription transactions on the same day and can be deleted.
func (p *SubscriptionBilling) billOne(ctx context.Context, sub core.Subscription, now time.Time) error {
	_, err := p.transactions.Create(ctx, CreateTransactionInput{
		AccountID:      sub.AccountID,
		PersonID:       sub.PersonID,
		CategoryID:     sub.CategoryID,
		SubscriptionID: sub.ID,
		Type:           core.TxSubscription,
		Status:         core.TxActive,
		Amount:         sub.Amount,
		OccurredOn:     now,
		Notes:          sub.Name,
		Intents:        ledger.Intents{},
	})
	if err != nil {
		return err
	}
	return p.repo.WithTx(ctx, func(tx *sql.Tx) error {
		return p.repo.MarkSubscriptionBilled(ctx, tx, sub.ID, now)
	})
}
