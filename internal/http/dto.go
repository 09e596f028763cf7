package http

import (
	"fmt"
	"strings"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
)

// transactionJSON is the wire form of a transaction. Monetary values travel
// as 2-decimal strings, rates as 4-decimal percent strings.
type transactionJSON struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	PersonID       string `json:"person_id,omitempty"`
	CategoryID     string `json:"category_id,omitempty"`
	ShopID         string `json:"shop_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	LinkedGroupID  string `json:"linked_group_id,omitempty"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee,omitempty"`
	OccurredOn     string `json:"occurred_on"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	out := transactionJSON{
		ID:             t.ID,
		AccountID:      t.AccountID,
		PersonID:       t.PersonID,
		CategoryID:     t.CategoryID,
		ShopID:         t.ShopID,
		SubscriptionID: t.SubscriptionID,
		LinkedGroupID:  t.LinkedGroupID,
		Type:           string(t.Type),
		Status:         string(t.Status),
		Amount:         t.Amount.String(),
		OccurredOn:     t.OccurredOn.Format("2006-01-02"),
		Notes:          t.Notes,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      t.UpdatedAt.Format(time.RFC3339),
	}
	if !t.Fee.IsZero() {
		out.Fee = t.Fee.String()
	}
	return out
}

func toTransactionListJSON(items []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, 0, len(items))
	for _, t := range items {
		out = append(out, toTransactionJSON(t))
	}
	return out
}

// cashbackIntentJSON carries the cashback side effect of a posted
// transaction. Percent intents set rate, fixed intents set amount.
type cashbackIntentJSON struct {
	Type      string `json:"type"`
	Rate      string `json:"rate,omitempty"`
	Amount    string `json:"amount,omitempty"`
	BudgetCap string `json:"budget_cap,omitempty"`
	Note      string `json:"note,omitempty"`
}

type debtIntentJSON struct {
	PersonID string `json:"person_id"`
	Type     string `json:"type"`
	Amount   string `json:"amount,omitempty"`
	Cycle    string `json:"cycle,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

func parseCashbackIntent(in *cashbackIntentJSON) (*ledger.CashbackIntent, error) {
	if in == nil {
		return nil, nil
	}
	intent := &ledger.CashbackIntent{
		Type: core.CashbackType(in.Type),
		Note: in.Note,
	}
	if !intent.Type.Valid() {
		return nil, fmt.Errorf("cashback type %q: %w", in.Type, core.ErrInvalidMovementType)
	}
	switch intent.Type {
	case core.CashbackPercent:
		bps, err := core.ParseRate(in.Rate)
		if err != nil {
			return nil, fmt.Errorf("cashback rate: %w", err)
		}
		intent.ValueBps = bps
	case core.CashbackFixed:
		amount, err := core.ParseAmount(in.Amount)
		if err != nil {
			return nil, fmt.Errorf("cashback amount: %w", err)
		}
		intent.FixedAmount = amount
	}
	if in.BudgetCap != "" {
		capAmount, err := core.ParseAmount(in.BudgetCap)
		if err != nil {
			return nil, fmt.Errorf("cashback budget cap: %w", err)
		}
		intent.BudgetCap = capAmount
	}
	return intent, nil
}

func parseDebtIntents(in []debtIntentJSON) ([]ledger.DebtIntent, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]ledger.DebtIntent, 0, len(in))
	for i, d := range in {
		intent := ledger.DebtIntent{
			PersonID: strings.TrimSpace(d.PersonID),
			Type:     core.DebtMovementType(d.Type),
			Cycle:    core.CycleTag(d.Cycle),
			Notes:    d.Notes,
		}
		if d.Amount != "" {
			amount, err := core.ParseAmount(d.Amount)
			if err != nil {
				return nil, fmt.Errorf("debt intent %d amount: %w", i, err)
			}
			intent.Amount = amount
		}
		out = append(out, intent)
	}
	return out, nil
}

func parseIntents(cashback *cashbackIntentJSON, debts []debtIntentJSON) (ledger.Intents, error) {
	var intents ledger.Intents
	ci, err := parseCashbackIntent(cashback)
	if err != nil {
		return ledger.Intents{}, err
	}
	intents.Cashback = ci
	di, err := parseDebtIntents(debts)
	if err != nil {
		return ledger.Intents{}, err
	}
	intents.Debts = di
	return intents, nil
}

func parseDateField(value, field string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q: %w", field, value, core.ErrValidation)
	}
	return t, nil
}

func parseMoneyField(value, field string) (core.Money, error) {
	m, err := core.ParseAmount(value)
	if err != nil {
		return core.Money{}, fmt.Errorf("%s: %w", field, err)
	}
	return m, nil
}
