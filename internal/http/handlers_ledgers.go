package http

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
)

type cashbackLedgerJSON struct {
	ID              string `json:"id"`
	AccountID       string `json:"account_id"`
	Cycle           string `json:"cycle"`
	TotalSpend      string `json:"total_spend"`
	TotalCashback   string `json:"total_cashback"`
	BudgetCap       string `json:"budget_cap"`
	RemainingBudget string `json:"remaining_budget"`
	Eligibility     string `json:"eligibility"`
	Status          string `json:"status"`
	LastUpdated     string `json:"last_updated"`
}

func toCashbackLedgerJSON(l core.CashbackLedger) cashbackLedgerJSON {
	return cashbackLedgerJSON{
		ID:              l.ID,
		AccountID:       l.AccountID,
		Cycle:           string(l.Cycle),
		TotalSpend:      l.TotalSpend.String(),
		TotalCashback:   l.TotalCashback.String(),
		BudgetCap:       l.BudgetCap.String(),
		RemainingBudget: l.RemainingBudget.String(),
		Eligibility:     string(l.Eligibility),
		Status:          string(l.Status),
		LastUpdated:     l.LastUpdated.Format(time.RFC3339),
	}
}

type debtLedgerJSON struct {
	ID           string `json:"id"`
	PersonID     string `json:"person_id"`
	Cycle        string `json:"cycle,omitempty"`
	InitialDebt  string `json:"initial_debt"`
	NewDebt      string `json:"new_debt"`
	Repayments   string `json:"repayments"`
	DebtDiscount string `json:"debt_discount"`
	NetDebt      string `json:"net_debt"`
	Status       string `json:"status"`
	LastUpdated  string `json:"last_updated"`
}

func toDebtLedgerJSON(l core.DebtLedger) debtLedgerJSON {
	return debtLedgerJSON{
		ID:           l.ID,
		PersonID:     l.PersonID,
		Cycle:        string(l.Cycle),
		InitialDebt:  l.InitialDebt.String(),
		NewDebt:      l.NewDebt.String(),
		Repayments:   l.Repayments.String(),
		DebtDiscount: l.DebtDiscount.String(),
		NetDebt:      l.NetDebt.String(),
		Status:       string(l.Status),
		LastUpdated:  l.LastUpdated.Format(time.RFC3339),
	}
}

func (s *Server) handleListCashbackLedgers(w http.ResponseWriter, r *http.Request) {
	cycle := core.CycleTag(r.URL.Query().Get("cycle"))
	if !cycle.IsZero() {
		if err := cycle.Validate(); err != nil {
			respondError(w, r, err)
			return
		}
	}
	ledgers, err := s.repo.ListCashbackLedgers(r.Context(), cycle)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]cashbackLedgerJSON, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, toCashbackLedgerJSON(l))
	}
	respondJSON(w, http.StatusOK, map[string]any{"ledgers": out})
}

func (s *Server) handleCashbackBalance(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" {
		respondBadRequest(w, "account_id is required")
		return
	}
	cycle := core.CycleTag(r.URL.Query().Get("cycle"))
	if err := cycle.Validate(); err != nil {
		respondError(w, r, err)
		return
	}
	balance, err := s.cashback.Balance(r.Context(), accountID, cycle)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"account_id": accountID,
		"cycle":      string(cycle),
		"balance":    balance.String(),
	})
}

type budgetCapRequest struct {
	AccountID string `json:"account_id"`
	Cycle     string `json:"cycle"`
	BudgetCap string `json:"budget_cap"`
}

func (s *Server) handleSetBudgetCap(w http.ResponseWriter, r *http.Request) {
	var req budgetCapRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		respondBadRequest(w, "account_id is required")
		return
	}
	cycle := core.CycleTag(req.Cycle)
	if err := cycle.Validate(); err != nil {
		respondError(w, r, err)
		return
	}
	capAmount, err := parseMoneyField(req.BudgetCap, "budget_cap")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.cashback.SetBudgetCap(r.Context(), req.AccountID, cycle, capAmount); err != nil {
		respondError(w, r, err)
		return
	}

	s.reports.Invalidate()
	row, err := s.repo.GetCashbackLedger(r.Context(), s.repo.DB(), req.AccountID, cycle)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCashbackLedgerJSON(row))
}

// createCashbackMovementRequest posts a cashback movement directly against an
// existing transaction, for reconciliation outside the normal create flow.
type createCashbackMovementRequest struct {
	TransactionID string             `json:"transaction_id"`
	Cashback      cashbackIntentJSON `json:"cashback"`
}

func (s *Server) handleCreateCashbackMovement(w http.ResponseWriter, r *http.Request) {
	var req createCashbackMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		respondBadRequest(w, "transaction_id is required")
		return
	}
	intent, err := parseCashbackIntent(&req.Cashback)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var ids []string
	err = s.repo.WithTx(r.Context(), func(tx *sql.Tx) error {
		t, err := s.repo.GetTransaction(r.Context(), tx, req.TransactionID)
		if err != nil {
			return err
		}
		ids, err = s.orchestrator.OnTransactionPosted(r.Context(), tx, t, ledger.Intents{Cashback: intent})
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.reports.Invalidate()
	id := ""
	if len(ids) > 0 {
		id = ids[0]
	}
	respondJSON(w, http.StatusCreated, map[string]string{"movement_id": id, "status": "applied"})
}

func (s *Server) handleRollbackCashback(w http.ResponseWriter, r *http.Request) {
	movementID := r.PathValue("id")
	err := s.repo.WithTx(r.Context(), func(tx *sql.Tx) error {
		return s.cashback.Rollback(r.Context(), tx, movementID)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.reports.Invalidate()
	respondJSON(w, http.StatusOK, map[string]string{"movement_id": movementID, "status": "invalidated"})
}

func (s *Server) handleListDebtLedgers(w http.ResponseWriter, r *http.Request) {
	cycle := core.CycleTag(r.URL.Query().Get("cycle"))
	if !cycle.IsZero() {
		if err := cycle.Validate(); err != nil {
			respondError(w, r, err)
			return
		}
	}
	ledgers, err := s.repo.ListDebtLedgers(r.Context(), cycle)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]debtLedgerJSON, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, toDebtLedgerJSON(l))
	}
	respondJSON(w, http.StatusOK, map[string]any{"ledgers": out})
}

// handleDebtBalance returns one person's net position. An empty cycle selects
// the rolling ledger.
func (s *Server) handleDebtBalance(w http.ResponseWriter, r *http.Request) {
	personID := strings.TrimSpace(r.URL.Query().Get("person_id"))
	if personID == "" {
		respondBadRequest(w, "person_id is required")
		return
	}
	cycle := core.CycleTag(r.URL.Query().Get("cycle"))
	if !cycle.IsZero() {
		if err := cycle.Validate(); err != nil {
			respondError(w, r, err)
			return
		}
	}
	balance, err := s.debt.Balance(r.Context(), personID, cycle)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"person_id": personID,
		"cycle":     string(cycle),
		"net_debt":  balance.String(),
	})
}

// createDebtMovementRequest posts a debt movement directly against an
// existing transaction.
type createDebtMovementRequest struct {
	TransactionID string         `json:"transaction_id"`
	Debt          debtIntentJSON `json:"debt"`
}

func (s *Server) handleCreateDebtMovement(w http.ResponseWriter, r *http.Request) {
	var req createDebtMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		respondBadRequest(w, "transaction_id is required")
		return
	}
	intents, err := parseDebtIntents([]debtIntentJSON{req.Debt})
	if err != nil {
		respondError(w, r, err)
		return
	}

	var ids []string
	err = s.repo.WithTx(r.Context(), func(tx *sql.Tx) error {
		t, err := s.repo.GetTransaction(r.Context(), tx, req.TransactionID)
		if err != nil {
			return err
		}
		ids, err = s.orchestrator.OnTransactionPosted(r.Context(), tx, t, ledger.Intents{Debts: intents})
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.reports.Invalidate()
	id := ""
	if len(ids) > 0 {
		id = ids[0]
	}
	respondJSON(w, http.StatusCreated, map[string]string{"movement_id": id, "status": "applied"})
}

func (s *Server) handleRollbackDebt(w http.ResponseWriter, r *http.Request) {
	movementID := r.PathValue("id")
	err := s.repo.WithTx(r.Context(), func(tx *sql.Tx) error {
		return s.debt.Rollback(r.Context(), tx, movementID)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.reports.Invalidate()
	respondJSON(w, http.StatusOK, map[string]string{"movement_id": movementID, "status": "reversed"})
}
