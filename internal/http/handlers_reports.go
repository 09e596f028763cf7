package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"bilancio/internal/core"
)

type monthReportJSON struct {
	Cycle         string                `json:"cycle"`
	TotalExpenses string                `json:"total_expenses"`
	TotalIncome   string                `json:"total_income"`
	ByCategory    []categoryAmountJSON  `json:"by_category"`
	Cashback      []accountCashbackJSON `json:"cashback"`
	Debts         []personDebtJSON      `json:"debts"`
}

type categoryAmountJSON struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type accountCashbackJSON struct {
	AccountID       string `json:"account_id"`
	Name            string `json:"name"`
	TotalCashback   string `json:"total_cashback"`
	BudgetCap       string `json:"budget_cap"`
	RemainingBudget string `json:"remaining_budget"`
	Eligibility     string `json:"eligibility"`
}

type personDebtJSON struct {
	PersonID string `json:"person_id"`
	Name     string `json:"name"`
	NetDebt  string `json:"net_debt"`
	Status   string `json:"status"`
}

func toMonthReportJSON(rep core.MonthReport) monthReportJSON {
	out := monthReportJSON{
		Cycle:         string(rep.Cycle),
		TotalExpenses: rep.TotalExpenses.String(),
		TotalIncome:   rep.TotalIncome.String(),
		ByCategory:    make([]categoryAmountJSON, 0, len(rep.ByCategory)),
		Cashback:      make([]accountCashbackJSON, 0, len(rep.Cashback)),
		Debts:         make([]personDebtJSON, 0, len(rep.Debts)),
	}
	for _, c := range rep.ByCategory {
		out.ByCategory = append(out.ByCategory, categoryAmountJSON{Name: c.Name, Amount: c.Amount.String()})
	}
	for _, cb := range rep.Cashback {
		out.Cashback = append(out.Cashback, accountCashbackJSON{
			AccountID:       cb.AccountID,
			Name:            cb.Name,
			TotalCashback:   cb.TotalCashback.String(),
			BudgetCap:       cb.BudgetCap.String(),
			RemainingBudget: cb.RemainingBudget.String(),
			Eligibility:     string(cb.Eligibility),
		})
	}
	for _, d := range rep.Debts {
		out.Debts = append(out.Debts, personDebtJSON{
			PersonID: d.PersonID,
			Name:     d.Name,
			NetDebt:  d.NetDebt.String(),
			Status:   string(d.Status),
		})
	}
	return out
}

func (s *Server) handleMonthReport(w http.ResponseWriter, r *http.Request) {
	cycle := core.CycleTag(r.PathValue("cycle"))
	rep, err := s.reports.MonthReport(r.Context(), cycle)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toMonthReportJSON(rep))
}

// handleImportCSV ingests a bank export for one account. The body is the raw
// CSV; per-row failures are reported, not fatal.
func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" {
		respondBadRequest(w, "account_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	result, err := s.importer.ImportCSV(ctx, accountID, r.Body)
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.reports.Invalidate()
	respondJSON(w, http.StatusOK, result)
}
