package http

import (
	"net/http"
	"strconv"
	"strings"

	"bilancio/internal/core"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

type createTransactionRequest struct {
	AccountID      string              `json:"account_id"`
	PersonID       string              `json:"person_id"`
	CategoryID     string              `json:"category_id"`
	ShopID         string              `json:"shop_id"`
	SubscriptionID string              `json:"subscription_id"`
	LinkedGroupID  string              `json:"linked_group_id"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	Amount         string              `json:"amount"`
	Fee            string              `json:"fee"`
	OccurredOn     string              `json:"occurred_on"`
	Notes          string              `json:"notes"`
	Cashback       *cashbackIntentJSON `json:"cashback"`
	Debts          []debtIntentJSON    `json:"debts"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	amount, err := parseMoneyField(req.Amount, "amount")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var fee core.Money
	if req.Fee != "" {
		if fee, err = parseMoneyField(req.Fee, "fee"); err != nil {
			respondError(w, r, err)
			return
		}
	}
	occurredOn, err := parseDateField(req.OccurredOn, "occurred_on")
	if err != nil {
		respondError(w, r, err)
		return
	}
	intents, err := parseIntents(req.Cashback, req.Debts)
	if err != nil {
		respondError(w, r, err)
		return
	}

	tx, err := s.transactions.Create(r.Context(), services.CreateTransactionInput{
		AccountID:      strings.TrimSpace(req.AccountID),
		PersonID:       strings.TrimSpace(req.PersonID),
		CategoryID:     strings.TrimSpace(req.CategoryID),
		ShopID:         strings.TrimSpace(req.ShopID),
		SubscriptionID: strings.TrimSpace(req.SubscriptionID),
		LinkedGroupID:  strings.TrimSpace(req.LinkedGroupID),
		Type:           core.TransactionType(req.Type),
		Status:         core.TransactionStatus(req.Status),
		Amount:         amount,
		Fee:            fee,
		OccurredOn:     occurredOn,
		Notes:          req.Notes,
		Intents:        intents,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.reports.Invalidate()
	respondJSON(w, http.StatusCreated, toTransactionJSON(tx))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.transactions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TransactionFilter{
		AccountID: q.Get("account_id"),
		PersonID:  q.Get("person_id"),
		Type:      core.TransactionType(q.Get("type")),
		Status:    core.TransactionStatus(q.Get("status")),
		From:      q.Get("from"),
		To:        q.Get("to"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = n
	}

	items, err := s.transactions.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionListJSON(items)})
}

type updateTransactionRequest struct {
	AccountID  *string             `json:"account_id"`
	PersonID   *string             `json:"person_id"`
	CategoryID *string             `json:"category_id"`
	ShopID     *string             `json:"shop_id"`
	Status     *string             `json:"status"`
	Amount     *string             `json:"amount"`
	Fee        *string             `json:"fee"`
	OccurredOn *string             `json:"occurred_on"`
	Notes      *string             `json:"notes"`
	Cashback   *cashbackIntentJSON `json:"cashback"`
	Debts      []debtIntentJSON    `json:"debts"`
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req updateTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	patch := services.TransactionPatch{
		AccountID:  req.AccountID,
		PersonID:   req.PersonID,
		CategoryID: req.CategoryID,
		ShopID:     req.ShopID,
		Notes:      req.Notes,
	}
	if req.Status != nil {
		status := core.TransactionStatus(*req.Status)
		patch.Status = &status
	}
	if req.Amount != nil {
		amount, err := parseMoneyField(*req.Amount, "amount")
		if err != nil {
			respondError(w, r, err)
			return
		}
		patch.Amount = &amount
	}
	if req.Fee != nil {
		fee, err := parseMoneyField(*req.Fee, "fee")
		if err != nil {
			respondError(w, r, err)
			return
		}
		patch.Fee = &fee
	}
	if req.OccurredOn != nil {
		occurredOn, err := parseDateField(*req.OccurredOn, "occurred_on")
		if err != nil {
			respondError(w, r, err)
			return
		}
		patch.OccurredOn = &occurredOn
	}
	intents, err := parseIntents(req.Cashback, req.Debts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	patch.Intents = intents

	tx, err := s.transactions.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.reports.Invalidate()
	respondJSON(w, http.StatusOK, toTransactionJSON(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.transactions.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.reports.Invalidate()
	respondJSON(w, http.StatusOK, map[string]any{"deleted": toTransactionJSON(tx)})
}
