package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/core"
)

type namedRequest struct {
	Name string `json:"name"`
}

type namedJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req namedRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	now := time.Now().UTC()
	account := core.Account{ID: uuid.NewString(), Name: strings.TrimSpace(req.Name), CreatedAt: now, UpdatedAt: now}
	if err := account.Validate(); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.repo.InsertAccount(r.Context(), account); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, namedJSON{ID: account.ID, Name: account.Name})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.repo.ListAccounts(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]namedJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, namedJSON{ID: a.ID, Name: a.Name})
	}
	respondJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	var req namedRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	now := time.Now().UTC()
	person := core.Person{ID: uuid.NewString(), Name: strings.TrimSpace(req.Name), CreatedAt: now, UpdatedAt: now}
	if err := person.Validate(); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.repo.InsertPerson(r.Context(), person); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, namedJSON{ID: person.ID, Name: person.Name})
}

func (s *Server) handleListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := s.repo.ListPeople(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]namedJSON, 0, len(people))
	for _, p := range people {
		out = append(out, namedJSON{ID: p.ID, Name: p.Name})
	}
	respondJSON(w, http.StatusOK, map[string]any{"people": out})
}

type categoryRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type categoryJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	kind := strings.TrimSpace(req.Kind)
	if name == "" {
		respondError(w, r, core.ErrEmptyName)
		return
	}
	if kind != "expense" && kind != "income" {
		respondBadRequest(w, "kind must be expense or income")
		return
	}
	category, err := s.repo.GetOrCreateCategory(r.Context(), name, kind, uuid.NewString(), time.Now().UTC())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, categoryJSON{ID: category.ID, Name: category.Name, Kind: category.Kind})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.repo.ListCategories(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]categoryJSON, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryJSON{ID: c.ID, Name: c.Name, Kind: c.Kind})
	}
	respondJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (s *Server) handleCreateShop(w http.ResponseWriter, r *http.Request) {
	var req namedRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, r, core.ErrEmptyName)
		return
	}
	now := time.Now().UTC()
	shop := core.Shop{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.InsertShop(r.Context(), shop); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, namedJSON{ID: shop.ID, Name: shop.Name})
}

func (s *Server) handleListShops(w http.ResponseWriter, r *http.Request) {
	shops, err := s.repo.ListShops(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]namedJSON, 0, len(shops))
	for _, sh := range shops {
		out = append(out, namedJSON{ID: sh.ID, Name: sh.Name})
	}
	respondJSON(w, http.StatusOK, map[string]any{"shops": out})
}

type subscriptionRequest struct {
	Name       string `json:"name"`
	AccountID  string `json:"account_id"`
	PersonID   string `json:"person_id"`
	CategoryID string `json:"category_id"`
	Amount     string `json:"amount"`
	Every      string `json:"every"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

type subscriptionJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AccountID    string `json:"account_id"`
	PersonID     string `json:"person_id,omitempty"`
	CategoryID   string `json:"category_id,omitempty"`
	Amount       string `json:"amount"`
	Every        string `json:"every"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date,omitempty"`
	LastBilledAt string `json:"last_billed_at,omitempty"`
	Active       bool   `json:"active"`
}

func toSubscriptionJSON(sub core.Subscription) subscriptionJSON {
	out := subscriptionJSON{
		ID:         sub.ID,
		Name:       sub.Name,
		AccountID:  sub.AccountID,
		PersonID:   sub.PersonID,
		CategoryID: sub.CategoryID,
		Amount:     sub.Amount.String(),
		Every:      string(sub.Every),
		StartDate:  sub.StartDate.Format("2006-01-02"),
		Active:     sub.Active,
	}
	if !sub.EndDate.IsZero() {
		out.EndDate = sub.EndDate.Format("2006-01-02")
	}
	if !sub.LastBilledAt.IsZero() {
		out.LastBilledAt = sub.LastBilledAt.Format(time.RFC3339)
	}
	return out
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	amount, err := parseMoneyField(req.Amount, "amount")
	if err != nil {
		respondError(w, r, err)
		return
	}
	startDate, err := parseDateField(req.StartDate, "start_date")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var endDate time.Time
	if req.EndDate != "" {
		if endDate, err = parseDateField(req.EndDate, "end_date"); err != nil {
			respondError(w, r, err)
			return
		}
	}

	now := time.Now().UTC()
	sub := core.Subscription{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(req.Name),
		AccountID:  strings.TrimSpace(req.AccountID),
		PersonID:   strings.TrimSpace(req.PersonID),
		CategoryID: strings.TrimSpace(req.CategoryID),
		Amount:     amount,
		Every:      core.RepetitionType(req.Every),
		StartDate:  startDate,
		EndDate:    endDate,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := sub.Validate(); err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.repo.InsertSubscription(r.Context(), sub); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toSubscriptionJSON(sub))
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.repo.ListSubscriptions(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]subscriptionJSON, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionJSON(sub))
	}
	respondJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

type subscriptionActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetSubscriptionActive(w http.ResponseWriter, r *http.Request) {
	var req subscriptionActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	id := r.PathValue("id")
	if err := s.repo.SetSubscriptionActive(r.Context(), id, req.Active, time.Now().UTC()); err != nil {
		respondError(w, r, err)
		return
	}
	sub, err := s.repo.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionJSON(sub))
}
