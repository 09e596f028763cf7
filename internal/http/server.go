// Package http exposes the JSON API: transaction lifecycle, ledger queries
// and admin operations, reference data, monthly reports and CSV import.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bilancio/internal/ledger"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

type Server struct {
	http.Server

	repo         *storage.Repository
	transactions *services.TransactionService
	reports      *services.ReportService
	importer     *services.ImportService
	cashback     *ledger.CashbackEngine
	debt         *ledger.DebtEngine
	orchestrator *ledger.Orchestrator

	rateLimiter  *rateLimiter
	log          *slog.Logger
	shutdownOnce sync.Once
}

// NewServer wires every route and returns a ready-to-run server.
func NewServer(
	addr string,
	repo *storage.Repository,
	transactions *services.TransactionService,
	reports *services.ReportService,
	importer *services.ImportService,
	cashback *ledger.CashbackEngine,
	debt *ledger.DebtEngine,
	orchestrator *ledger.Orchestrator,
	log *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		repo:         repo,
		transactions: transactions,
		reports:      reports,
		importer:     importer,
		cashback:     cashback,
		debt:         debt,
		orchestrator: orchestrator,
		rateLimiter:  newRateLimiter(60),
		log:          log,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/transactions", s.with(s.handleCreateTransaction))
	mux.HandleFunc("GET /api/transactions", s.with(s.handleListTransactions))
	mux.HandleFunc("GET /api/transactions/{id}", s.with(s.handleGetTransaction))
	mux.HandleFunc("PATCH /api/transactions/{id}", s.with(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.with(s.handleDeleteTransaction))

	mux.HandleFunc("GET /api/cashback/ledgers", s.with(s.handleListCashbackLedgers))
	mux.HandleFunc("GET /api/cashback/balance", s.with(s.handleCashbackBalance))
	mux.HandleFunc("PUT /api/cashback/budget-cap", s.with(s.handleSetBudgetCap))
	mux.HandleFunc("POST /api/cashback/movements", s.with(s.handleCreateCashbackMovement))
	mux.HandleFunc("POST /api/cashback/movements/{id}/rollback", s.with(s.handleRollbackCashback))
	mux.HandleFunc("GET /api/debts/ledgers", s.with(s.handleListDebtLedgers))
	mux.HandleFunc("GET /api/debts/balance", s.with(s.handleDebtBalance))
	mux.HandleFunc("POST /api/debts/movements", s.with(s.handleCreateDebtMovement))
	mux.HandleFunc("POST /api/debts/movements/{id}/rollback", s.with(s.handleRollbackDebt))

	mux.HandleFunc("POST /api/accounts", s.with(s.handleCreateAccount))
	mux.HandleFunc("GET /api/accounts", s.with(s.handleListAccounts))
	mux.HandleFunc("POST /api/people", s.with(s.handleCreatePerson))
	mux.HandleFunc("GET /api/people", s.with(s.handleListPeople))
	mux.HandleFunc("POST /api/categories", s.with(s.handleCreateCategory))
	mux.HandleFunc("GET /api/categories", s.with(s.handleListCategories))
	mux.HandleFunc("POST /api/shops", s.with(s.handleCreateShop))
	mux.HandleFunc("GET /api/shops", s.with(s.handleListShops))
	mux.HandleFunc("POST /api/subscriptions", s.with(s.handleCreateSubscription))
	mux.HandleFunc("GET /api/subscriptions", s.with(s.handleListSubscriptions))
	mux.HandleFunc("PUT /api/subscriptions/{id}/active", s.with(s.handleSetSubscriptionActive))

	mux.HandleFunc("GET /api/reports/{cycle}", s.with(s.handleMonthReport))
	mux.HandleFunc("POST /api/imports/csv", s.with(s.handleImportCSV))

	return s
}

// with adds security headers, rate limiting on mutating methods, and request
// logging with a request id.
func (s *Server) with(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			s.log.WarnContext(ctx, "rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			respondJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}

		setSecurityHeaders(w)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.log.InfoContext(ctx, "request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DB().PingContext(r.Context()); err != nil {
		s.log.ErrorContext(r.Context(), "readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown stops the rate limiter janitor and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
