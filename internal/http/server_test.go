package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"bilancio/internal/ledger"
	"bilancio/internal/services"
	"bilancio/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cashback := ledger.NewCashbackEngine(repo, log)
	debt := ledger.NewDebtEngine(repo, log)
	orchestrator := ledger.NewOrchestrator(cashback, debt, log)
	transactions := services.NewTransactionService(repo, orchestrator, nil, log)
	reports := services.NewReportService(repo, log)
	importer := services.NewImportService(repo, transactions, log)

	return NewServer("127.0.0.1:0", repo, transactions, reports, importer, cashback, debt, orchestrator, log)
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func createAccount(t *testing.T, handler http.Handler, name string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/accounts", `{"name":"`+name+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &resp)
	return resp.ID
}

func createPerson(t *testing.T, handler http.Handler, name string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/people", `{"name":"`+name+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create person status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &resp)
	return resp.ID
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.Handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	rec = doJSON(t, s.Handler, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	s := newTestServer(t)
	accountID := createAccount(t, s.Handler, "main")
	personID := createPerson(t, s.Handler, "alex")

	body := `{
		"account_id": "` + accountID + `",
		"type": "debt",
		"amount": "120.00",
		"occurred_on": "2025-03-10",
		"notes": "loan",
		"debts": [{"person_id": "` + personID + `", "type": "borrow", "cycle": "2025-03"}]
	}`
	rec := doJSON(t, s.Handler, http.MethodPost, "/api/transactions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created transactionJSON
	decodeBody(t, rec, &created)
	if created.Amount != "120.00" || created.Status != "active" {
		t.Errorf("created = %+v", created)
	}

	// Debt ledger reflects the borrow.
	rec = doJSON(t, s.Handler, http.MethodGet, "/api/debts/balance?person_id="+personID+"&cycle=2025-03", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("debt balance status = %d, body %s", rec.Code, rec.Body.String())
	}
	var balance struct {
		NetDebt string `json:"net_debt"`
	}
	decodeBody(t, rec, &balance)
	if balance.NetDebt != "120.00" {
		t.Errorf("net debt = %s, want 120.00", balance.NetDebt)
	}

	// Fetch and list.
	rec = doJSON(t, s.Handler, http.MethodGet, "/api/transactions/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get transaction = %d", rec.Code)
	}
	rec = doJSON(t, s.Handler, http.MethodGet, "/api/transactions?account_id="+accountID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("list transactions = %d", rec.Code)
	}

	// Patch the notes only; no intents, so ledgers stay untouched.
	rec = doJSON(t, s.Handler, http.MethodPatch, "/api/transactions/"+created.ID, `{"notes":"loan for rent"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated transactionJSON
	decodeBody(t, rec, &updated)
	if updated.Notes != "loan for rent" {
		t.Errorf("notes = %q", updated.Notes)
	}

	// Delete unwinds the ledger.
	rec = doJSON(t, s.Handler, http.MethodDelete, "/api/transactions/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s.Handler, http.MethodGet, "/api/debts/balance?person_id="+personID+"&cycle=2025-03", "")
	decodeBody(t, rec, &balance)
	if balance.NetDebt != "0.00" {
		t.Errorf("net debt after delete = %s, want 0.00", balance.NetDebt)
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/api/transactions/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", rec.Code)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	s := newTestServer(t)
	accountID := createAccount(t, s.Handler, "main")

	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "malformed json",
			body: `{"account_id": `,
			want: http.StatusBadRequest,
		},
		{
			name: "negative amount",
			body: `{"account_id":"` + accountID + `","type":"expense","amount":"-5.00","occurred_on":"2025-03-10"}`,
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "bad date",
			body: `{"account_id":"` + accountID + `","type":"expense","amount":"5.00","occurred_on":"10/03/2025"}`,
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "cashback intent on expense",
			body: `{"account_id":"` + accountID + `","type":"expense","amount":"5.00","occurred_on":"2025-03-10","cashback":{"type":"percent","rate":"5.0"}}`,
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown field",
			body: `{"account_id":"` + accountID + `","type":"expense","amount":"5.00","occurred_on":"2025-03-10","bogus":true}`,
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler, http.MethodPost, "/api/transactions", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCashbackFlowAndReport(t *testing.T) {
	s := newTestServer(t)
	accountID := createAccount(t, s.Handler, "main")

	body := `{
		"account_id": "` + accountID + `",
		"type": "cashback",
		"amount": "100.00",
		"occurred_on": "2025-03-05",
		"cashback": {"type": "percent", "rate": "5.0"}
	}`
	rec := doJSON(t, s.Handler, http.MethodPost, "/api/transactions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/api/cashback/balance?account_id="+accountID+"&cycle=2025-03", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d, body %s", rec.Code, rec.Body.String())
	}
	var balance struct {
		Balance string `json:"balance"`
	}
	decodeBody(t, rec, &balance)
	if balance.Balance != "5.00" {
		t.Errorf("cashback balance = %s, want 5.00", balance.Balance)
	}

	// Raising the cap flips eligibility.
	rec = doJSON(t, s.Handler, http.MethodPut, "/api/cashback/budget-cap",
		`{"account_id":"`+accountID+`","cycle":"2025-03","budget_cap":"10.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("budget cap status = %d, body %s", rec.Code, rec.Body.String())
	}
	var capped cashbackLedgerJSON
	decodeBody(t, rec, &capped)
	if capped.Eligibility != "eligible" {
		t.Errorf("eligibility = %s, want eligible", capped.Eligibility)
	}
	if capped.RemainingBudget != "5.00" {
		t.Errorf("remaining budget = %s, want 5.00", capped.RemainingBudget)
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/api/reports/2025-03", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report monthReportJSON
	decodeBody(t, rec, &report)
	if len(report.Cashback) != 1 || report.Cashback[0].TotalCashback != "5.00" {
		t.Errorf("report cashback = %+v", report.Cashback)
	}
}

func TestAdminMovementEndpoints(t *testing.T) {
	s := newTestServer(t)
	accountID := createAccount(t, s.Handler, "main")
	personID := createPerson(t, s.Handler, "alex")

	// A bare debt transaction, posted without ledger intents.
	rec := doJSON(t, s.Handler, http.MethodPost, "/api/transactions",
		`{"account_id":"`+accountID+`","type":"debt","amount":"40.00","occurred_on":"2025-03-10"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created transactionJSON
	decodeBody(t, rec, &created)

	rec = doJSON(t, s.Handler, http.MethodPost, "/api/debts/movements",
		`{"transaction_id":"`+created.ID+`","debt":{"person_id":"`+personID+`","type":"borrow","cycle":"2025-03"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create debt movement status = %d, body %s", rec.Code, rec.Body.String())
	}
	var movement struct {
		MovementID string `json:"movement_id"`
		Status     string `json:"status"`
	}
	decodeBody(t, rec, &movement)
	if movement.MovementID == "" || movement.Status != "applied" {
		t.Fatalf("movement = %+v", movement)
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/api/debts/balance?person_id="+personID+"&cycle=2025-03", "")
	var balance struct {
		NetDebt string `json:"net_debt"`
	}
	decodeBody(t, rec, &balance)
	if balance.NetDebt != "40.00" {
		t.Errorf("net debt = %s, want 40.00", balance.NetDebt)
	}

	// The same type checks as the create flow apply: cashback only lands on
	// cashback transactions.
	rec = doJSON(t, s.Handler, http.MethodPost, "/api/cashback/movements",
		`{"transaction_id":"`+created.ID+`","cashback":{"type":"percent","rate":"5.0"}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("cashback on debt transaction status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.Handler, http.MethodPost, "/api/debts/movements/"+movement.MovementID+"/rollback", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s.Handler, http.MethodGet, "/api/debts/balance?person_id="+personID+"&cycle=2025-03", "")
	decodeBody(t, rec, &balance)
	if balance.NetDebt != "0.00" {
		t.Errorf("net debt after rollback = %s, want 0.00", balance.NetDebt)
	}

	rec = doJSON(t, s.Handler, http.MethodPost, "/api/cashback/movements",
		`{"transaction_id":"missing","cashback":{"type":"percent","rate":"5.0"}}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("movement for missing transaction status = %d, want 404", rec.Code)
	}
}

func TestMonthReportRejectsBadCycle(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler, http.MethodGet, "/api/reports/March-2025", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestImportCSVEndpoint(t *testing.T) {
	s := newTestServer(t)
	accountID := createAccount(t, s.Handler, "main")

	csv := "date,amount,category,notes\n" +
		"2025-03-01,12.50,groceries,weekly shop\n" +
		"2025-03-02,not-a-number,,bad row\n" +
		"2025-03-03,8.00,,coffee\n"
	req := httptest.NewRequest(http.MethodPost, "/api/imports/csv?account_id="+accountID, strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result services.ImportResult
	decodeBody(t, rec, &result)
	if result.Imported != 2 {
		t.Errorf("imported = %d, want 2", result.Imported)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}

	rec = doJSON(t, s.Handler, http.MethodGet, "/api/transactions?account_id="+accountID+"&type=import", "")
	var list struct {
		Transactions []transactionJSON `json:"transactions"`
	}
	decodeBody(t, rec, &list)
	if len(list.Transactions) != 2 {
		t.Errorf("imported transactions = %d, want 2", len(list.Transactions))
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3)
	defer rl.stop()

	for i := 0; i < 3; i++ {
		if !rl.allow("10.1.1.1") {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	if rl.allow("10.1.1.1") {
		t.Error("fourth request should be limited")
	}
	// A different client has its own window.
	if !rl.allow("10.1.1.2") {
		t.Error("other client should be allowed")
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:1234",
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded via trusted proxy",
			remoteAddr: "127.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded header from untrusted peer is ignored",
			remoteAddr: "203.0.113.9:1234",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.1"},
			want:       "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Errorf("extractClientIP() = %s, want %s", got, tt.want)
			}
		})
	}
}
