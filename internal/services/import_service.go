package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/storage"
)

// ImportResult summarizes one CSV import run.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportService parses bank-export CSV rows (date,amount,category,notes) and
// feeds each through the lifecycle manager as type import, so ledger effects
// and events apply the same way as manual entries.
type ImportService struct {
	repo         *storage.Repository
	transactions *TransactionService
	log          *slog.Logger
}

func NewImportService(repo *storage.Repository, transactions *TransactionService, log *slog.Logger) *ImportService {
	return &ImportService{repo: repo, transactions: transactions, log: log}
}

// ImportCSV reads rows from r and creates one import transaction per row on
// the given account. A malformed row is skipped and reported, not fatal.
func (s *ImportService) ImportCSV(ctx context.Context, accountID string, r io.Reader) (ImportResult, error) {
	if strings.TrimSpace(accountID) == "" {
		return ImportResult{}, core.ErrMissingAccount
	}
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return ImportResult{}, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var result ImportResult
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read csv: %w", err)
		}
		line++
		if line == 1 && isHeaderRow(record) {
			continue
		}

		if err := s.importRow(ctx, accountID, record); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		result.Imported++
	}

	s.log.InfoContext(ctx, "csv import finished",
		"account_id", accountID,
		"imported", result.Imported,
		"skipped", result.Skipped)
	return result, nil
}

func isHeaderRow(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(record[0]))
	return first == "date" || first == "data"
}

func (s *ImportService) importRow(ctx context.Context, accountID string, record []string) error {
	if len(record) < 2 {
		return fmt.Errorf("expected at least date and amount columns: %w", core.ErrValidation)
	}

	occurredOn, err := time.Parse("2006-01-02", strings.TrimSpace(record[0]))
	if err != nil {
		return fmt.Errorf("%w: bad date %q", core.ErrValidation, record[0])
	}
	amount, err := core.ParseAmount(strings.TrimSpace(record[1]))
	if err != nil {
		return err
	}

	var categoryID string
	if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
		cat, err := s.repo.GetOrCreateCategory(ctx,
			strings.TrimSpace(record[2]), "expense", uuid.NewString(), time.Now().UTC())
		if err != nil {
			return err
		}
		categoryID = cat.ID
	}
	var notes string
	if len(record) > 3 {
		notes = strings.TrimSpace(record[3])
	}

	_, err = s.transactions.Create(ctx, CreateTransactionInput{
		AccountID:  accountID,
		CategoryID: categoryID,
		Type:       core.TxImport,
		Status:     core.TxActive,
		Amount:     amount,
		OccurredOn: occurredOn,
		Notes:      notes,
		Intents:    ledger.Intents{},
	})
	return err
}
