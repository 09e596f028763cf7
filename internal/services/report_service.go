package services

import (
	"context"
	"log/slog"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// ReportService assembles the monthly view: spending by category, cashback
// per account, net debt per person. Responses are cached per cycle; the HTTP
// layer invalidates after every write.
type ReportService struct {
	repo  *storage.Repository
	cache *cache.Cache[core.MonthReport]
	log   *slog.Logger
}

func NewReportService(repo *storage.Repository, log *slog.Logger) *ReportService {
	return &ReportService{
		repo:  repo,
		cache: cache.New[core.MonthReport](24, 5*time.Minute),
		log:   log,
	}
}

func (s *ReportService) MonthReport(ctx context.Context, cycle core.CycleTag) (core.MonthReport, error) {
	if err := cycle.Validate(); err != nil {
		return core.MonthReport{}, err
	}
	if cached, ok := s.cache.Get(string(cycle)); ok {
		return cached, nil
	}

	expenses, income, err := s.repo.MonthTotals(ctx, cycle)
	if err != nil {
		return core.MonthReport{}, err
	}
	byCategory, err := s.repo.ExpensesByCategory(ctx, cycle)
	if err != nil {
		return core.MonthReport{}, err
	}
	cashback, err := s.repo.CashbackByAccount(ctx, cycle)
	if err != nil {
		return core.MonthReport{}, err
	}
	debts, err := s.repo.DebtsByPerson(ctx, cycle)
	if err != nil {
		return core.MonthReport{}, err
	}

	report := core.MonthReport{
		Cycle:         cycle,
		TotalExpenses: expenses,
		TotalIncome:   income,
		ByCategory:    byCategory,
		Cashback:      cashback,
		Debts:         debts,
	}
	s.cache.Set(string(cycle), report)
	s.log.InfoContext(ctx, "month report built",
		"cycle", string(cycle),
		"expenses_cents", expenses.Cents,
		"income_cents", income.Cents)
	return report, nil
}

// Invalidate drops all cached reports. Any write can shift any cycle's
// totals, so invalidation is wholesale rather than per key.
func (s *ReportService) Invalidate() {
	s.cache.Purge()
}

// StartJanitor runs background expiry until ctx is done.
func (s *ReportService) StartJanitor(ctx context.Context) {
	go s.cache.Janitor(ctx, time.Minute)
}
