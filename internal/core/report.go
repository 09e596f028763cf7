package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// PersonDebt is the net position of one person for a report cycle.
type PersonDebt struct {
	PersonID string
	Name     string
	NetDebt  Money
	Status   DebtLedgerStatus
}

// MonthReport is the aggregate view for one cycle: spending by category,
// cashback earned on each account, and outstanding debt per person.
type MonthReport struct {
	Cycle         CycleTag
	TotalExpenses Money
	TotalIncome   Money
	ByCategory    []CategoryAmount
	Cashback      []AccountCashback
	Debts         []PersonDebt
}

// AccountCashback summarizes one account's cashback ledger for the cycle.
type AccountCashback struct {
	AccountID       string
	Name            string
	TotalCashback   Money
	BudgetCap       Money
	RemainingBudget Money
	Eligibility     Eligibility
}
