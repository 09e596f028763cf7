package core

import (
	"strings"
	"time"
)

type TransactionType string

const (
	TxExpense      TransactionType = "expense"
	TxIncome       TransactionType = "income"
	TxDebt         TransactionType = "debt"
	TxRepayment    TransactionType = "repayment"
	TxCashback     TransactionType = "cashback"
	TxSubscription TransactionType = "subscription"
	TxImport       TransactionType = "import"
	TxAdjustment   TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxExpense, TxIncome, TxDebt, TxRepayment, TxCashback, TxSubscription, TxImport, TxAdjustment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxActive   TransactionStatus = "active"
	TxPending  TransactionStatus = "pending"
	TxVoid     TransactionStatus = "void"
	TxCanceled TransactionStatus = "canceled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxActive, TxPending, TxVoid, TxCanceled:
		return true
	}
	return false
}

// Transaction is the underlying row every ledger movement references. It is
// owned by the lifecycle service and never written by the ledger engines.
type Transaction struct {
	ID             string
	AccountID      string
	PersonID       string // optional, empty means null
	CategoryID     string
	ShopID         string
	SubscriptionID string
	LinkedGroupID  string
	Type           TransactionType
	Status         TransactionStatus
	Amount         Money
	Fee            Money
	OccurredOn     time.Time
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrMissingAccount
	}
	if !t.Type.Valid() {
		return ErrInvalidMovementType
	}
	if !t.Status.Valid() {
		return ErrInvalidMovementType
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Fee.IsNegative() {
		return ErrInvalidAmount
	}
	if t.OccurredOn.IsZero() {
		return ErrValidation
	}
	return nil
}

type CashbackType string

const (
	CashbackPercent CashbackType = "percent"
	CashbackFixed   CashbackType = "fixed"
)

func (t CashbackType) Valid() bool {
	return t == CashbackPercent || t == CashbackFixed
}

type CashbackMovementStatus string

const (
	CashbackApplied     CashbackMovementStatus = "applied"
	CashbackInvalidated CashbackMovementStatus = "invalidated"
)

// CashbackMovement is an append-only cashback event. The only permitted
// mutation after insert is the applied -> invalidated status transition; the
// row itself is never deleted so the audit history survives rollbacks.
type CashbackMovement struct {
	ID            string
	TransactionID string
	AccountID     string
	Cycle         CycleTag
	Type          CashbackType
	ValueBps      int64 // 4-decimal fixed-point percent for "percent" type
	Amount        Money // computed monetary effect
	Status        CashbackMovementStatus
	BudgetCap     Money // cap snapshot at apply time
	Note          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m CashbackMovement) Validate() error {
	if strings.TrimSpace(m.TransactionID) == "" {
		return ErrMissingTransaction
	}
	if strings.TrimSpace(m.AccountID) == "" {
		return ErrMissingAccount
	}
	if err := m.Cycle.Validate(); err != nil {
		return err
	}
	if !m.Type.Valid() {
		return ErrInvalidMovementType
	}
	if m.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

type Eligibility string

const (
	Eligible    Eligibility = "eligible"
	NotEligible Eligibility = "not_eligible"
	ReachedCap  Eligibility = "reached_cap"
	PendingCap  Eligibility = "pending"
)

type LedgerStatus string

const (
	LedgerOpen   LedgerStatus = "open"
	LedgerClosed LedgerStatus = "closed"
)

// CashbackLedger is the per-(account, cycle) running aggregate. At most one
// row exists per key; it is created lazily on first movement and never
// deleted by the engines.
type CashbackLedger struct {
	ID              string
	AccountID       string
	Cycle           CycleTag
	TotalSpend      Money
	TotalCashback   Money
	BudgetCap       Money
	Eligibility     Eligibility
	RemainingBudget Money
	Status          LedgerStatus
	LastUpdated     time.Time
}

type DebtMovementType string

const (
	DebtBorrow   DebtMovementType = "borrow"
	DebtRepay    DebtMovementType = "repay"
	DebtAdjust   DebtMovementType = "adjust"
	DebtDiscount DebtMovementType = "discount"
	DebtSplit    DebtMovementType = "split"
)

func (t DebtMovementType) Valid() bool {
	switch t {
	case DebtBorrow, DebtRepay, DebtAdjust, DebtDiscount, DebtSplit:
		return true
	}
	return false
}

type DebtMovementStatus string

const (
	DebtActive   DebtMovementStatus = "active"
	DebtSettled  DebtMovementStatus = "settled"
	DebtReversed DebtMovementStatus = "reversed"
)

// Terminal reports whether a movement can no longer transition. Both settled
// and reversed are terminal states.
func (s DebtMovementStatus) Terminal() bool {
	return s == DebtSettled || s == DebtReversed
}

// DebtMovement records one borrow/repay/adjust/discount/split event between a
// person and the household. Amounts are always positive magnitudes; the
// movement type decides which ledger component they feed.
type DebtMovement struct {
	ID            string
	TransactionID string
	PersonID      string
	AccountID     string
	Type          DebtMovementType
	Amount        Money
	Cycle         CycleTag // empty selects the rolling ledger
	Status        DebtMovementStatus
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m DebtMovement) Validate() error {
	if strings.TrimSpace(m.PersonID) == "" {
		return ErrMissingPerson
	}
	if !m.Type.Valid() {
		return ErrInvalidMovementType
	}
	if err := m.Amount.Validate(); err != nil {
		return err
	}
	if !m.Cycle.IsZero() {
		if err := m.Cycle.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type DebtLedgerStatus string

const (
	DebtLedgerOpen    DebtLedgerStatus = "open"
	DebtLedgerPartial DebtLedgerStatus = "partial"
	DebtLedgerRepaid  DebtLedgerStatus = "repaid"
	DebtLedgerOverdue DebtLedgerStatus = "overdue"
)

// DebtLedger is the per-(person, cycle) net position. The component fields
// are the running totals; NetDebt is always recomputed from them, never from
// a rescan of the movements.
type DebtLedger struct {
	ID           string
	PersonID     string
	Cycle        CycleTag // empty = rolling "current" ledger
	InitialDebt  Money
	NewDebt      Money
	Repayments   Money
	DebtDiscount Money
	NetDebt      Money
	Status       DebtLedgerStatus
	LastUpdated  time.Time
	Notes        string
}

// NetOf computes the net debt formula from component cents:
// initial + new - repayments - discount.
func NetOf(initial, newDebt, repayments, discount int64) int64 {
	return initial + newDebt - repayments - discount
}

// DebtStatusOf derives the ledger status from the recomputed net: repaid once
// nothing is owed, open otherwise. Partial and overdue are administrative
// values and never produced by the engines.
func DebtStatusOf(netCents int64) DebtLedgerStatus {
	if netCents <= 0 {
		return DebtLedgerRepaid
	}
	return DebtLedgerOpen
}

type RepetitionType string

const (
	Monthly RepetitionType = "monthly"
	Yearly  RepetitionType = "yearly"
	Weekly  RepetitionType = "weekly"
	Daily   RepetitionType = "daily"
)

func (r RepetitionType) Valid() bool {
	switch r {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Reference entities. These are plain lookup rows; the engines only ever
// touch them through foreign keys on transactions and movements.
type (
	Account struct {
		ID        string
		Name      string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Person struct {
		ID        string
		Name      string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Category struct {
		ID        string
		Name      string
		Kind      string // expense / income
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Shop struct {
		ID        string
		Name      string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Subscription is a billing template: the subscription worker turns due
	// subscriptions into transactions of type "subscription".
	Subscription struct {
		ID           string
		Name         string
		AccountID    string
		PersonID     string // optional
		CategoryID   string // optional
		Amount       Money
		Every        RepetitionType
		StartDate    time.Time
		EndDate      time.Time // zero = open-ended
		LastBilledAt time.Time // zero = never billed
		Active       bool
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}
)

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (p Person) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(s.AccountID) == "" {
		return ErrMissingAccount
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if !s.Every.Valid() {
		return ErrValidation
	}
	if s.StartDate.IsZero() {
		return ErrValidation
	}
	if !s.EndDate.IsZero() && s.EndDate.Before(s.StartDate) {
		return ErrValidation
	}
	return nil
}
