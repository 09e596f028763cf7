package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/storage"
)

// CreateTransactionInput is the typed payload for creating a transaction.
// Intents carry the ledger side effects to apply in the same scope.
type CreateTransactionInput struct {
	ID             string // optional, generated when empty
	AccountID      string
	PersonID       string
	CategoryID     string
	ShopID         string
	SubscriptionID string
	LinkedGroupID  string
	Type           core.TransactionType
	Status         core.TransactionStatus
	Amount         core.Money
	Fee            core.Money
	OccurredOn     time.Time
	Notes          string
	Intents        ledger.Intents
}

// TransactionPatch updates a transaction field by field. Nil pointers leave
// the stored value untouched. Intents, when present, are re-applied through
// the posted hook; callers must not resubmit movement intent on unrelated
// updates or movements double-apply.
type TransactionPatch struct {
	AccountID  *string
	PersonID   *string
	CategoryID *string
	ShopID     *string
	Status     *core.TransactionStatus
	Amount     *core.Money
	Fee        *core.Money
	OccurredOn *time.Time
	Notes      *string
	Intents    ledger.Intents
}

// TransactionService is the transaction lifecycle manager. Every mutation
// runs the row write and its ledger effects in one database transaction, then
// publishes a non-blocking event for the mirror worker.
type TransactionService struct {
	repo         *storage.Repository
	orchestrator *ledger.Orchestrator
	amqpClient   *amqp.Client
	log          *slog.Logger
	now          func() time.Time
}

func NewTransactionService(repo *storage.Repository, orchestrator *ledger.Orchestrator, amqpClient *amqp.Client, log *slog.Logger) *TransactionService {
	return &TransactionService{
		repo:         repo,
		orchestrator: orchestrator,
		amqpClient:   amqpClient,
		log:          log,
		now:          time.Now,
	}
}

// Create inserts the transaction and applies its ledger effects atomically.
func (s *TransactionService) Create(ctx context.Context, in CreateTransactionInput) (core.Transaction, error) {
	now := s.now().UTC()
	status := in.Status
	if status == "" {
		status = core.TxActive
	}
	tx := core.Transaction{
		ID:             in.ID,
		AccountID:      in.AccountID,
		PersonID:       in.PersonID,
		CategoryID:     in.CategoryID,
		ShopID:         in.ShopID,
		SubscriptionID: in.SubscriptionID,
		LinkedGroupID:  in.LinkedGroupID,
		Type:           in.Type,
		Status:         status,
		Amount:         in.Amount,
		Fee:            in.Fee,
		OccurredOn:     in.OccurredOn,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := s.repo.WithTx(ctx, func(dbtx *sql.Tx) error {
		if err := s.repo.InsertTransaction(ctx, dbtx, tx); err != nil {
			return err
		}
		_, err := s.orchestrator.OnTransactionPosted(ctx, dbtx, tx, in.Intents)
		return err
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	s.log.InfoContext(ctx, "transaction created",
		"transaction_id", tx.ID, "type", string(tx.Type), "amount_cents", tx.Amount.Cents)
	s.publishEvent(ctx, amqp.NewTransactionPostedMessage(tx.ID))
	return tx, nil
}

// Update applies the patch and re-invokes the posted hook with the supplied
// intents, all in one scope.
func (s *TransactionService) Update(ctx context.Context, id string, patch TransactionPatch) (core.Transaction, error) {
	var updated core.Transaction
	err := s.repo.WithTx(ctx, func(dbtx *sql.Tx) error {
		tx, err := s.repo.GetTransaction(ctx, dbtx, id)
		if err != nil {
			return err
		}
		applyPatch(&tx, patch)
		tx.UpdatedAt = s.now().UTC()
		if err := tx.Validate(); err != nil {
			return err
		}
		if err := s.repo.UpdateTransaction(ctx, dbtx, tx); err != nil {
			return err
		}
		if _, err := s.orchestrator.OnTransactionPosted(ctx, dbtx, tx, patch.Intents); err != nil {
			return err
		}
		updated = tx
		return nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	s.log.InfoContext(ctx, "transaction updated", "transaction_id", id)
	s.publishEvent(ctx, amqp.NewTransactionPostedMessage(id))
	return updated, nil
}

func applyPatch(tx *core.Transaction, patch TransactionPatch) {
	if patch.AccountID != nil {
		tx.AccountID = *patch.AccountID
	}
	if patch.PersonID != nil {
		tx.PersonID = *patch.PersonID
	}
	if patch.CategoryID != nil {
		tx.CategoryID = *patch.CategoryID
	}
	if patch.ShopID != nil {
		tx.ShopID = *patch.ShopID
	}
	if patch.Status != nil {
		tx.Status = *patch.Status
	}
	if patch.Amount != nil {
		tx.Amount = *patch.Amount
	}
	if patch.Fee != nil {
		tx.Fee = *patch.Fee
	}
	if patch.OccurredOn != nil {
		tx.OccurredOn = *patch.OccurredOn
	}
	if patch.Notes != nil {
		tx.Notes = *patch.Notes
	}
}

// Delete rolls back every live ledger movement referencing the transaction,
// then removes the row, atomically. Returns the deleted row.
func (s *TransactionService) Delete(ctx context.Context, id string) (core.Transaction, error) {
	var deleted core.Transaction
	err := s.repo.WithTx(ctx, func(dbtx *sql.Tx) error {
		tx, err := s.repo.GetTransaction(ctx, dbtx, id)
		if err != nil {
			return err
		}
		if err := s.orchestrator.OnTransactionDeleted(ctx, dbtx, id); err != nil {
			return err
		}
		if err := s.repo.DeleteTransaction(ctx, dbtx, id); err != nil {
			return err
		}
		deleted = tx
		return nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("delete transaction: %w", err)
	}

	s.log.InfoContext(ctx, "transaction deleted", "transaction_id", id)
	s.publishEvent(ctx, amqp.NewTransactionDeletedMessage(id))
	return deleted, nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (core.Transaction, error) {
	return s.repo.GetTransaction(ctx, s.repo.DB(), id)
}

func (s *TransactionService) List(ctx context.Context, filter storage.TransactionFilter) ([]core.Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// publishEvent is fire-and-forget: a broker outage never fails the request,
// the mirror worker catches up from the database on its periodic sweep.
func (s *TransactionService) publishEvent(ctx context.Context, msg *amqp.TransactionEventMessage) {
	if s.amqpClient == nil {
		return
	}
	if err := s.amqpClient.PublishTransactionEvent(ctx, msg); err != nil {
		s.log.ErrorContext(ctx, "failed to publish transaction event",
			"transaction_id", msg.TransactionID, "event", msg.Event, "error", err)
	}
}

// Close closes the service's connections.
func (s *TransactionService) Close() error {
	var errs []error
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close transaction service: %v", errs)
	}
	return nil
}
