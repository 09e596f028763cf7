// Package worker mirrors posted transactions to an external sheet. Events
// arrive over AMQP; a periodic sweep catches anything the broker dropped.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/sheets"
	"bilancio/internal/storage"
)

type MirrorWorker struct {
	repo      *storage.Repository
	writer    sheets.TransactionWriter
	remover   sheets.TransactionRemover
	batchSize int
	log       *slog.Logger
}

func NewMirrorWorker(repo *storage.Repository, writer sheets.TransactionWriter, remover sheets.TransactionRemover, batchSize int, log *slog.Logger) *MirrorWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &MirrorWorker{
		repo:      repo,
		writer:    writer,
		remover:   remover,
		batchSize: batchSize,
		log:       log,
	}
}

// HandleEvent processes one transaction event from the queue.
func (w *MirrorWorker) HandleEvent(ctx context.Context, msg *amqp.TransactionEventMessage) error {
	switch msg.Event {
	case amqp.EventPosted:
		return w.mirrorPosted(ctx, msg.TransactionID)
	case amqp.EventDeleted:
		return w.removeDeleted(ctx, msg.TransactionID)
	default:
		return fmt.Errorf("unknown event %q", msg.Event)
	}
}

func (w *MirrorWorker) mirrorPosted(ctx context.Context, transactionID string) error {
	tx, err := w.repo.GetTransaction(ctx, w.repo.DB(), transactionID)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted before the event was consumed; the delete event follows.
		w.log.WarnContext(ctx, "transaction gone before mirroring, skipping",
			"transaction_id", transactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	return w.mirrorTransaction(ctx, tx)
}

func (w *MirrorWorker) mirrorTransaction(ctx context.Context, tx core.Transaction) error {
	account := tx.AccountID
	if a, err := w.repo.GetAccount(ctx, tx.AccountID); err == nil {
		account = a.Name
	}

	row := sheets.MirrorRow{
		TransactionID: tx.ID,
		OccurredOn:    tx.OccurredOn.Format("2006-01-02"),
		Type:          string(tx.Type),
		Amount:        tx.Amount.String(),
		Account:       account,
		Notes:         tx.Notes,
	}
	ref, err := w.writer.Append(ctx, row)
	if err != nil {
		return fmt.Errorf("append to sheet: %w", err)
	}

	if err := w.repo.MarkTransactionMirrored(ctx, tx.ID, time.Now().UTC()); err != nil {
		// The append succeeded; the sweep may re-mirror this row once.
		w.log.ErrorContext(ctx, "failed to mark transaction mirrored",
			"transaction_id", tx.ID, "error", err)
	}

	w.log.InfoContext(ctx, "mirrored transaction",
		"transaction_id", tx.ID, "sheet_ref", ref, "amount_cents", tx.Amount.Cents)
	return nil
}

func (w *MirrorWorker) removeDeleted(ctx context.Context, transactionID string) error {
	if w.remover == nil {
		w.log.WarnContext(ctx, "no remover configured, skipping sheet removal",
			"transaction_id", transactionID)
		return nil
	}
	if err := w.remover.Remove(ctx, transactionID); err != nil {
		return fmt.Errorf("remove from sheet: %w", err)
	}
	w.log.InfoContext(ctx, "removed transaction from sheet", "transaction_id", transactionID)
	return nil
}

// CatchUpSweep mirrors active transactions that never made it to the sheet,
// recovering from lost events or worker downtime. Returns the number
// mirrored.
func (w *MirrorWorker) CatchUpSweep(ctx context.Context) (int, error) {
	pending, err := w.repo.ListUnmirroredTransactions(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unmirrored transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	w.log.InfoContext(ctx, "catch-up sweep found unmirrored transactions", "count", len(pending))

	mirrored := 0
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return mirrored, err
		}
		if err := w.mirrorTransaction(ctx, tx); err != nil {
			w.log.ErrorContext(ctx, "failed to mirror during sweep",
				"transaction_id", tx.ID, "error", err)
			continue
		}
		mirrored++
	}
	return mirrored, nil
}
