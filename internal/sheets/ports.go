// Package sheets defines the ports for the transaction mirror. The worker
// appends posted transactions to an external sheet and removes deleted ones;
// adapters live in the subpackages.
package sheets

import "context"

// MirrorRow is the flattened form of a transaction written to the sheet.
// Monetary values are fixed-point decimal strings, never floats.
type MirrorRow struct {
	TransactionID string
	OccurredOn    string // YYYY-MM-DD
	Type          string
	Amount        string // 2-decimal currency string
	Account       string
	Notes         string
}

type TransactionWriter interface {
	Append(ctx context.Context, row MirrorRow) (rowRef string, err error)
}

type TransactionRemover interface {
	Remove(ctx context.Context, transactionID string) error
}
