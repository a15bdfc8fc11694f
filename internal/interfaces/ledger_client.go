package interfaces

import (
	"context"

	"github.com/toncenter/examples/internal/types"
)

// LedgerClient defines the ledger access the withdrawal engine needs
// This interface is used to break the dependency between services and the HTTP API client
type LedgerClient interface {
	// SendBoc submits a serialized external message. Success only means the
	// message was accepted for broadcast, not that it executed.
	SendBoc(ctx context.Context, boc []byte) error

	// GetTransactions returns up to limit transactions of address, newest first,
	// starting at from (inclusive) or at the latest transaction when from is nil.
	GetTransactions(ctx context.Context, address string, limit int, from *types.TransactionID, archival bool) ([]types.Transaction, error)

	// GetLedgerTime returns the unix time the API node is synced to
	GetLedgerTime(ctx context.Context, address string) (int64, error)
}
