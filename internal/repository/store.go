package repository

import (
	"context"
	"errors"

	"github.com/toncenter/examples/internal/models"
)

var (
	// ErrNotFound the requested row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrBatchConflict a batch write lost a race or would break batch membership
	ErrBatchConflict = errors.New("batch conflict")
)

// WithdrawalRequestRepository defines data access for withdrawal requests
type WithdrawalRequestRepository interface {
	CreateRequest(ctx context.Context, request *models.WithdrawalRequest) error
	GetRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	ListUnbatched(ctx context.Context, limit int) ([]*models.WithdrawalRequest, error)
	CountUnbatched(ctx context.Context) (int64, error)
	ListBatchMembers(ctx context.Context, batchID uint64) ([]*models.WithdrawalRequest, error)
	FindRequestByLeg(ctx context.Context, jettonName string, legQueryID uint64) (*models.WithdrawalRequest, error)
	ListFailedLegs(ctx context.Context, limit int) ([]*models.WithdrawalRequest, error)

	// AssignRequests claims still-unbatched requests for a batch, in the given order.
	// Returns ErrBatchConflict if any of them is already owned by a batch.
	AssignRequests(ctx context.Context, batchID uint64, requestIDs []string) error
	SetLegQueryID(ctx context.Context, requestID string, legQueryID uint64) error
	UpdateLegOutcome(ctx context.Context, requestID string, outcome models.LegOutcome, txRef string) error
	ReleaseRequest(ctx context.Context, requestID string) error
}

// BatchRepository defines data access for batches
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id uint64) (*models.Batch, error)
	FindBatchByQuery(ctx context.Context, queryID uint32, createdAt int64) (*models.Batch, error)
	// ListLiveBatches returns non-superseded batches that are not yet dispatched,
	// or dispatched without an observed member settlement.
	ListLiveBatches(ctx context.Context, limit int) ([]*models.Batch, error)
	ListBatchesForReview(ctx context.Context, limit int) ([]*models.Batch, error)

	StampBatch(ctx context.Context, id uint64, queryID uint32, createdAt int64) error
	// SupersedeBatch marks the batch superseded and clears batch membership,
	// leg ids and leg outcomes of all its members.
	SupersedeBatch(ctx context.Context, id uint64) error
	// SupersedeLiveBatch is SupersedeBatch guarded by the ListLiveBatches
	// condition; a batch the reconciler already resolved yields ErrBatchConflict.
	SupersedeLiveBatch(ctx context.Context, id uint64) error
	UpdateDispatchOutcome(ctx context.Context, id uint64, outcome models.DispatchOutcome, txRef string) error
	UpdateMemberOutcome(ctx context.Context, id uint64, outcome models.MemberOutcome, txRef string) error
	FlagForReview(ctx context.Context, id uint64, reason string) error
	MarkReviewed(ctx context.Context, id uint64) error
}

// CursorRepository persists per-stream ledger cursors
type CursorRepository interface {
	// GetCursor returns ErrNotFound when the stream has never been read
	GetCursor(ctx context.Context, streamKey string) (*models.LedgerCursor, error)
	SaveCursor(ctx context.Context, cursor *models.LedgerCursor) error
}

// SequenceRepository persists exclusively owned counters
type SequenceRepository interface {
	// GetSequence returns 0 for a sequence that was never written
	GetSequence(ctx context.Context, key string) (uint64, error)
	SetSequence(ctx context.Context, key string, value uint64) error
}

// Store is the full persistence boundary of the withdrawal engine
type Store interface {
	WithdrawalRequestRepository
	BatchRepository
	CursorRepository
	SequenceRepository

	// Transaction runs fn atomically; any error rolls back every write made through tx
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// NextSequence returns the current value of a sequence and persists its successor
func NextSequence(ctx context.Context, store SequenceRepository, key string) (uint64, error) {
	current, err := store.GetSequence(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := store.SetSequence(ctx, key, current+1); err != nil {
		return 0, err
	}
	return current, nil
}
