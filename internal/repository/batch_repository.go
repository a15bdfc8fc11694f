package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/toncenter/examples/internal/models"

	"gorm.io/gorm"
)

// CreateBatch inserts a new, unsubmitted batch
func (r *gormStore) CreateBatch(ctx context.Context, batch *models.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// GetBatch retrieves a batch by ID
func (r *gormStore) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	var batch models.Batch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("batch %d", id))
	}
	return &batch, nil
}

// FindBatchByQuery finds a batch by its highload dedup key
func (r *gormStore) FindBatchByQuery(ctx context.Context, queryID uint32, createdAt int64) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).
		Where("query_id = ? AND query_created_at = ?", queryID, createdAt).
		First(&batch).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("batch with query %d/%d", queryID, createdAt))
	}
	return &batch, nil
}

// liveBatches restricts a query to batches that are not superseded and not
// yet resolved by the reconciler
func liveBatches(db *gorm.DB) *gorm.DB {
	return db.Where("superseded = ? AND (dispatch_outcome = ? OR (dispatch_outcome = ? AND member_outcome = ?))",
		false, models.DispatchOutcomePending, models.DispatchOutcomeAckNonEmpty, models.MemberOutcomeUnknown)
}

// ListLiveBatches returns batches the submitter still has to look at
func (r *gormStore) ListLiveBatches(ctx context.Context, limit int) ([]*models.Batch, error) {
	var batches []*models.Batch
	err := r.db.WithContext(ctx).
		Scopes(liveBatches).
		Order("id ASC").
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

// ListBatchesForReview returns escalated batches not yet handled by an operator
func (r *gormStore) ListBatchesForReview(ctx context.Context, limit int) ([]*models.Batch, error) {
	var batches []*models.Batch
	err := r.db.WithContext(ctx).
		Where("review_reason <> '' AND reviewed_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

// StampBatch sets the dedup identifiers; only allowed once
func (r *gormStore) StampBatch(ctx context.Context, id uint64, queryID uint32, createdAt int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ? AND query_id IS NULL", id).
		Updates(map[string]interface{}{
			"query_id":         queryID,
			"query_created_at": createdAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("batch %d already stamped or missing: %w", id, ErrBatchConflict)
	}
	return nil
}

// SupersedeBatch marks the batch superseded and releases its members
func (r *gormStore) SupersedeBatch(ctx context.Context, id uint64) error {
	return r.supersede(ctx, id, func(db *gorm.DB) *gorm.DB {
		return db.Where("superseded = ?", false)
	})
}

// SupersedeLiveBatch supersedes the batch only while it is still live
func (r *gormStore) SupersedeLiveBatch(ctx context.Context, id uint64) error {
	return r.supersede(ctx, id, liveBatches)
}

func (r *gormStore) supersede(ctx context.Context, id uint64, guard func(*gorm.DB) *gorm.DB) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Batch{}).
			Scopes(guard).
			Where("id = ?", id).
			Update("superseded", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return fmt.Errorf("batch %d is resolved, superseded or missing: %w", id, ErrBatchConflict)
		}
		return tx.Model(&models.WithdrawalRequest{}).
			Where("batch_id = ?", id).
			Updates(releasedRequestFields()).Error
	})
}

// UpdateDispatchOutcome records what the external message did
func (r *gormStore) UpdateDispatchOutcome(ctx context.Context, id uint64, outcome models.DispatchOutcome, txRef string) error {
	return r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dispatch_outcome": outcome,
			"dispatch_tx":      txRef,
		}).Error
}

// UpdateMemberOutcome records what the internal_transfer did
func (r *gormStore) UpdateMemberOutcome(ctx context.Context, id uint64, outcome models.MemberOutcome, txRef string) error {
	return r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"member_outcome": outcome,
			"member_tx":      txRef,
		}).Error
}

// FlagForReview escalates a batch to operators
func (r *gormStore) FlagForReview(ctx context.Context, id uint64, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"review_reason": reason,
			"reviewed_at":   nil,
		}).Error
}

// MarkReviewed closes an escalation
func (r *gormStore) MarkReviewed(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ?", id).
		Update("reviewed_at", time.Now()).Error
}
