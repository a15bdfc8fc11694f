package repository

import (
	"context"
	"fmt"

	"github.com/toncenter/examples/internal/models"

	"gorm.io/gorm"
)

// CreateRequest creates a new withdrawal request
func (r *gormStore) CreateRequest(ctx context.Context, request *models.WithdrawalRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// GetRequest retrieves a withdrawal request by ID
func (r *gormStore) GetRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, notFound(err, "withdrawal request "+id)
	}
	return &request, nil
}

// ListUnbatched returns the oldest requests that belong to no batch
func (r *gormStore) ListUnbatched(ctx context.Context, limit int) ([]*models.WithdrawalRequest, error) {
	var requests []*models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("batch_id IS NULL").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

// CountUnbatched counts requests waiting for a batch
func (r *gormStore) CountUnbatched(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("batch_id IS NULL").
		Count(&count).Error
	return count, err
}

// ListBatchMembers returns the members of a batch in payload order
func (r *gormStore) ListBatchMembers(ctx context.Context, batchID uint64) ([]*models.WithdrawalRequest, error) {
	var requests []*models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("position ASC").
		Find(&requests).Error
	return requests, err
}

// FindRequestByLeg finds the request owning a jetton leg query id
func (r *gormStore) FindRequestByLeg(ctx context.Context, jettonName string, legQueryID uint64) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("jetton_name = ? AND leg_query_id = ?", jettonName, legQueryID).
		First(&request).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("jetton %s leg %d", jettonName, legQueryID))
	}
	return &request, nil
}

// ListFailedLegs returns requests whose jetton leg failed and are still attached to a batch
func (r *gormStore) ListFailedLegs(ctx context.Context, limit int) ([]*models.WithdrawalRequest, error) {
	var requests []*models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Where("leg_outcome = ? AND batch_id IS NOT NULL", models.LegOutcomeFailed).
		Order("updated_at ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

// AssignRequests claims requests for a batch; all or nothing
func (r *gormStore) AssignRequests(ctx context.Context, batchID uint64, requestIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range requestIDs {
			result := tx.Model(&models.WithdrawalRequest{}).
				Where("id = ? AND batch_id IS NULL", id).
				Updates(map[string]interface{}{
					"batch_id": batchID,
					"position": i,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != 1 {
				return fmt.Errorf("request %s already batched: %w", id, ErrBatchConflict)
			}
		}
		return nil
	})
}

// SetLegQueryID records the jetton leg query id of a request
func (r *gormStore) SetLegQueryID(ctx context.Context, requestID string, legQueryID uint64) error {
	result := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("id = ?", requestID).
		Update("leg_query_id", legQueryID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("withdrawal request %s: %w", requestID, ErrNotFound)
	}
	return nil
}

// UpdateLegOutcome records the jetton leg settlement
func (r *gormStore) UpdateLegOutcome(ctx context.Context, requestID string, outcome models.LegOutcome, txRef string) error {
	return r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("id = ?", requestID).
		Updates(map[string]interface{}{
			"leg_outcome": outcome,
			"leg_tx":      txRef,
		}).Error
}

// ReleaseRequest returns a single request to the pool
func (r *gormStore) ReleaseRequest(ctx context.Context, requestID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("id = ?", requestID).
		Updates(releasedRequestFields())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("withdrawal request %s: %w", requestID, ErrNotFound)
	}
	return nil
}

func releasedRequestFields() map[string]interface{} {
	return map[string]interface{}{
		"batch_id":     nil,
		"position":     0,
		"leg_query_id": nil,
		"leg_outcome":  models.LegOutcomeUnknown,
		"leg_tx":       "",
	}
}
