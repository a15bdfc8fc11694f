package repository

import (
	"context"
	"time"

	"github.com/toncenter/examples/internal/models"

	"gorm.io/gorm/clause"
)

// GetSequence loads a counter, 0 when absent
func (r *gormStore) GetSequence(ctx context.Context, key string) (uint64, error) {
	var seq models.Sequence
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("seq_key = ?", key).
		Limit(1).
		Find(&seq).Error
	if err != nil {
		return 0, err
	}
	return seq.Value, nil
}

// SetSequence upserts a counter
func (r *gormStore) SetSequence(ctx context.Context, key string, value uint64) error {
	seq := models.Sequence{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "seq_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&seq).Error
}
