package repository

import (
	"context"
	"time"

	"github.com/toncenter/examples/internal/models"

	"gorm.io/gorm/clause"
)

// GetCursor loads the cursor of a stream
func (r *gormStore) GetCursor(ctx context.Context, streamKey string) (*models.LedgerCursor, error) {
	var cursor models.LedgerCursor
	if err := r.db.WithContext(ctx).Where("stream_key = ?", streamKey).First(&cursor).Error; err != nil {
		return nil, notFound(err, "cursor "+streamKey)
	}
	return &cursor, nil
}

// SaveCursor upserts the cursor of a stream
func (r *gormStore) SaveCursor(ctx context.Context, cursor *models.LedgerCursor) error {
	cursor.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stream_key"}},
			UpdateAll: true,
		}).
		Create(cursor).Error
}
