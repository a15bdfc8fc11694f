package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/toncenter/examples/internal/models"
)

// DataMigration an idempotent data repair. Every repair runs on each Migrate,
// so it also covers databases restored or imported after the first start.
type DataMigration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Align batch_id sequence with existing batches",
			Up:          alignBatchSequence,
		},
		{
			Version:     "data_002",
			Description: "Align jetton leg sequences with assigned leg ids",
			Up:          alignLegSequences,
		},
		{
			Version:     "data_003",
			Description: "Backfill empty outcome columns",
			Up:          backfillOutcomes,
		},
	}
}

// advanceSequence raises the stored value of key to at least atLeast
func advanceSequence(tx *gorm.DB, key string, atLeast uint64) error {
	var seq models.Sequence
	err := tx.Where("seq_key = ?", key).First(&seq).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if seq.Value >= atLeast {
		return nil
	}
	logrus.Warnf("⚠️ Sequence %s at %d is behind stored data, advancing to %d", key, seq.Value, atLeast)
	return tx.Save(&models.Sequence{Key: key, Value: atLeast, UpdatedAt: time.Now()}).Error
}

// alignBatchSequence keeps batch ids unique on databases restored without the sequences table
func alignBatchSequence(tx *gorm.DB) error {
	var maxID uint64
	if err := tx.Model(&models.Batch{}).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
		return err
	}
	if maxID == 0 {
		return nil
	}
	// batch ids are sequence value + 1
	return advanceSequence(tx, models.SequenceBatchID, maxID)
}

// alignLegSequences keeps jetton leg ids unique per jetton
func alignLegSequences(tx *gorm.DB) error {
	var rows []struct {
		JettonName string
		MaxLeg     uint64
	}
	err := tx.Model(&models.WithdrawalRequest{}).
		Select("jetton_name, MAX(leg_query_id) AS max_leg").
		Where("leg_query_id IS NOT NULL").
		Group("jetton_name").
		Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := advanceSequence(tx, models.JettonSequenceKey(row.JettonName), row.MaxLeg+1); err != nil {
			return err
		}
	}
	return nil
}

func backfillOutcomes(tx *gorm.DB) error {
	if err := tx.Model(&models.WithdrawalRequest{}).
		Where("leg_outcome = '' OR leg_outcome IS NULL").
		Update("leg_outcome", models.LegOutcomeUnknown).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Batch{}).
		Where("dispatch_outcome = '' OR dispatch_outcome IS NULL").
		Update("dispatch_outcome", models.DispatchOutcomePending).Error; err != nil {
		return err
	}
	return tx.Model(&models.Batch{}).
		Where("member_outcome = '' OR member_outcome IS NULL").
		Update("member_outcome", models.MemberOutcomeUnknown).Error
}

// RunDataMigrations applies every data migration, each in its own transaction
func RunDataMigrations(db *gorm.DB) error {
	for _, migration := range GetDataMigrations() {
		logrus.Debugf("🚀 Running data migration %s: %s", migration.Version, migration.Description)
		if err := db.Transaction(migration.Up); err != nil {
			return fmt.Errorf("data migration %s: %w", migration.Version, err)
		}
	}
	return nil
}
