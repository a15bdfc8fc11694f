package db

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/toncenter/examples/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func sequence(t *testing.T, db *gorm.DB, key string) uint64 {
	t.Helper()
	var seq models.Sequence
	if err := db.Where("seq_key = ?", key).Limit(1).Find(&seq).Error; err != nil {
		t.Fatalf("load sequence %s: %v", key, err)
	}
	return seq.Value
}

func TestMigrateRealignsSequencesOnEveryRun(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate on an empty schema: %v", err)
	}
	if v := sequence(t, db, models.SequenceBatchID); v != 0 {
		t.Fatalf("batch sequence = %d on an empty schema", v)
	}

	// rows restored after the first start, without their sequences
	leg := uint64(4)
	batchID := uint64(7)
	if err := db.Create(&models.Batch{ID: batchID, DispatchOutcome: models.DispatchOutcomePending, MemberOutcome: models.MemberOutcomeUnknown}).Error; err != nil {
		t.Fatalf("create batch: %v", err)
	}
	err := db.Create(&models.WithdrawalRequest{
		ID: "r1", Destination: "EQdest", Amount: "5", AssetKind: models.AssetKindJetton, JettonName: "usdt",
		BatchID: &batchID, LegQueryID: &leg, LegOutcome: models.LegOutcomeUnknown,
	}).Error
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if v := sequence(t, db, models.SequenceBatchID); v != 7 {
		t.Fatalf("batch sequence = %d, want 7", v)
	}
	if v := sequence(t, db, models.JettonSequenceKey("usdt")); v != 5 {
		t.Fatalf("usdt leg sequence = %d, want 5", v)
	}

	// a sequence ahead of the data is left alone
	if err := db.Save(&models.Sequence{Key: models.SequenceBatchID, Value: 20}).Error; err != nil {
		t.Fatalf("save sequence: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("third Migrate: %v", err)
	}
	if v := sequence(t, db, models.SequenceBatchID); v != 20 {
		t.Fatalf("batch sequence = %d, want 20", v)
	}
}

func TestBackfillOutcomes(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db.Exec("INSERT INTO withdrawal_batches (id, dispatch_outcome, member_outcome, superseded, created_at, updated_at) VALUES (3, '', '', false, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)").Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := RunDataMigrations(db); err != nil {
		t.Fatalf("RunDataMigrations: %v", err)
	}
	var b models.Batch
	if err := db.First(&b, 3).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if b.DispatchOutcome != models.DispatchOutcomePending || b.MemberOutcome != models.MemberOutcomeUnknown {
		t.Fatalf("outcomes = %q/%q", b.DispatchOutcome, b.MemberOutcome)
	}
}
