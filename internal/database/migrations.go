package database

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationOplogObjectHistoryIndex = "2026-02-20_oplog_object_history_index"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationOplogObjectHistoryIndex, apply: createOplogObjectHistoryIndex},
	}

	for _, migration := range migrations {
		var records []migrationRecord
		lookup := db.Where("name = ?", migration.name).Limit(1).Find(&records)
		if lookup.Error != nil {
			return lookup.Error
		}
		if lookup.RowsAffected > 0 {
			continue
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// createOplogObjectHistoryIndex backs the per-object newest-entry lookups made
// by reconcileDeletedSnapshots and Store.LatestEntry.
func createOplogObjectHistoryIndex(db *gorm.DB) error {
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_oplog_obj_id_id ON oplog (obj_id, id)`).Error
}

// reconcileDeletedSnapshots drops snapshot rows whose newest log entry is a
// deletion. Such rows are left behind when a delete logged its entry but the
// snapshot removal failed. It runs on every open and returns the number of
// rows removed.
func reconcileDeletedSnapshots(db *gorm.DB) (int64, error) {
	result := db.Exec(`DELETE FROM current_objects WHERE obj_id IN (
		SELECT latest.obj_id FROM oplog AS latest
		WHERE latest.obj_data IS NULL
		AND latest.id = (SELECT MAX(entry.id) FROM oplog AS entry WHERE entry.obj_id = latest.obj_id)
	)`)
	return result.RowsAffected, result.Error
}
