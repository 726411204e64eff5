package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Pending and submitted records are what submit and poll runs scan for.
func addTestRecordsOpenIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_test_records_open_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_test_records_open ON test_records (batch_id, status) WHERE status IN ('PENDING', 'SUBMITTED')`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_test_records_open`).Error
		},
	}
}
