package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createBatchesTable(),
		createTestRecordsTable(),
		addTestRecordsOpenIndex(),
		addTestRecordsPlacementsColumn(),
	})

	return m.Migrate()
}
