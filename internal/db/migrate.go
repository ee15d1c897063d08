package db

import (
	"marketplacer/internal/models"
)

// AutoMigrate creates the collector's own tables. The tokens table belongs to
// the dashboard and is never migrated from here.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.SyncState{},
		&models.CollectionLog{},
		&models.ManualTask{},
		&models.Product{},
		&models.Warehouse{},
		&models.WBSale{},
		&models.WBOrder{},
		&models.WBIncome{},
		&models.WBIncomeItem{},
		&models.WBStock{},
		&models.WBGood{},
		&models.OzonStock{},
		&models.OzonOrder{},
		&models.OzonSale{},
		&models.OzonSupplyOrder{},
		&models.OzonSupplyItem{},
	)
}
