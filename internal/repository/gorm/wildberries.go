package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplacer/internal/models"
)

func (s *Store) InsertWBSalesTx(ctx context.Context, tx *gorm.DB, items []models.WBSale) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "srid"}},
		DoNothing: true,
	}), items, 200)
}

// UpsertWBOrdersTx inserts new orders and refreshes the cancellation
// fields of known ones.
func (s *Store) UpsertWBOrdersTx(ctx context.Context, tx *gorm.DB, items []models.WBOrder) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "srid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_cancel",
			"cancel_date",
			"last_change_date",
			"updated_at",
		}),
	}), items, 200)
}

func (s *Store) UpsertWBIncomeTx(ctx context.Context, tx *gorm.DB, item *models.WBIncome) (*models.WBIncome, error) {
	if s == nil || s.db == nil || item == nil {
		return nil, nil
	}
	db := s.conn(ctx, tx)
	row := *item
	row.ID = 0
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}, {Name: "income_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_change_date", "status"}),
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	if row.ID != 0 {
		return &row, nil
	}
	var out models.WBIncome
	if err := db.Where("token_id = ? AND income_id = ?", item.TokenID, item.IncomeID).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) InsertWBIncomeItemsTx(ctx context.Context, tx *gorm.DB, items []models.WBIncomeItem) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "income_id"}, {Name: "product_id"}},
		DoNothing: true,
	}), items, 200)
}

func (s *Store) UpsertWBStocksTx(ctx context.Context, tx *gorm.DB, items []models.WBStock) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_id"}, {Name: "product_id"}, {Name: "warehouse_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"barcode",
			"tech_size",
			"quantity",
			"in_way_to_client",
			"in_way_from_client",
			"quantity_full",
			"price",
			"discount",
			"last_change_date",
			"updated_at",
		}),
	}), items, 200)
	return err
}

func (s *Store) UpsertWBGoodsTx(ctx context.Context, tx *gorm.DB, items []models.WBGood) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "barcode"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"token_id",
			"nm_id",
			"vendor_code",
			"brand",
			"title",
			"subject_name",
			"tech_size",
			"wb_size",
			"photos",
			"card_created_at",
			"card_updated_at",
			"updated_at",
		}),
	}), items, 200)
	return err
}

func (s *Store) EarliestWBIncomeDate(ctx context.Context, tokenID uint) (*time.Time, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var row struct {
		Earliest *time.Time
	}
	if err := s.db.WithContext(ctx).
		Model(&models.WBIncome{}).
		Select("MIN(date) AS earliest").
		Where("token_id = ?", tokenID).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	return row.Earliest, nil
}

func (s *Store) HasWBStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.WBStock{}).
		Where("token_id = ? AND date = ?", tokenID, day.Format("2006-01-02")).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
