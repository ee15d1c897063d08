package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplacer/internal/models"
)

func (s *Store) UpsertOzonStocksTx(ctx context.Context, tx *gorm.DB, items []models.OzonStock) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_id"}, {Name: "product_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"offer_id",
			"product_sku",
			"fbo_present",
			"fbo_reserved",
			"fbs_present",
			"fbs_reserved",
			"updated_at",
		}),
	}), items, 200)
	return err
}

// UpsertOzonOrdersTx refreshes status and money of known posting lines.
func (s *Store) UpsertOzonOrdersTx(ctx context.Context, tx *gorm.DB, items []models.OzonOrder) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "posting_number"}, {Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"shipment_date",
			"commission_amount",
			"commission_percent",
			"payout",
			"updated_at",
		}),
	}), items, 200)
}

func (s *Store) InsertOzonSalesTx(ctx context.Context, tx *gorm.DB, items []models.OzonSale) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	return insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "operation_id"}},
		DoNothing: true,
	}), items, 200)
}

func (s *Store) KnownOzonSupplyOrderIDs(ctx context.Context, tokenID uint, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	ids = cleanStrings(ids)
	if s == nil || s.db == nil || len(ids) == 0 {
		return out, nil
	}
	var known []string
	if err := s.db.WithContext(ctx).
		Model(&models.OzonSupplyOrder{}).
		Where("token_id = ? AND supply_order_id IN ?", tokenID, ids).
		Pluck("supply_order_id", &known).Error; err != nil {
		return nil, err
	}
	for _, id := range known {
		out[id] = true
	}
	return out, nil
}

func (s *Store) UpsertOzonSupplyOrderTx(ctx context.Context, tx *gorm.DB, item *models.OzonSupplyOrder) (*models.OzonSupplyOrder, error) {
	if s == nil || s.db == nil || item == nil {
		return nil, nil
	}
	db := s.conn(ctx, tx)
	row := *item
	row.ID = 0
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_id"}, {Name: "supply_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"supply_order_number",
			"warehouse_id",
			"bundle_id",
			"timeslot_from",
			"updated_at_api",
			"status",
			"warehouse_name_api",
		}),
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	if row.ID != 0 {
		return &row, nil
	}
	var out models.OzonSupplyOrder
	if err := db.Where("token_id = ? AND supply_order_id = ?", item.TokenID, item.SupplyOrderID).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) UpsertOzonSupplyItemsTx(ctx context.Context, tx *gorm.DB, items []models.OzonSupplyItem) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := insertInBatches(s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "supply_order_id"}, {Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "barcode", "name"}),
	}), items, 200)
	return err
}

func (s *Store) EarliestOzonSupplyTimeslot(ctx context.Context, tokenID uint) (*time.Time, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var row struct {
		Earliest *time.Time
	}
	if err := s.db.WithContext(ctx).
		Model(&models.OzonSupplyOrder{}).
		Select("MIN(timeslot_from) AS earliest").
		Where("token_id = ?", tokenID).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	return row.Earliest, nil
}

func (s *Store) HasOzonStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.OzonStock{}).
		Where("token_id = ? AND date = ?", tokenID, day.Format("2006-01-02")).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
