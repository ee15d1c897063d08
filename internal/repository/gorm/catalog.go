package gormrepository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplacer/internal/models"
)

func (s *Store) GetOrCreateProductTx(ctx context.Context, tx *gorm.DB, item *models.Product) (*models.Product, error) {
	if s == nil || s.db == nil || item == nil {
		return nil, nil
	}
	db := s.conn(ctx, tx)
	var out models.Product
	err := db.Where("token_id = ? AND marketplace = ? AND article = ?", item.TokenID, item.Marketplace, item.Article).Take(&out).Error
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	row := *item
	row.ID = 0
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}, {Name: "marketplace"}, {Name: "article"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	if row.ID != 0 {
		return &row, nil
	}
	// Lost the insert race: read the winner.
	if err := db.Where("token_id = ? AND marketplace = ? AND article = ?", item.TokenID, item.Marketplace, item.Article).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrCreateWarehouseTx returns nil for an empty name.
func (s *Store) GetOrCreateWarehouseTx(ctx context.Context, tx *gorm.DB, marketplace, name string) (*models.Warehouse, error) {
	name = strings.TrimSpace(name)
	if s == nil || s.db == nil || name == "" {
		return nil, nil
	}
	db := s.conn(ctx, tx)
	var out models.Warehouse
	err := db.Where("marketplace = ? AND name = ?", marketplace, name).Take(&out).Error
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	row := models.Warehouse{Marketplace: marketplace, Name: name}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "marketplace"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	if row.ID != 0 {
		return &row, nil
	}
	if err := db.Where("marketplace = ? AND name = ?", marketplace, name).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
