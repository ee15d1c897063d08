package models

import "time"

type Product struct {
	ID          uint      `gorm:"primaryKey"`
	TokenID     uint      `gorm:"not null;uniqueIndex:uq_products_token_mp_article,priority:1"`
	Marketplace string    `gorm:"type:varchar(50);not null;uniqueIndex:uq_products_token_mp_article,priority:2"`
	Article     string    `gorm:"type:varchar(255);not null;uniqueIndex:uq_products_token_mp_article,priority:3"`
	NmID        *int64    `gorm:"index"`
	Barcode     *string   `gorm:"type:varchar(255)"`
	Brand       *string   `gorm:"type:varchar(255)"`
	Category    *string   `gorm:"type:varchar(255)"`
	Subject     *string   `gorm:"type:varchar(255)"`
	CreatedAt   time.Time `gorm:"type:timestamptz"`
}

func (Product) TableName() string {
	return "products"
}

type Warehouse struct {
	ID          uint      `gorm:"primaryKey"`
	Marketplace string    `gorm:"type:varchar(50);not null;uniqueIndex:uq_warehouses_mp_name,priority:1"`
	Name        string    `gorm:"type:varchar(255);not null;uniqueIndex:uq_warehouses_mp_name,priority:2"`
	CreatedAt   time.Time `gorm:"type:timestamptz"`
}

func (Warehouse) TableName() string {
	return "warehouses"
}
