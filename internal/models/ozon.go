package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OzonStock struct {
	ID          uint      `gorm:"primaryKey"`
	TokenID     uint      `gorm:"not null;uniqueIndex:uq_ozon_stocks_snapshot,priority:1"`
	ProductID   uint      `gorm:"not null;uniqueIndex:uq_ozon_stocks_snapshot,priority:2"`
	Date        time.Time `gorm:"type:date;not null;uniqueIndex:uq_ozon_stocks_snapshot,priority:3"`
	OfferID     string    `gorm:"type:varchar(255)"`
	ProductSKU  *string   `gorm:"type:varchar(64)"`
	FBOPresent  int       `gorm:"not null;default:0"`
	FBOReserved int       `gorm:"not null;default:0"`
	FBSPresent  int       `gorm:"not null;default:0"`
	FBSReserved int       `gorm:"not null;default:0"`
	UpdatedAt   time.Time `gorm:"type:timestamptz"`
}

func (OzonStock) TableName() string {
	return "ozon_stocks"
}

// OzonOrder is one product line of a posting. Status is refreshed on re-scan.
type OzonOrder struct {
	ID                uint             `gorm:"primaryKey"`
	TokenID           uint             `gorm:"not null;index"`
	ProductID         uint             `gorm:"not null;index"`
	PostingNumber     string           `gorm:"type:varchar(64);not null;uniqueIndex:uq_ozon_orders_posting_sku,priority:1"`
	SKU               int64            `gorm:"not null;uniqueIndex:uq_ozon_orders_posting_sku,priority:2"`
	OrderID           *int64           ``
	OrderNumber       *string          `gorm:"type:varchar(64)"`
	OfferID           string           `gorm:"type:varchar(255)"`
	Quantity          int              `gorm:"not null;default:1"`
	ShipmentDate      *time.Time       `gorm:"type:timestamptz"`
	InProcessAt       *time.Time       `gorm:"type:timestamptz;index"`
	DeliverySchema    string           `gorm:"type:varchar(8);not null"`
	Price             *decimal.Decimal `gorm:"type:numeric(14,2)"`
	Status            string           `gorm:"type:varchar(64)"`
	CommissionAmount  *decimal.Decimal `gorm:"type:numeric(14,2)"`
	CommissionPercent *decimal.Decimal `gorm:"type:numeric(8,2)"`
	Payout            *decimal.Decimal `gorm:"type:numeric(14,2)"`
	CreatedAt         time.Time        `gorm:"type:timestamptz"`
	UpdatedAt         time.Time        `gorm:"type:timestamptz"`
}

func (OzonOrder) TableName() string {
	return "ozon_orders"
}

// OzonSale is a delivered-to-customer finance operation.
type OzonSale struct {
	ID             uint             `gorm:"primaryKey"`
	TokenID        uint             `gorm:"not null;index"`
	OperationID    int64            `gorm:"not null;uniqueIndex"`
	PostingNumber  string           `gorm:"type:varchar(64);not null;index"`
	SKU            *int64           ``
	Quantity       int              `gorm:"not null;default:1"`
	OperationDate  *time.Time       `gorm:"type:timestamptz;index"`
	DeliverySchema string           `gorm:"type:varchar(8)"`
	Price          *decimal.Decimal `gorm:"type:numeric(14,2)"`
	Payout         *decimal.Decimal `gorm:"type:numeric(14,2)"`
	Status         string           `gorm:"type:varchar(32)"`
	RawJSON        datatypes.JSON   `gorm:"type:jsonb"`
	CreatedAt      time.Time        `gorm:"type:timestamptz"`
}

func (OzonSale) TableName() string {
	return "ozon_sales"
}

type OzonSupplyOrder struct {
	ID                uint       `gorm:"primaryKey"`
	TokenID           uint       `gorm:"not null;uniqueIndex:uq_ozon_supply_orders_token_order,priority:1"`
	SupplyOrderID     string     `gorm:"type:varchar(64);not null;uniqueIndex:uq_ozon_supply_orders_token_order,priority:2"`
	SupplyOrderNumber *string    `gorm:"type:varchar(64)"`
	WarehouseID       *uint      `gorm:"index"`
	BundleID          *string    `gorm:"type:varchar(128)"`
	TimeslotFrom      *time.Time `gorm:"type:timestamptz;index"`
	CreatedAtAPI      *time.Time `gorm:"type:timestamptz"`
	UpdatedAtAPI      *time.Time `gorm:"type:timestamptz"`
	Status            *string    `gorm:"type:varchar(64)"`
	WarehouseNameAPI  *string    `gorm:"type:varchar(255)"`
	CreatedAt         time.Time  `gorm:"type:timestamptz"`
}

func (OzonSupplyOrder) TableName() string {
	return "ozon_supply_orders"
}

type OzonSupplyItem struct {
	ID            uint       `gorm:"primaryKey"`
	SupplyOrderID uint       `gorm:"not null;uniqueIndex:uq_ozon_supply_items_order_sku,priority:1"`
	SKU           int64      `gorm:"not null;uniqueIndex:uq_ozon_supply_items_order_sku,priority:2"`
	ProductID     uint       `gorm:"not null;index"`
	OfferID       string     `gorm:"type:varchar(255)"`
	Article       string     `gorm:"type:varchar(255)"`
	Size          string     `gorm:"type:varchar(32)"`
	Quantity      int        `gorm:"not null;default:0"`
	Barcode       *string    `gorm:"type:varchar(255)"`
	Name          *string    `gorm:"type:text"`
	BundleID      string     `gorm:"type:varchar(128)"`
	TimeslotFrom  *time.Time `gorm:"type:timestamptz"`
	CreatedAt     time.Time  `gorm:"type:timestamptz"`
}

func (OzonSupplyItem) TableName() string {
	return "ozon_supply_items"
}
