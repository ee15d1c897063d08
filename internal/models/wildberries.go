package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WBSale is append-only: a sale is never rewritten once stored.
type WBSale struct {
	ID              uint             `gorm:"primaryKey"`
	TokenID         uint             `gorm:"not null;index"`
	ProductID       uint             `gorm:"not null;index"`
	WarehouseID     *uint            `gorm:"index"`
	Date            time.Time        `gorm:"type:timestamptz;not null;index"`
	LastChangeDate  *time.Time       `gorm:"type:timestamptz"`
	SaleID          *string          `gorm:"type:varchar(64)"`
	GNumber         *string          `gorm:"type:varchar(64)"`
	Srid            string           `gorm:"type:varchar(128);not null;uniqueIndex"`
	TotalPrice      *decimal.Decimal `gorm:"type:numeric(14,2)"`
	DiscountPercent *int             ``
	Spp             *decimal.Decimal `gorm:"type:numeric(8,2)"`
	ForPay          *decimal.Decimal `gorm:"type:numeric(14,2)"`
	FinishedPrice   *decimal.Decimal `gorm:"type:numeric(14,2)"`
	PriceWithDisc   *decimal.Decimal `gorm:"type:numeric(14,2)"`
	RegionName      *string          `gorm:"type:varchar(255)"`
	CountryName     *string          `gorm:"type:varchar(255)"`
	OblastOkrugName *string          `gorm:"type:varchar(255)"`
	CreatedAt       time.Time        `gorm:"type:timestamptz"`
}

func (WBSale) TableName() string {
	return "wb_sales"
}

// WBOrder rows are updated in place when the order is cancelled later.
type WBOrder struct {
	ID              uint             `gorm:"primaryKey"`
	TokenID         uint             `gorm:"not null;index"`
	ProductID       uint             `gorm:"not null;index"`
	WarehouseID     *uint            `gorm:"index"`
	Date            time.Time        `gorm:"type:timestamptz;not null;index"`
	LastChangeDate  *time.Time       `gorm:"type:timestamptz"`
	GNumber         *string          `gorm:"type:varchar(64)"`
	Srid            string           `gorm:"type:varchar(128);not null;uniqueIndex"`
	TotalPrice      *decimal.Decimal `gorm:"type:numeric(14,2)"`
	DiscountPercent *int             ``
	Spp             *decimal.Decimal `gorm:"type:numeric(8,2)"`
	FinishedPrice   *decimal.Decimal `gorm:"type:numeric(14,2)"`
	IsCancel        bool             `gorm:"not null;default:false"`
	CancelDate      *time.Time       `gorm:"type:timestamptz"`
	RegionName      *string          `gorm:"type:varchar(255)"`
	CreatedAt       time.Time        `gorm:"type:timestamptz"`
	UpdatedAt       time.Time        `gorm:"type:timestamptz"`
}

func (WBOrder) TableName() string {
	return "wb_orders"
}

type WBIncome struct {
	ID             uint       `gorm:"primaryKey"`
	TokenID        uint       `gorm:"not null;uniqueIndex:uq_wb_incomes_token_income,priority:1"`
	IncomeID       int64      `gorm:"not null;uniqueIndex:uq_wb_incomes_token_income,priority:2"`
	WarehouseID    *uint      `gorm:"index"`
	Number         *string    `gorm:"type:varchar(64)"`
	Date           time.Time  `gorm:"type:timestamptz;not null;index"`
	LastChangeDate *time.Time `gorm:"type:timestamptz"`
	Status         *string    `gorm:"type:varchar(64)"`
	CreatedAt      time.Time  `gorm:"type:timestamptz"`
}

func (WBIncome) TableName() string {
	return "wb_incomes"
}

type WBIncomeItem struct {
	ID         uint             `gorm:"primaryKey"`
	IncomeID   uint             `gorm:"not null;uniqueIndex:uq_wb_income_items_income_product,priority:1"`
	ProductID  uint             `gorm:"not null;uniqueIndex:uq_wb_income_items_income_product,priority:2"`
	Quantity   int              `gorm:"not null;default:0"`
	TotalPrice *decimal.Decimal `gorm:"type:numeric(14,2)"`
	DateClose  *time.Time       `gorm:"type:timestamptz"`
	CreatedAt  time.Time        `gorm:"type:timestamptz"`
}

func (WBIncomeItem) TableName() string {
	return "wb_income_items"
}

// WBStock is a daily snapshot; re-collecting the same day overwrites quantities.
type WBStock struct {
	ID              uint             `gorm:"primaryKey"`
	TokenID         uint             `gorm:"not null;uniqueIndex:uq_wb_stocks_snapshot,priority:1"`
	ProductID       uint             `gorm:"not null;uniqueIndex:uq_wb_stocks_snapshot,priority:2"`
	WarehouseID     uint             `gorm:"not null;uniqueIndex:uq_wb_stocks_snapshot,priority:3"`
	Date            time.Time        `gorm:"type:date;not null;uniqueIndex:uq_wb_stocks_snapshot,priority:4"`
	Barcode         *string          `gorm:"type:varchar(255)"`
	TechSize        *string          `gorm:"type:varchar(64)"`
	Quantity        int              `gorm:"not null;default:0"`
	InWayToClient   int              `gorm:"not null;default:0"`
	InWayFromClient int              `gorm:"not null;default:0"`
	QuantityFull    int              `gorm:"not null;default:0"`
	Price           *decimal.Decimal `gorm:"type:numeric(14,2)"`
	Discount        *int             ``
	LastChangeDate  *time.Time       `gorm:"type:timestamptz"`
	UpdatedAt       time.Time        `gorm:"type:timestamptz"`
}

func (WBStock) TableName() string {
	return "wb_stocks"
}

// WBGood is one size of a catalog card, keyed by its barcode.
type WBGood struct {
	ID            uint           `gorm:"primaryKey"`
	TokenID       uint           `gorm:"not null;index"`
	Barcode       string         `gorm:"type:varchar(255);not null;uniqueIndex"`
	NmID          int64          `gorm:"not null;index"`
	VendorCode    *string        `gorm:"type:varchar(255)"`
	Brand         *string        `gorm:"type:varchar(255)"`
	Title         *string        `gorm:"type:text"`
	SubjectName   *string        `gorm:"type:varchar(255)"`
	TechSize      *string        `gorm:"type:varchar(64)"`
	WBSize        *string        `gorm:"type:varchar(64)"`
	Photos        datatypes.JSON `gorm:"type:jsonb"`
	CardCreatedAt *time.Time     `gorm:"type:timestamptz"`
	CardUpdatedAt *time.Time     `gorm:"type:timestamptz"`
	CreatedAt     time.Time      `gorm:"type:timestamptz"`
	UpdatedAt     time.Time      `gorm:"type:timestamptz"`
}

func (WBGood) TableName() string {
	return "wb_goods"
}
