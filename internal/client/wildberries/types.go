package wildberries

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Time accepts the timestamp shapes the statistics and content APIs use:
// RFC 3339, a zone-less date-time (read as UTC) and a bare date.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unsupported time %q", s)
}

// Ptr returns nil for a missing or zero time.
func (t *Time) Ptr() *time.Time {
	if t == nil || t.IsZero() || t.Year() <= 1 {
		return nil
	}
	v := t.Time
	return &v
}

type Income struct {
	IncomeID        *int64           `json:"incomeId" validate:"required"`
	Number          string           `json:"number"`
	Date            *Time            `json:"date" validate:"required"`
	LastChangeDate  *Time            `json:"lastChangeDate"`
	SupplierArticle string           `json:"supplierArticle"`
	TechSize        string           `json:"techSize"`
	Barcode         string           `json:"barcode"`
	Quantity        int              `json:"quantity"`
	TotalPrice      *decimal.Decimal `json:"totalPrice"`
	DateClose       *Time            `json:"dateClose"`
	WarehouseName   string           `json:"warehouseName"`
	NmID            *int64           `json:"nmId"`
	Status          string           `json:"status"`
}

type Sale struct {
	Srid            *string          `json:"srid" validate:"required"`
	Date            *Time            `json:"date" validate:"required"`
	LastChangeDate  *Time            `json:"lastChangeDate"`
	SupplierArticle string           `json:"supplierArticle"`
	TechSize        string           `json:"techSize"`
	Barcode         string           `json:"barcode"`
	TotalPrice      *decimal.Decimal `json:"totalPrice"`
	DiscountPercent *int             `json:"discountPercent"`
	Spp             *decimal.Decimal `json:"spp"`
	ForPay          *decimal.Decimal `json:"forPay"`
	FinishedPrice   *decimal.Decimal `json:"finishedPrice"`
	PriceWithDisc   *decimal.Decimal `json:"priceWithDisc"`
	WarehouseName   string           `json:"warehouseName"`
	RegionName      string           `json:"regionName"`
	CountryName     string           `json:"countryName"`
	OblastOkrugName string           `json:"oblastOkrugName"`
	NmID            *int64           `json:"nmId"`
	Brand           string           `json:"brand"`
	Category        string           `json:"category"`
	Subject         string           `json:"subject"`
	SaleID          string           `json:"saleID"`
	GNumber         string           `json:"gNumber"`
}

type Order struct {
	Srid            *string          `json:"srid" validate:"required"`
	Date            *Time            `json:"date" validate:"required"`
	LastChangeDate  *Time            `json:"lastChangeDate"`
	SupplierArticle string           `json:"supplierArticle"`
	TechSize        string           `json:"techSize"`
	Barcode         string           `json:"barcode"`
	TotalPrice      *decimal.Decimal `json:"totalPrice"`
	DiscountPercent *int             `json:"discountPercent"`
	Spp             *decimal.Decimal `json:"spp"`
	FinishedPrice   *decimal.Decimal `json:"finishedPrice"`
	PriceWithDisc   *decimal.Decimal `json:"priceWithDisc"`
	WarehouseName   string           `json:"warehouseName"`
	RegionName      string           `json:"regionName"`
	NmID            *int64           `json:"nmId"`
	Brand           string           `json:"brand"`
	Category        string           `json:"category"`
	Subject         string           `json:"subject"`
	IsCancel        bool             `json:"isCancel"`
	CancelDate      *Time            `json:"cancelDate"`
	GNumber         string           `json:"gNumber"`
}

type Stock struct {
	Barcode         *string          `json:"barcode" validate:"required"`
	LastChangeDate  *Time            `json:"lastChangeDate"`
	WarehouseName   string           `json:"warehouseName"`
	SupplierArticle string           `json:"supplierArticle"`
	NmID            *int64           `json:"nmId"`
	Quantity        int              `json:"quantity"`
	InWayToClient   int              `json:"inWayToClient"`
	InWayFromClient int              `json:"inWayFromClient"`
	QuantityFull    int              `json:"quantityFull"`
	Category        string           `json:"category"`
	Subject         string           `json:"subject"`
	Brand           string           `json:"brand"`
	TechSize        string           `json:"techSize"`
	Price           *decimal.Decimal `json:"Price"`
	Discount        *int             `json:"Discount"`
}

type CardsCursor struct {
	Limit     int    `json:"limit"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	NmID      int64  `json:"nmID,omitempty"`
}

type CardsFilter struct {
	WithPhoto int `json:"withPhoto"`
}

type CardsSettings struct {
	Cursor CardsCursor `json:"cursor"`
	Filter CardsFilter `json:"filter"`
}

type CardsListRequest struct {
	Settings CardsSettings `json:"settings"`
}

// CardsListResponse keeps cards raw so that each card is validated on its own.
type CardsListResponse struct {
	Cards  []json.RawMessage `json:"cards" validate:"required"`
	Cursor *struct {
		UpdatedAt string `json:"updatedAt"`
		NmID      int64  `json:"nmID"`
		Total     int    `json:"total"`
	} `json:"cursor"`
}

type CardPhoto struct {
	Big      string `json:"big"`
	C246x328 string `json:"c246x328"`
	C516x688 string `json:"c516x688"`
}

// URL picks the largest available rendition.
func (p CardPhoto) URL() string {
	switch {
	case p.Big != "":
		return p.Big
	case p.C516x688 != "":
		return p.C516x688
	default:
		return p.C246x328
	}
}

type CardSize struct {
	TechSize string   `json:"techSize"`
	WBSize   string   `json:"wbSize"`
	Skus     []string `json:"skus"`
}

type Card struct {
	NmID        *int64      `json:"nmID" validate:"required"`
	VendorCode  string      `json:"vendorCode"`
	Brand       string      `json:"brand"`
	Title       string      `json:"title"`
	SubjectName string      `json:"subjectName"`
	Description string      `json:"description"`
	CreatedAt   *Time       `json:"createdAt"`
	UpdatedAt   *Time       `json:"updatedAt"`
	Photos      []CardPhoto `json:"photos"`
	Sizes       []CardSize  `json:"sizes"`
}
