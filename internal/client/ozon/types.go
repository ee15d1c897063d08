package ozon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Time accepts RFC 3339 timestamps and empty strings.
type Time struct {
	time.Time
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
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unsupported time %q", s)
}

func (t *Time) Ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type ReportCreateRequest struct {
	Language   string   `json:"language"`
	OfferID    []string `json:"offer_id"`
	Search     string   `json:"search"`
	SKU        []int64  `json:"sku"`
	Visibility string   `json:"visibility"`
}

type ReportCreateResponse struct {
	Result *struct {
		Code *string `json:"code" validate:"required"`
	} `json:"result" validate:"required"`
}

const (
	ReportStatusSuccess = "success"
	ReportStatusFailed  = "failed"
)

type ReportInfoResponse struct {
	Result *struct {
		Status *string `json:"status" validate:"required"`
		File   string  `json:"file"`
		Error  string  `json:"error"`
	} `json:"result" validate:"required"`
}

type PostingFilter struct {
	Since  string `json:"since"`
	To     string `json:"to"`
	Status string `json:"status"`
}

type PostingWith struct {
	AnalyticsData bool `json:"analytics_data"`
	FinancialData bool `json:"financial_data"`
}

type PostingListRequest struct {
	Dir    string        `json:"dir"`
	Filter PostingFilter `json:"filter"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	With   PostingWith   `json:"with"`
}

// NewPostingListRequest builds an ascending listing of postings created
// in [since, to].
func NewPostingListRequest(since, to time.Time, limit, offset int, details bool) PostingListRequest {
	return PostingListRequest{
		Dir: "ASC",
		Filter: PostingFilter{
			Since: since.UTC().Format(TimeFormat),
			To:    to.UTC().Format(TimeFormat),
		},
		Limit:  limit,
		Offset: offset,
		With:   PostingWith{AnalyticsData: details, FinancialData: details},
	}
}

type FBSListResponse struct {
	Result *struct {
		Postings []json.RawMessage `json:"postings" validate:"required"`
		HasNext  bool              `json:"has_next"`
	} `json:"result" validate:"required"`
}

type FBOListResponse struct {
	Result []json.RawMessage `json:"result" validate:"required"`
}

type PostingProduct struct {
	SKU      *int64  `json:"sku" validate:"required"`
	OfferID  *string `json:"offer_id" validate:"required"`
	Name     string  `json:"name"`
	Quantity *int    `json:"quantity" validate:"required"`
	Price    *string `json:"price" validate:"required"`
	Barcode  string  `json:"barcode"`
}

type FinancialData struct {
	CommissionAmount  *decimal.Decimal `json:"commission_amount"`
	CommissionPercent *decimal.Decimal `json:"commission_percent"`
	Payout            *decimal.Decimal `json:"payout"`
}

// PostingFinancialData is the per-posting block. Depending on the API
// version commission fields are either here or per product.
type PostingFinancialData struct {
	Products []FinancialData `json:"products"`
	FinancialData
}

type Posting struct {
	PostingNumber *string               `json:"posting_number" validate:"required"`
	OrderID       *int64                `json:"order_id"`
	OrderNumber   string                `json:"order_number"`
	Status        *string               `json:"status" validate:"required"`
	InProcessAt   *Time                 `json:"in_process_at"`
	ShipmentDate  *Time                 `json:"shipment_date"`
	Products      []PostingProduct      `json:"products" validate:"required,dive"`
	FinancialData *PostingFinancialData `json:"financial_data"`
	AnalyticsData json.RawMessage       `json:"analytics_data"`
}

type FinanceDate struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type FinanceFilter struct {
	Date            FinanceDate `json:"date"`
	OperationType   []string    `json:"operation_type"`
	PostingNumber   string      `json:"posting_number"`
	TransactionType string      `json:"transaction_type"`
}

type FinanceRequest struct {
	Filter   FinanceFilter `json:"filter"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

const OperationDeliveredToCustomer = "OperationAgentDeliveredToCustomer"

// NewFinanceRequest lists delivered-to-customer operations in [from, to].
func NewFinanceRequest(from, to time.Time, page, pageSize int) FinanceRequest {
	return FinanceRequest{
		Filter: FinanceFilter{
			Date: FinanceDate{
				From: from.UTC().Format(TimeFormat),
				To:   to.UTC().Format("2006-01-02T15:04:05") + ".999Z",
			},
			OperationType:   []string{OperationDeliveredToCustomer},
			TransactionType: "all",
		},
		Page:     page,
		PageSize: pageSize,
	}
}

type FinanceResponse struct {
	Result *struct {
		Operations []json.RawMessage `json:"operations" validate:"required"`
		PageCount  int               `json:"page_count"`
		RowCount   int               `json:"row_count"`
	} `json:"result" validate:"required"`
}

type FinanceOperation struct {
	OperationID     *int64           `json:"operation_id" validate:"required"`
	OperationType   *string          `json:"operation_type" validate:"required"`
	OperationDate   *string          `json:"operation_date" validate:"required"`
	Amount          *decimal.Decimal `json:"amount"`
	AccrualsForSale *decimal.Decimal `json:"accruals_for_sale"`
	Posting         *struct {
		PostingNumber  string `json:"posting_number"`
		DeliverySchema string `json:"delivery_schema"`
	} `json:"posting"`
	Items []struct {
		SKU  *int64 `json:"sku"`
		Name string `json:"name"`
	} `json:"items"`
}

type SupplyOrderListRequest struct {
	Filter struct {
		States []string `json:"states"`
	} `json:"filter"`
	Limit  int    `json:"limit"`
	SortBy int    `json:"sort_by"`
	LastID string `json:"last_id,omitempty"`
}

// NewSupplyOrderListRequest lists completed supply orders.
func NewSupplyOrderListRequest(lastID string, limit int) SupplyOrderListRequest {
	var req SupplyOrderListRequest
	req.Filter.States = []string{"COMPLETED"}
	req.Limit = limit
	req.SortBy = 1
	req.LastID = lastID
	return req
}

type SupplyOrderListResponse struct {
	OrderIDs []int64 `json:"order_ids" validate:"required"`
	LastID   string  `json:"last_id"`
}

type SupplyOrderGetResponse struct {
	Orders []SupplyOrder `json:"orders" validate:"required,dive"`
}

type SupplyOrder struct {
	OrderID          *int64 `json:"order_id" validate:"required"`
	OrderNumber      string `json:"order_number"`
	State            string `json:"state"`
	CreatedDate      *Time  `json:"created_date"`
	StateUpdatedDate *Time  `json:"state_updated_date"`
	Supplies         []struct {
		BundleID string `json:"bundle_id"`
		Timeslot *struct {
			From *Time `json:"from"`
			To   *Time `json:"to"`
		} `json:"timeslot"`
	} `json:"supplies"`
	DropOffWarehouse *struct {
		Name string `json:"name"`
	} `json:"drop_off_warehouse"`
}

type BundleRequest struct {
	BundleIDs []string `json:"bundle_ids"`
	Limit     int      `json:"limit"`
	LastID    string   `json:"last_id"`
}

type BundleResponse struct {
	Items   []BundleItem `json:"items" validate:"required"`
	HasNext bool         `json:"has_next"`
	LastID  string       `json:"last_id"`
}

type BundleItem struct {
	OfferID   string `json:"offer_id"`
	ProductID *int64 `json:"product_id"`
	SKU       *int64 `json:"sku"`
	Barcode   string `json:"barcode"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}
