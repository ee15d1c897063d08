// Package ozon collects stocks, postings, finance operations and supply
// orders from the Ozon Seller API.
package ozon

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	ozonclient "marketplacer/internal/client/ozon"
	"marketplacer/internal/collector"
	"marketplacer/internal/models"
	"marketplacer/internal/repository"
)

// API is the part of the Ozon client the collector uses.
type API interface {
	CreateProductsReport(ctx context.Context) ([]byte, error)
	ReportInfo(ctx context.Context, code string) ([]byte, error)
	Download(ctx context.Context, fileURL string) ([]byte, error)
	ListFBS(ctx context.Context, req ozonclient.PostingListRequest) ([]byte, error)
	ListFBO(ctx context.Context, req ozonclient.PostingListRequest) ([]byte, error)
	FinanceTransactions(ctx context.Context, req ozonclient.FinanceRequest) ([]byte, error)
	SupplyOrderList(ctx context.Context, req ozonclient.SupplyOrderListRequest) ([]byte, error)
	SupplyOrderGet(ctx context.Context, orderIDs []int64) ([]byte, error)
	SupplyOrderBundle(ctx context.Context, req ozonclient.BundleRequest) ([]byte, error)
}

type Store interface {
	collector.Store
	repository.OzonRepository
}

type Options struct {
	ReportPollInterval  time.Duration
	ReportMaxPolls      int
	PagePause           time.Duration
	OrderWindowDays     int
	OrderFallbackDays   int
	OrderRescan         time.Duration
	SalesLookbackMonths int
	FinanceRetries      int
	FinanceRetryWait    time.Duration
	BundleRetries       int
	BundleRetryWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReportPollInterval <= 0 {
		o.ReportPollInterval = 5 * time.Second
	}
	if o.ReportMaxPolls <= 0 {
		o.ReportMaxPolls = 30
	}
	if o.PagePause < 0 {
		o.PagePause = 0
	}
	if o.OrderWindowDays <= 0 {
		o.OrderWindowDays = 180
	}
	if o.OrderFallbackDays <= 0 {
		o.OrderFallbackDays = 90
	}
	if o.OrderRescan < 0 {
		o.OrderRescan = 0
	}
	if o.SalesLookbackMonths <= 0 {
		o.SalesLookbackMonths = 12
	}
	if o.FinanceRetries <= 0 {
		o.FinanceRetries = 5
	}
	if o.FinanceRetryWait <= 0 {
		o.FinanceRetryWait = 20 * time.Second
	}
	if o.BundleRetries <= 0 {
		o.BundleRetries = 10
	}
	if o.BundleRetryWait <= 0 {
		o.BundleRetryWait = 10 * time.Second
	}
	return o
}

type Collector struct {
	collector.Base

	api      API
	store    Store
	opts     Options
	handlers map[string]func(ctx context.Context, res *collector.Result) error
}

var _ collector.Collector = (*Collector)(nil)

func New(base collector.Base, api API, store Store, opts Options) *Collector {
	base.Store = store
	c := &Collector{
		Base:  base,
		api:   api,
		store: store,
		opts:  opts.withDefaults(),
	}
	c.handlers = map[string]func(ctx context.Context, res *collector.Result) error{
		collector.EndpointOzonStocks:       c.collectStocks,
		collector.EndpointOzonOrders:       c.collectOrders,
		collector.EndpointOzonSales:        c.collectSales,
		collector.EndpointOzonSupplyOrders: c.collectSupplyOrders,
	}
	return c
}

func (c *Collector) Endpoints() []string {
	return collector.EndpointsFor(models.MarketplaceOzon)
}

func (c *Collector) Collect(ctx context.Context, endpoint string) (collector.Result, error) {
	h, ok := c.handlers[endpoint]
	if !ok {
		return collector.Result{}, fmt.Errorf("%w: %s for %s", collector.ErrUnknownEndpoint, endpoint, models.MarketplaceOzon)
	}
	return c.Run(ctx, endpoint, h)
}

// ParseOfferID splits an offer id of the form article/size. Numeric sizes
// are written the way the size charts print them: 685 is 6-8,5 and a size
// of 65 or more ending in 5 gets a decimal comma (75 -> 7,5).
func ParseOfferID(offerID string) (article, size string) {
	article, raw, found := strings.Cut(offerID, "/")
	if !found {
		return offerID, ""
	}
	if rest, _, more := strings.Cut(raw, "/"); more {
		raw = rest
	}
	n, err := strconv.Atoi(raw)
	if err != nil || strings.ContainsAny(raw, "+-") {
		return article, raw
	}
	switch {
	case n == 685:
		return article, "6-8,5"
	case n >= 65 && n%10 == 5:
		return article, fmt.Sprintf("%d,%d", n/10, n%10)
	default:
		return article, raw
	}
}

func (c *Collector) product(ctx context.Context, tx *gorm.DB, article string, sku *int64, barcode string) (*models.Product, error) {
	if article == "" {
		return nil, nil
	}
	return c.GetOrCreateProduct(ctx, tx, models.Product{
		Article: article,
		NmID:    sku,
		Barcode: strPtr(barcode),
	})
}

// firstTimeslot is the earliest stored supply timeslot, or nil.
func (c *Collector) firstTimeslot(ctx context.Context) (*time.Time, error) {
	return c.store.EarliestOzonSupplyTimeslot(ctx, c.CredentialID())
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
