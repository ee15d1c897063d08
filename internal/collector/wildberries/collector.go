// Package wildberries collects supplier statistics and catalog cards from
// the Wildberries seller APIs.
package wildberries

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	wbclient "marketplacer/internal/client/wildberries"
	"marketplacer/internal/collector"
	"marketplacer/internal/models"
	"marketplacer/internal/repository"
	"marketplacer/internal/schema"
)

// API is the part of the Wildberries client the collector uses.
type API interface {
	Statistics(ctx context.Context, report string, dateFrom time.Time, flag *int) ([]byte, error)
	CardsList(ctx context.Context, cursor wbclient.CardsCursor) ([]byte, error)
}

type Store interface {
	collector.Store
	repository.WildberriesRepository
}

type Options struct {
	// StatisticsWait is slept before every statistics call.
	StatisticsWait time.Duration
	CardsThrottle  time.Duration
	CardsRetries   int
	HistoryStart   time.Time
}

func (o Options) withDefaults() Options {
	if o.StatisticsWait < 0 {
		o.StatisticsWait = 0
	}
	if o.CardsThrottle <= 0 {
		o.CardsThrottle = 15 * time.Second
	}
	if o.CardsRetries <= 0 {
		o.CardsRetries = 5
	}
	if o.HistoryStart.IsZero() {
		o.HistoryStart = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
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
		collector.EndpointIncomes: c.collectIncomes,
		collector.EndpointSales:   c.collectSales,
		collector.EndpointOrders:  c.collectOrders,
		collector.EndpointStocks:  c.collectStocks,
		collector.EndpointWBCards: c.collectCards,
	}
	return c
}

func (c *Collector) Endpoints() []string {
	return collector.EndpointsFor(models.MarketplaceWildberries)
}

func (c *Collector) Collect(ctx context.Context, endpoint string) (collector.Result, error) {
	h, ok := c.handlers[endpoint]
	if !ok {
		return collector.Result{}, fmt.Errorf("%w: %s for %s", collector.ErrUnknownEndpoint, endpoint, models.MarketplaceWildberries)
	}
	return c.Run(ctx, endpoint, h)
}

// statistics waits the mandatory pause and fetches one report as raw rows.
func (c *Collector) statistics(ctx context.Context, report string, from time.Time, flag *int) ([]json.RawMessage, error) {
	if err := c.Pause(ctx, c.opts.StatisticsWait); err != nil {
		return nil, err
	}
	body, err := c.api.Statistics(ctx, report, from, flag)
	if err != nil {
		return nil, err
	}
	rows, err := schema.DecodeArray(report, body)
	if err != nil {
		c.ReportSchema(ctx, report, err)
		return nil, err
	}
	return rows, nil
}

// windowStart is the last successful sync, or fallback for a first run.
func (c *Collector) windowStart(ctx context.Context, endpoint string, fallback func(ctx context.Context) (time.Time, error)) (time.Time, error) {
	last, err := c.LastSuccess(ctx, endpoint)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return *last, nil
	}
	return fallback(ctx)
}

func (c *Collector) historyStart(ctx context.Context) (time.Time, error) {
	return c.opts.HistoryStart, nil
}

// firstIncomeDay is the day of the earliest known income: stored rows
// first, then the incomes report itself. Without incomes it is the
// history start.
func (c *Collector) firstIncomeDay(ctx context.Context) (time.Time, error) {
	earliest, err := c.store.EarliestWBIncomeDate(ctx, c.CredentialID())
	if err != nil {
		return time.Time{}, err
	}
	if earliest == nil {
		rows, err := c.statistics(ctx, wbclient.ReportIncomes, c.opts.HistoryStart, nil)
		if err != nil {
			return time.Time{}, err
		}
		incomes, _ := collector.DecodeEach[wbclient.Income](ctx, &c.Base, wbclient.ReportIncomes, rows)
		for _, in := range incomes {
			d := in.Date.Time
			if earliest == nil || d.Before(*earliest) {
				earliest = &d
			}
		}
	}
	if earliest == nil {
		return c.opts.HistoryStart, nil
	}
	return earliest.UTC().Truncate(24 * time.Hour), nil
}

func (c *Collector) product(ctx context.Context, tx *gorm.DB, article string, nmID *int64, barcode, brand, category, subject string) (*models.Product, error) {
	if article == "" && nmID != nil {
		article = strconv.FormatInt(*nmID, 10)
	}
	if article == "" {
		article = barcode
	}
	if article == "" {
		return nil, nil
	}
	return c.GetOrCreateProduct(ctx, tx, models.Product{
		Article:  article,
		NmID:     nmID,
		Barcode:  strPtr(barcode),
		Brand:    strPtr(brand),
		Category: strPtr(category),
		Subject:  strPtr(subject),
	})
}

func (c *Collector) warehouseID(ctx context.Context, tx *gorm.DB, name string) (*uint, error) {
	wh, err := c.GetOrCreateWarehouse(ctx, tx, name)
	if err != nil || wh == nil {
		return nil, err
	}
	return &wh.ID, nil
}

func (c *Collector) collectIncomes(ctx context.Context, res *collector.Result) error {
	from, err := c.windowStart(ctx, collector.EndpointIncomes, c.historyStart)
	if err != nil {
		return err
	}
	c.Log().Info("collecting incomes", zap.Time("from", from))
	rows, err := c.statistics(ctx, wbclient.ReportIncomes, from, nil)
	if err != nil {
		return err
	}
	incomes, skipped := collector.DecodeEach[wbclient.Income](ctx, &c.Base, wbclient.ReportIncomes, rows)
	res.Skipped += skipped

	return c.store.InTx(ctx, func(tx *gorm.DB) error {
		headers := 0
		for _, in := range incomes {
			product, err := c.product(ctx, tx, in.SupplierArticle, in.NmID, in.Barcode, "", "", "")
			if err != nil {
				return err
			}
			if product == nil {
				res.Skipped++
				continue
			}
			whID, err := c.warehouseID(ctx, tx, in.WarehouseName)
			if err != nil {
				return err
			}
			income, err := c.store.UpsertWBIncomeTx(ctx, tx, &models.WBIncome{
				TokenID:        c.CredentialID(),
				IncomeID:       *in.IncomeID,
				WarehouseID:    whID,
				Number:         strPtr(in.Number),
				Date:           in.Date.Time,
				LastChangeDate: in.LastChangeDate.Ptr(),
				Status:         strPtr(in.Status),
			})
			if err != nil {
				return err
			}
			headers++
			n, err := c.store.InsertWBIncomeItemsTx(ctx, tx, []models.WBIncomeItem{{
				IncomeID:   income.ID,
				ProductID:  product.ID,
				Quantity:   in.Quantity,
				TotalPrice: in.TotalPrice,
				DateClose:  in.DateClose.Ptr(),
			}})
			if err != nil {
				return err
			}
			res.Records += int(n)
		}
		res.Add("incomes", headers)
		return nil
	})
}

func (c *Collector) collectSales(ctx context.Context, res *collector.Result) error {
	from, err := c.windowStart(ctx, collector.EndpointSales, c.firstIncomeDay)
	if err != nil {
		return err
	}
	c.Log().Info("collecting sales", zap.Time("from", from))
	flag := 0
	rows, err := c.statistics(ctx, wbclient.ReportSales, from, &flag)
	if err != nil {
		return err
	}
	sales, skipped := collector.DecodeEach[wbclient.Sale](ctx, &c.Base, wbclient.ReportSales, rows)
	res.Skipped += skipped

	return c.store.InTx(ctx, func(tx *gorm.DB) error {
		batch := make([]models.WBSale, 0, len(sales))
		for _, s := range sales {
			product, err := c.product(ctx, tx, s.SupplierArticle, s.NmID, s.Barcode, s.Brand, s.Category, s.Subject)
			if err != nil {
				return err
			}
			if product == nil {
				res.Skipped++
				continue
			}
			whID, err := c.warehouseID(ctx, tx, s.WarehouseName)
			if err != nil {
				return err
			}
			batch = append(batch, models.WBSale{
				TokenID:         c.CredentialID(),
				ProductID:       product.ID,
				WarehouseID:     whID,
				Date:            s.Date.Time,
				LastChangeDate:  s.LastChangeDate.Ptr(),
				SaleID:          strPtr(s.SaleID),
				GNumber:         strPtr(s.GNumber),
				Srid:            *s.Srid,
				TotalPrice:      s.TotalPrice,
				DiscountPercent: s.DiscountPercent,
				Spp:             s.Spp,
				ForPay:          s.ForPay,
				FinishedPrice:   s.FinishedPrice,
				PriceWithDisc:   s.PriceWithDisc,
				RegionName:      strPtr(s.RegionName),
				CountryName:     strPtr(s.CountryName),
				OblastOkrugName: strPtr(s.OblastOkrugName),
			})
		}
		n, err := c.store.InsertWBSalesTx(ctx, tx, batch)
		if err != nil {
			return err
		}
		res.Records += int(n)
		res.Add("received", len(sales))
		return nil
	})
}

func (c *Collector) collectOrders(ctx context.Context, res *collector.Result) error {
	from, err := c.windowStart(ctx, collector.EndpointOrders, c.firstIncomeDay)
	if err != nil {
		return err
	}
	c.Log().Info("collecting orders", zap.Time("from", from))
	flag := 0
	rows, err := c.statistics(ctx, wbclient.ReportOrders, from, &flag)
	if err != nil {
		return err
	}
	orders, skipped := collector.DecodeEach[wbclient.Order](ctx, &c.Base, wbclient.ReportOrders, rows)
	res.Skipped += skipped

	return c.store.InTx(ctx, func(tx *gorm.DB) error {
		bySrid := make(map[string]int, len(orders))
		batch := make([]models.WBOrder, 0, len(orders))
		for _, o := range orders {
			product, err := c.product(ctx, tx, o.SupplierArticle, o.NmID, o.Barcode, o.Brand, o.Category, o.Subject)
			if err != nil {
				return err
			}
			if product == nil {
				res.Skipped++
				continue
			}
			whID, err := c.warehouseID(ctx, tx, o.WarehouseName)
			if err != nil {
				return err
			}
			row := models.WBOrder{
				TokenID:         c.CredentialID(),
				ProductID:       product.ID,
				WarehouseID:     whID,
				Date:            o.Date.Time,
				LastChangeDate:  o.LastChangeDate.Ptr(),
				GNumber:         strPtr(o.GNumber),
				Srid:            *o.Srid,
				TotalPrice:      o.TotalPrice,
				DiscountPercent: o.DiscountPercent,
				Spp:             o.Spp,
				FinishedPrice:   o.FinishedPrice,
				IsCancel:        o.IsCancel,
				CancelDate:      o.CancelDate.Ptr(),
				RegionName:      strPtr(o.RegionName),
			}
			// A report can carry the same srid twice; the later row wins.
			if i, ok := bySrid[row.Srid]; ok {
				batch[i] = row
				continue
			}
			bySrid[row.Srid] = len(batch)
			batch = append(batch, row)
		}
		n, err := c.store.UpsertWBOrdersTx(ctx, tx, batch)
		if err != nil {
			return err
		}
		res.Records += int(n)
		return nil
	})
}

type stockKey struct {
	productID   uint
	warehouseID uint
}

func (c *Collector) collectStocks(ctx context.Context, res *collector.Result) error {
	today := c.Today()
	rows, err := c.statistics(ctx, wbclient.ReportStocks, c.opts.HistoryStart, nil)
	if err != nil {
		return err
	}
	stocks, skipped := collector.DecodeEach[wbclient.Stock](ctx, &c.Base, wbclient.ReportStocks, rows)
	res.Skipped += skipped

	return c.store.InTx(ctx, func(tx *gorm.DB) error {
		index := map[stockKey]int{}
		batch := make([]models.WBStock, 0, len(stocks))
		for _, s := range stocks {
			product, err := c.product(ctx, tx, s.SupplierArticle, s.NmID, *s.Barcode, s.Brand, s.Category, s.Subject)
			if err != nil {
				return err
			}
			whID, err := c.warehouseID(ctx, tx, s.WarehouseName)
			if err != nil {
				return err
			}
			if product == nil || whID == nil {
				res.Skipped++
				continue
			}
			k := stockKey{product.ID, *whID}
			if i, ok := index[k]; ok {
				// Sizes of one article share a product: sum them.
				batch[i].Quantity += s.Quantity
				batch[i].InWayToClient += s.InWayToClient
				batch[i].InWayFromClient += s.InWayFromClient
				batch[i].QuantityFull += s.QuantityFull
				continue
			}
			index[k] = len(batch)
			batch = append(batch, models.WBStock{
				TokenID:         c.CredentialID(),
				ProductID:       product.ID,
				WarehouseID:     *whID,
				Date:            today,
				Barcode:         strPtr(*s.Barcode),
				TechSize:        strPtr(s.TechSize),
				Quantity:        s.Quantity,
				InWayToClient:   s.InWayToClient,
				InWayFromClient: s.InWayFromClient,
				QuantityFull:    s.QuantityFull,
				Price:           s.Price,
				Discount:        s.Discount,
				LastChangeDate:  s.LastChangeDate.Ptr(),
				UpdatedAt:       c.Clock(),
			})
		}
		if err := c.store.UpsertWBStocksTx(ctx, tx, batch); err != nil {
			return err
		}
		res.Records += len(batch)
		res.Add("rows", len(stocks))
		return nil
	})
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
