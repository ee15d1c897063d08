package ozon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ozonclient "marketplacer/internal/client/ozon"
	"marketplacer/internal/collector"
	"marketplacer/internal/models"
)

const (
	postingPageSize = 1000

	schemaFBS = "FBS"
	schemaFBO = "FBO"

	apiFBS = "posting_fbs"
	apiFBO = "posting_fbo"
)

type postingLister func(ctx context.Context, req ozonclient.PostingListRequest) ([]byte, error)

// collectOrders lists FBS and then FBO postings created since the window
// start and stores one row per posting product.
func (c *Collector) collectOrders(ctx context.Context, res *collector.Result) error {
	now := c.Clock()
	since, err := c.ordersStart(ctx, now)
	if err != nil {
		return err
	}
	c.Log().Info("collecting postings", zap.Time("since", since), zap.Time("to", now))

	if err := c.collectPostings(ctx, res, schemaFBS, since, now); err != nil {
		return err
	}
	if err := c.Pause(ctx, c.opts.PagePause); err != nil {
		return err
	}
	return c.collectPostings(ctx, res, schemaFBO, since, now)
}

// ordersStart re-scans a trailing window on incremental runs so status
// changes of recent postings are picked up. A first run starts at the first
// supply timeslot, bounded by the widest window the API accepts.
func (c *Collector) ordersStart(ctx context.Context, now time.Time) (time.Time, error) {
	last, err := c.LastSuccess(ctx, collector.EndpointOzonOrders)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return minTime(*last, now.Add(-c.opts.OrderRescan)), nil
	}

	first, err := c.firstTimeslot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	bound := func(days int) time.Time {
		start := now.AddDate(0, 0, -days)
		if first != nil {
			start = maxTime(*first, start)
		}
		return start
	}

	wide := bound(c.opts.OrderWindowDays)
	_, err = c.api.ListFBS(ctx, ozonclient.NewPostingListRequest(wide, now, 1, 0, false))
	if err == nil {
		return wide, nil
	}
	if collector.Classify(err) == collector.Transient {
		return time.Time{}, err
	}
	narrow := bound(c.opts.OrderFallbackDays)
	c.Log().Warn("posting window rejected, narrowing",
		zap.Int("days", c.opts.OrderWindowDays),
		zap.Int("fallback_days", c.opts.OrderFallbackDays),
		zap.Error(err))
	return narrow, nil
}

func (c *Collector) collectPostings(ctx context.Context, res *collector.Result, deliverySchema string, since, to time.Time) error {
	list, api := postingLister(c.api.ListFBS), apiFBS
	if deliverySchema == schemaFBO {
		list, api = c.api.ListFBO, apiFBO
	}

	received := 0
	pages, err := collector.Paginate(ctx, 0, postingPageSize,
		func(ctx context.Context, offset int) (collector.Page[json.RawMessage, int], error) {
			var page collector.Page[json.RawMessage, int]
			if offset > 0 {
				if err := c.Pause(ctx, c.opts.PagePause); err != nil {
					return page, err
				}
			}
			body, err := list(ctx, ozonclient.NewPostingListRequest(since, to, postingPageSize, offset, true))
			if err != nil {
				return page, err
			}
			if deliverySchema == schemaFBO {
				var resp ozonclient.FBOListResponse
				if err := c.Decode(ctx, api, body, &resp); err != nil {
					return page, err
				}
				page.Items, page.More = resp.Result, true
			} else {
				var resp ozonclient.FBSListResponse
				if err := c.Decode(ctx, api, body, &resp); err != nil {
					return page, err
				}
				page.Items, page.More = resp.Result.Postings, resp.Result.HasNext
			}
			page.Next = offset + len(page.Items)
			return page, nil
		},
		func(ctx context.Context, raws []json.RawMessage) error {
			postings, skipped := collector.DecodeEach[ozonclient.Posting](ctx, &c.Base, api, raws)
			res.Skipped += skipped
			received += len(postings)
			n, err := c.savePostings(ctx, deliverySchema, postings)
			res.Records += n
			return err
		})
	res.Add(api+"_pages", pages)
	res.Add(api+"_postings", received)
	return err
}

type postingKey struct {
	posting string
	sku     int64
}

func (c *Collector) savePostings(ctx context.Context, deliverySchema string, postings []ozonclient.Posting) (int, error) {
	saved := 0
	err := c.store.InTx(ctx, func(tx *gorm.DB) error {
		seen := map[postingKey]int{}
		var batch []models.OzonOrder
		for _, p := range postings {
			for i, item := range p.Products {
				article, _ := ParseOfferID(*item.OfferID)
				product, err := c.product(ctx, tx, article, item.SKU, item.Barcode)
				if err != nil {
					return err
				}
				if product == nil {
					continue
				}
				fin := financialData(p.FinancialData, i)
				row := models.OzonOrder{
					TokenID:           c.CredentialID(),
					ProductID:         product.ID,
					PostingNumber:     *p.PostingNumber,
					SKU:               *item.SKU,
					OrderID:           p.OrderID,
					OrderNumber:       strPtr(p.OrderNumber),
					OfferID:           *item.OfferID,
					Quantity:          *item.Quantity,
					ShipmentDate:      p.ShipmentDate.Ptr(),
					InProcessAt:       p.InProcessAt.Ptr(),
					DeliverySchema:    deliverySchema,
					Price:             parseDecimal(*item.Price),
					Status:            *p.Status,
					CommissionAmount:  fin.CommissionAmount,
					CommissionPercent: fin.CommissionPercent,
					Payout:            fin.Payout,
				}
				k := postingKey{row.PostingNumber, row.SKU}
				if j, ok := seen[k]; ok {
					batch[j] = row
					continue
				}
				seen[k] = len(batch)
				batch = append(batch, row)
			}
		}
		n, err := c.store.UpsertOzonOrdersTx(ctx, tx, batch)
		if err != nil {
			return err
		}
		saved = int(n)
		return nil
	})
	return saved, err
}

// financialData picks the commission block of the i-th product, falling
// back to the posting level fields.
func financialData(fd *ozonclient.PostingFinancialData, i int) ozonclient.FinancialData {
	if fd == nil {
		return ozonclient.FinancialData{}
	}
	if i < len(fd.Products) {
		return fd.Products[i]
	}
	return fd.FinancialData
}

func parseDecimal(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
