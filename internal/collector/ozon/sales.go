package ozon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	ozonclient "marketplacer/internal/client/ozon"
	"marketplacer/internal/collector"
	"marketplacer/internal/models"
)

const (
	financePageSize = 1000
	apiFinance      = "finance_transactions"
)

// collectSales walks delivered-to-customer finance operations month by
// month. Every page is committed on its own, together with the sync cursor
// "YYYY-MM:page", so a later failure keeps what was already stored.
func (c *Collector) collectSales(ctx context.Context, res *collector.Result) error {
	now := c.Clock()
	start, err := c.salesStart(ctx, now)
	if err != nil {
		return err
	}
	months := monthWindows(start, now)
	c.Log().Info("collecting finance operations", zap.Time("from", start), zap.Int("months", len(months)))

	for i, m := range months {
		if i > 0 {
			if err := c.Pause(ctx, c.opts.PagePause); err != nil {
				return err
			}
		}
		if err := c.collectSalesMonth(ctx, res, m[0], m[1]); err != nil {
			return err
		}
	}
	res.Add("months", len(months))
	return nil
}

func (c *Collector) salesStart(ctx context.Context, now time.Time) (time.Time, error) {
	last, err := c.LastSuccess(ctx, collector.EndpointOzonSales)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return *last, nil
	}
	first, err := c.firstTimeslot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if first != nil {
		return *first, nil
	}
	return now.AddDate(0, -c.opts.SalesLookbackMonths, 0), nil
}

// monthWindows splits [start, now] into calendar months. The first window
// starts at the beginning of start's month; the last one ends at now.
func monthWindows(start, now time.Time) [][2]time.Time {
	start, now = start.UTC(), now.UTC()
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out [][2]time.Time
	for !cur.After(now) {
		next := cur.AddDate(0, 1, 0)
		end := next.Add(-time.Second)
		if end.After(now) {
			end = now
		}
		out = append(out, [2]time.Time{cur, end})
		cur = next
	}
	return out
}

func salesCursor(month time.Time, page int) string {
	return fmt.Sprintf("%s:%d", month.Format("2006-01"), page)
}

func (c *Collector) collectSalesMonth(ctx context.Context, res *collector.Result, from, to time.Time) error {
	current := 0
	_, err := collector.Paginate(ctx, 1, financePageSize,
		func(ctx context.Context, page int) (collector.Page[json.RawMessage, int], error) {
			current = page
			var out collector.Page[json.RawMessage, int]
			body, err := collector.Retry(ctx, c.Pause, c.opts.FinanceRetries, c.opts.FinanceRetryWait, collector.TooManyRequests,
				func(ctx context.Context) ([]byte, error) {
					return c.api.FinanceTransactions(ctx, ozonclient.NewFinanceRequest(from, to, page, financePageSize))
				})
			if err != nil {
				return out, err
			}
			var resp ozonclient.FinanceResponse
			if err := c.Decode(ctx, apiFinance, body, &resp); err != nil {
				return out, err
			}
			out.Items = resp.Result.Operations
			out.More = resp.Result.PageCount == 0 || page < resp.Result.PageCount
			out.Next = page + 1
			return out, nil
		},
		func(ctx context.Context, raws []json.RawMessage) error {
			ops, skipped := collector.DecodeEach[ozonclient.FinanceOperation](ctx, &c.Base, apiFinance, raws)
			res.Skipped += skipped
			res.Add("operations", len(ops))
			cursor := salesCursor(from, current)
			n, dropped, err := c.saveSales(ctx, ops, raws, cursor)
			res.Records += n
			res.Skipped += dropped
			if err == nil {
				res.Cursor = cursor
			}
			return err
		})
	return err
}

// saveSales stores the delivered operations of one page and moves the sync
// cursor in the same transaction. It reports the rows saved and the
// operations dropped for lacking a posting number.
func (c *Collector) saveSales(ctx context.Context, ops []ozonclient.FinanceOperation, raws []json.RawMessage, cursor string) (int, int, error) {
	rawByID := indexRaw(raws)
	batch := make([]models.OzonSale, 0, len(ops))
	dropped := 0
	for _, op := range ops {
		if *op.OperationType != ozonclient.OperationDeliveredToCustomer {
			continue
		}
		if op.Posting == nil || strings.TrimSpace(op.Posting.PostingNumber) == "" {
			c.Log().Debug("finance operation without posting", zap.Int64("operation_id", *op.OperationID))
			dropped++
			continue
		}
		sale := models.OzonSale{
			TokenID:        c.CredentialID(),
			OperationID:    *op.OperationID,
			PostingNumber:  op.Posting.PostingNumber,
			Quantity:       1,
			OperationDate:  parseOperationDate(*op.OperationDate),
			DeliverySchema: op.Posting.DeliverySchema,
			Price:          op.AccrualsForSale,
			Payout:         op.Amount,
			Status:         "delivered",
			RawJSON:        rawByID[*op.OperationID],
		}
		if len(op.Items) > 0 {
			sale.SKU = op.Items[0].SKU
		}
		batch = append(batch, sale)
	}
	var saved int64
	err := c.store.InTx(ctx, func(tx *gorm.DB) error {
		if len(batch) > 0 {
			n, err := c.store.InsertOzonSalesTx(ctx, tx, batch)
			if err != nil {
				return err
			}
			saved = n
		}
		return c.store.SaveSyncCursorTx(ctx, tx, c.CredentialID(), collector.EndpointOzonSales, cursor)
	})
	return int(saved), dropped, err
}

func indexRaw(raws []json.RawMessage) map[int64]datatypes.JSON {
	out := make(map[int64]datatypes.JSON, len(raws))
	for _, raw := range raws {
		var head struct {
			OperationID int64 `json:"operation_id"`
		}
		if json.Unmarshal(raw, &head) == nil && head.OperationID != 0 {
			out[head.OperationID] = datatypes.JSON(raw)
		}
	}
	return out
}

// parseOperationDate accepts "2006-01-02 15:04:05" (Moscow time, as the
// finance API returns it) and RFC3339.
func parseOperationDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.ParseInLocation(time.DateTime, s, moscow); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

var moscow = time.FixedZone("MSK", 3*60*60)
