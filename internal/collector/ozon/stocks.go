package ozon

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	ozonclient "marketplacer/internal/client/ozon"
	"marketplacer/internal/collector"
	"marketplacer/internal/models"
)

const (
	apiReportCreate = "report_create"
	apiReportInfo   = "report_info"

	// Columns of the products report: offer id, ..., ozon sku, barcode, ...
	// FBO stock available for sale.
	colOfferID    = 0
	colSKU        = 2
	colBarcode    = 3
	colFBOPresent = 17
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// collectStocks orders the products report, waits for it and stores one
// FBO stock row per product for today. A transient status error counts as
// a poll that found the report not ready.
func (c *Collector) collectStocks(ctx context.Context, res *collector.Result) error {
	body, err := c.api.CreateProductsReport(ctx)
	if err != nil {
		return err
	}
	var created ozonclient.ReportCreateResponse
	if err := c.Decode(ctx, apiReportCreate, body, &created); err != nil {
		return err
	}
	code := *created.Result.Code
	c.Log().Info("products report ordered", zap.String("code", code))

	fileURL, err := collector.PollUntil(ctx, c.Pause, c.opts.ReportPollInterval, c.opts.ReportMaxPolls,
		func(ctx context.Context) (string, bool, error) {
			body, err := c.api.ReportInfo(ctx, code)
			if err != nil {
				if ctx.Err() == nil && collector.Classify(err) == collector.Transient {
					c.Log().Warn("report status unavailable", zap.String("code", code), zap.Error(err))
					return "", false, nil
				}
				return "", false, err
			}
			var info ozonclient.ReportInfoResponse
			if err := c.Decode(ctx, apiReportInfo, body, &info); err != nil {
				return "", false, err
			}
			switch *info.Result.Status {
			case ozonclient.ReportStatusSuccess:
				return info.Result.File, true, nil
			case ozonclient.ReportStatusFailed:
				return "", false, fmt.Errorf("%w: report %s: %s", collector.ErrReportFailed, code, info.Result.Error)
			default:
				return "", false, nil
			}
		})
	if err != nil {
		return err
	}
	if fileURL == "" {
		return fmt.Errorf("%w: report %s has no file", collector.ErrReportFailed, code)
	}

	raw, err := c.api.Download(ctx, fileURL)
	if err != nil {
		return err
	}
	rows, skipped, err := parseStockReport(raw)
	if err != nil {
		return err
	}
	res.Skipped += skipped
	res.Add("rows", len(rows))

	today := c.Today()
	return c.store.InTx(ctx, func(tx *gorm.DB) error {
		byProduct := map[uint]int{}
		var batch []models.OzonStock
		for _, row := range rows {
			product, err := c.product(ctx, tx, row.offerID, row.sku, row.barcode)
			if err != nil {
				return err
			}
			if product == nil {
				res.Skipped++
				continue
			}
			if i, ok := byProduct[product.ID]; ok {
				batch[i].FBOPresent += row.fboPresent
				continue
			}
			var sku *string
			if row.sku != nil {
				s := strconv.FormatInt(*row.sku, 10)
				sku = &s
			}
			byProduct[product.ID] = len(batch)
			batch = append(batch, models.OzonStock{
				TokenID:    c.CredentialID(),
				ProductID:  product.ID,
				Date:       today,
				OfferID:    row.offerID,
				ProductSKU: sku,
				FBOPresent: row.fboPresent,
				UpdatedAt:  c.Clock(),
			})
		}
		if err := c.store.UpsertOzonStocksTx(ctx, tx, batch); err != nil {
			return err
		}
		res.Records += len(batch)
		return nil
	})
}

type stockRow struct {
	offerID    string
	sku        *int64
	barcode    string
	fboPresent int
}

// parseStockReport reads the semicolon separated report. The header row
// and rows too short to carry the stock column are skipped.
func parseStockReport(raw []byte) ([]stockRow, int, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = ';'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var (
		rows    []stockRow
		skipped int
		header  = true
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: stock report: %v", collector.ErrReportFailed, err)
		}
		if header {
			header = false
			continue
		}
		if len(rec) <= colFBOPresent {
			skipped++
			continue
		}
		offerID := cell(rec[colOfferID])
		if offerID == "" {
			skipped++
			continue
		}
		row := stockRow{
			offerID:    offerID,
			barcode:    cell(rec[colBarcode]),
			fboPresent: parseCount(rec[colFBOPresent]),
		}
		if sku, err := strconv.ParseInt(cell(rec[colSKU]), 10, 64); err == nil {
			row.sku = &sku
		}
		rows = append(rows, row)
	}
	if header {
		return nil, 0, fmt.Errorf("%w: stock report is empty", collector.ErrReportFailed)
	}
	return rows, skipped, nil
}

// cell strips whitespace and the leading apostrophe the report puts in
// front of numeric ids.
func cell(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "'")
}

func parseCount(s string) int {
	f, err := strconv.ParseFloat(strings.ReplaceAll(cell(s), ",", "."), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f)
}
