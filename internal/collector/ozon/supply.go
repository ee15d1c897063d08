package ozon

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	ozonclient "marketplacer/internal/client/ozon"
	"marketplacer/internal/collector"
	"marketplacer/internal/models"
)

const (
	supplyListPageSize = 100
	supplyGetBatch     = 50
	bundlePageSize     = 100

	apiSupplyList   = "supply_order_list"
	apiSupplyGet    = "supply_order_get"
	apiSupplyBundle = "supply_order_bundle"
)

// collectSupplyOrders stores completed supply orders that are not known
// yet, together with the items of their bundle. An order and its items are
// committed together, so a failed bundle leaves the order to the next run.
func (c *Collector) collectSupplyOrders(ctx context.Context, res *collector.Result) error {
	ids, err := c.supplyOrderIDs(ctx)
	if err != nil {
		return err
	}
	res.Add("listed", len(ids))

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = strconv.FormatInt(id, 10)
	}
	known, err := c.store.KnownOzonSupplyOrderIDs(ctx, c.CredentialID(), keys)
	if err != nil {
		return err
	}
	fresh := make([]int64, 0, len(ids))
	for i, id := range ids {
		if !known[keys[i]] {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		c.Log().Info("no new supply orders", zap.Int("listed", len(ids)))
		return nil
	}

	for start := 0; start < len(fresh); start += supplyGetBatch {
		if start > 0 {
			if err := c.Pause(ctx, c.opts.PagePause); err != nil {
				return err
			}
		}
		end := min(start+supplyGetBatch, len(fresh))
		body, err := c.api.SupplyOrderGet(ctx, fresh[start:end])
		if err != nil {
			return err
		}
		var resp ozonclient.SupplyOrderGetResponse
		if err := c.Decode(ctx, apiSupplyGet, body, &resp); err != nil {
			return err
		}
		for _, order := range resp.Orders {
			n, err := c.saveSupplyOrder(ctx, order)
			if err != nil {
				return err
			}
			res.Records += n
			res.Add("orders", 1)
		}
	}
	return nil
}

func (c *Collector) supplyOrderIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	_, err := collector.Paginate(ctx, "", supplyListPageSize,
		func(ctx context.Context, lastID string) (collector.Page[int64, string], error) {
			var page collector.Page[int64, string]
			body, err := c.api.SupplyOrderList(ctx, ozonclient.NewSupplyOrderListRequest(lastID, supplyListPageSize))
			if err != nil {
				return page, err
			}
			var resp ozonclient.SupplyOrderListResponse
			if err := c.Decode(ctx, apiSupplyList, body, &resp); err != nil {
				return page, err
			}
			page.Items = resp.OrderIDs
			page.Next = resp.LastID
			page.More = resp.LastID != "" && resp.LastID != lastID
			return page, nil
		},
		func(ctx context.Context, items []int64) error {
			ids = append(ids, items...)
			return nil
		})
	return ids, err
}

func (c *Collector) bundleItems(ctx context.Context, bundleID string) ([]ozonclient.BundleItem, error) {
	var items []ozonclient.BundleItem
	_, err := collector.Paginate(ctx, "", 0,
		func(ctx context.Context, lastID string) (collector.Page[ozonclient.BundleItem, string], error) {
			var page collector.Page[ozonclient.BundleItem, string]
			req := ozonclient.BundleRequest{BundleIDs: []string{bundleID}, Limit: bundlePageSize, LastID: lastID}
			body, err := collector.Retry(ctx, c.Pause, c.opts.BundleRetries, c.opts.BundleRetryWait, retryBundle,
				func(ctx context.Context) ([]byte, error) {
					return c.api.SupplyOrderBundle(ctx, req)
				})
			if err != nil {
				return page, err
			}
			var resp ozonclient.BundleResponse
			if err := c.Decode(ctx, apiSupplyBundle, body, &resp); err != nil {
				return page, err
			}
			page.Items = resp.Items
			page.Next = resp.LastID
			page.More = resp.HasNext && resp.LastID != ""
			return page, nil
		},
		func(ctx context.Context, page []ozonclient.BundleItem) error {
			items = append(items, page...)
			return nil
		})
	return items, err
}

// retryBundle retries throttling and server errors of the bundle endpoint.
func retryBundle(err error) bool {
	return collector.Classify(err) == collector.Transient
}

func (c *Collector) saveSupplyOrder(ctx context.Context, order ozonclient.SupplyOrder) (int, error) {
	header := models.OzonSupplyOrder{
		TokenID:           c.CredentialID(),
		SupplyOrderID:     strconv.FormatInt(*order.OrderID, 10),
		SupplyOrderNumber: strPtr(order.OrderNumber),
		CreatedAtAPI:      order.CreatedDate.Ptr(),
		UpdatedAtAPI:      order.StateUpdatedDate.Ptr(),
		Status:            strPtr(order.State),
	}
	if len(order.Supplies) > 0 {
		supply := order.Supplies[0]
		header.BundleID = strPtr(supply.BundleID)
		if supply.Timeslot != nil {
			header.TimeslotFrom = supply.Timeslot.From.Ptr()
		}
	}
	var warehouseName string
	if order.DropOffWarehouse != nil {
		warehouseName = order.DropOffWarehouse.Name
		header.WarehouseNameAPI = strPtr(warehouseName)
	}

	var items []ozonclient.BundleItem
	if header.BundleID != nil {
		var err error
		items, err = c.bundleItems(ctx, *header.BundleID)
		if err != nil {
			return 0, err
		}
		if err := c.Pause(ctx, c.opts.PagePause); err != nil {
			return 0, err
		}
	}

	saved := 0
	err := c.store.InTx(ctx, func(tx *gorm.DB) error {
		wh, err := c.GetOrCreateWarehouse(ctx, tx, warehouseName)
		if err != nil {
			return err
		}
		if wh != nil {
			header.WarehouseID = &wh.ID
		}
		stored, err := c.store.UpsertOzonSupplyOrderTx(ctx, tx, &header)
		if err != nil {
			return err
		}

		bySKU := map[int64]int{}
		var rows []models.OzonSupplyItem
		for _, it := range items {
			if it.SKU == nil {
				continue
			}
			article, size := ParseOfferID(it.OfferID)
			product, err := c.product(ctx, tx, article, it.ProductID, it.Barcode)
			if err != nil {
				return err
			}
			if product == nil {
				continue
			}
			row := models.OzonSupplyItem{
				SupplyOrderID: stored.ID,
				SKU:           *it.SKU,
				ProductID:     product.ID,
				OfferID:       it.OfferID,
				Article:       article,
				Size:          size,
				Quantity:      it.Quantity,
				Barcode:       strPtr(it.Barcode),
				Name:          strPtr(it.Name),
				BundleID:      *header.BundleID,
				TimeslotFrom:  header.TimeslotFrom,
			}
			if i, ok := bySKU[row.SKU]; ok {
				rows[i].Quantity += row.Quantity
				continue
			}
			bySKU[row.SKU] = len(rows)
			rows = append(rows, row)
		}
		if err := c.store.UpsertOzonSupplyItemsTx(ctx, tx, rows); err != nil {
			return err
		}
		saved = len(rows)
		return nil
	})
	return saved, err
}
