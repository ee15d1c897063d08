package wildberries

import (
	"context"
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	wbclient "marketplacer/internal/client/wildberries"
	"marketplacer/internal/collector"
	"marketplacer/internal/models"
)

const apiCards = "cards"

// collectCards walks the whole card catalog and stores one WBGood per
// barcode. Each page is committed on its own.
func (c *Collector) collectCards(ctx context.Context, res *collector.Result) error {
	start := wbclient.CardsCursor{Limit: wbclient.CardsPageSize}
	pages, err := collector.Paginate(ctx, start, wbclient.CardsPageSize, c.cardsPage,
		func(ctx context.Context, raws []json.RawMessage) error {
			cards, skipped := collector.DecodeEach[wbclient.Card](ctx, &c.Base, apiCards, raws)
			res.Skipped += skipped
			n, err := c.saveCards(ctx, cards)
			res.Records += n
			return err
		})
	res.Add("pages", pages)
	return err
}

func (c *Collector) cardsPage(ctx context.Context, cursor wbclient.CardsCursor) (collector.Page[json.RawMessage, wbclient.CardsCursor], error) {
	var page collector.Page[json.RawMessage, wbclient.CardsCursor]
	body, err := collector.Retry(ctx, c.Pause, c.opts.CardsRetries, c.opts.CardsThrottle, collector.TooManyRequests,
		func(ctx context.Context) ([]byte, error) {
			return c.api.CardsList(ctx, cursor)
		})
	if err != nil {
		return page, err
	}
	var resp wbclient.CardsListResponse
	if err := c.Decode(ctx, apiCards, body, &resp); err != nil {
		return page, err
	}
	page.Items = resp.Cards
	if resp.Cursor != nil && (resp.Cursor.UpdatedAt != "" || resp.Cursor.NmID != 0) {
		page.More = true
		page.Next = wbclient.CardsCursor{
			Limit:     wbclient.CardsPageSize,
			UpdatedAt: resp.Cursor.UpdatedAt,
			NmID:      resp.Cursor.NmID,
		}
	}
	return page, nil
}

func (c *Collector) saveCards(ctx context.Context, cards []wbclient.Card) (int, error) {
	saved := 0
	err := c.store.InTx(ctx, func(tx *gorm.DB) error {
		byBarcode := map[string]int{}
		var goods []models.WBGood
		for _, card := range cards {
			if card.NmID == nil {
				continue
			}
			if card.VendorCode != "" {
				if _, err := c.GetOrCreateProduct(ctx, tx, models.Product{
					Article: card.VendorCode,
					NmID:    card.NmID,
					Brand:   strPtr(card.Brand),
					Subject: strPtr(card.SubjectName),
				}); err != nil {
					return err
				}
			}
			photos := photosJSON(card.Photos)
			for _, size := range card.Sizes {
				for _, sku := range size.Skus {
					sku = strings.TrimSpace(sku)
					if sku == "" {
						continue
					}
					good := models.WBGood{
						TokenID:       c.CredentialID(),
						Barcode:       sku,
						NmID:          *card.NmID,
						VendorCode:    strPtr(card.VendorCode),
						Brand:         strPtr(card.Brand),
						Title:         strPtr(card.Title),
						SubjectName:   strPtr(card.SubjectName),
						TechSize:      strPtr(size.TechSize),
						WBSize:        strPtr(size.WBSize),
						Photos:        photos,
						CardCreatedAt: card.CreatedAt.Ptr(),
						CardUpdatedAt: card.UpdatedAt.Ptr(),
						UpdatedAt:     c.Clock(),
					}
					if i, ok := byBarcode[sku]; ok {
						goods[i] = good
						continue
					}
					byBarcode[sku] = len(goods)
					goods = append(goods, good)
				}
			}
		}
		if err := c.store.UpsertWBGoodsTx(ctx, tx, goods); err != nil {
			return err
		}
		saved = len(goods)
		return nil
	})
	return saved, err
}

func photosJSON(photos []wbclient.CardPhoto) datatypes.JSON {
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		if u := p.URL(); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	raw, err := json.Marshal(urls)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
