// Package repotest is an in-memory repository.Repository for tests. It keeps
// the natural-key and monotonic semantics of the gorm store.
package repotest

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"marketplacer/internal/models"
	"marketplacer/internal/repository"
)

var _ repository.Repository = (*Repo)(nil)

type productKey struct {
	tokenID     uint
	marketplace string
	article     string
}

type warehouseKey struct {
	marketplace string
	name        string
}

type syncKey struct {
	tokenID  uint
	endpoint string
}

type wbStockKey struct {
	tokenID, productID, warehouseID uint
	day                             string
}

type ozonStockKey struct {
	tokenID, productID uint
	day                string
}

type ozonOrderKey struct {
	posting string
	sku     int64
}

type pairKey struct {
	a uint
	b string
}

type Repo struct {
	mu     sync.Mutex
	nextID uint

	Credentials    []models.Credential
	ManualTasks    []models.ManualTask
	CollectionLogs []models.CollectionLog

	SyncStates map[syncKey]*models.SyncState
	Products   map[productKey]*models.Product
	Warehouses map[warehouseKey]*models.Warehouse

	WBSales       map[string]models.WBSale
	WBOrders      map[string]models.WBOrder
	WBIncomes     map[pairKey]*models.WBIncome
	WBIncomeItems map[[2]uint]models.WBIncomeItem
	WBStocks      map[wbStockKey]models.WBStock
	WBGoods       map[string]models.WBGood

	OzonStocks       map[ozonStockKey]models.OzonStock
	OzonOrders       map[ozonOrderKey]models.OzonOrder
	OzonSales        map[int64]models.OzonSale
	OzonSupplyOrders map[pairKey]*models.OzonSupplyOrder
	OzonSupplyItems  map[pairKey]models.OzonSupplyItem

	// FailInsertLog makes InsertCollectionLog fail.
	FailInsertLog error
	// FailGetCredential makes GetCredential fail.
	FailGetCredential error
	// FailFinishManual makes the next FailFinishManual calls of
	// FinishManualTask fail.
	FailFinishManual int
}

func New(creds ...models.Credential) *Repo {
	return &Repo{
		Credentials:      creds,
		SyncStates:       map[syncKey]*models.SyncState{},
		Products:         map[productKey]*models.Product{},
		Warehouses:       map[warehouseKey]*models.Warehouse{},
		WBSales:          map[string]models.WBSale{},
		WBOrders:         map[string]models.WBOrder{},
		WBIncomes:        map[pairKey]*models.WBIncome{},
		WBIncomeItems:    map[[2]uint]models.WBIncomeItem{},
		WBStocks:         map[wbStockKey]models.WBStock{},
		WBGoods:          map[string]models.WBGood{},
		OzonStocks:       map[ozonStockKey]models.OzonStock{},
		OzonOrders:       map[ozonOrderKey]models.OzonOrder{},
		OzonSales:        map[int64]models.OzonSale{},
		OzonSupplyOrders: map[pairKey]*models.OzonSupplyOrder{},
		OzonSupplyItems:  map[pairKey]models.OzonSupplyItem{},
	}
}

func (r *Repo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *Repo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (r *Repo) ListActiveCredentials(ctx context.Context) ([]models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Credential
	for _, c := range r.Credentials {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Repo) GetCredential(ctx context.Context, id uint) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailGetCredential != nil {
		return nil, r.FailGetCredential
	}
	for _, c := range r.Credentials {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (r *Repo) GetSyncState(ctx context.Context, tokenID uint, endpoint string) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.SyncStates[syncKey{tokenID, endpoint}]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r *Repo) EnsureSyncState(ctx context.Context, tokenID uint, endpoint string) (*models.SyncState, error) {
	r.mu.Lock()
	k := syncKey{tokenID, endpoint}
	if _, ok := r.SyncStates[k]; !ok {
		r.SyncStates[k] = &models.SyncState{ID: r.id(), TokenID: tokenID, Endpoint: endpoint}
	}
	r.mu.Unlock()
	return r.GetSyncState(ctx, tokenID, endpoint)
}

func (r *Repo) SaveSyncState(ctx context.Context, state *models.SyncState, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := syncKey{state.TokenID, state.Endpoint}
	cur, ok := r.SyncStates[k]
	if !ok {
		cp := *state
		cp.ID = r.id()
		if !success {
			cp.LastSuccessfulSync = nil
		}
		r.SyncStates[k] = &cp
		return nil
	}
	cur.LastSyncDate = state.LastSyncDate
	cur.NextSyncDate = state.NextSyncDate
	cur.LastError = state.LastError
	cur.UpdatedAt = state.UpdatedAt
	if success {
		if cur.LastSuccessfulSync == nil || (state.LastSuccessfulSync != nil && state.LastSuccessfulSync.After(*cur.LastSuccessfulSync)) {
			cur.LastSuccessfulSync = state.LastSuccessfulSync
		}
		cur.StatsJSON = state.StatsJSON
		if state.Cursor != nil {
			cur.Cursor = state.Cursor
		}
	}
	return nil
}

func (r *Repo) SaveSyncCursorTx(ctx context.Context, tx *gorm.DB, tokenID uint, endpoint, cursor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := syncKey{tokenID, endpoint}
	cur, ok := r.SyncStates[k]
	if !ok {
		cur = &models.SyncState{ID: r.id(), TokenID: tokenID, Endpoint: endpoint}
		r.SyncStates[k] = cur
	}
	cur.Cursor = &cursor
	return nil
}

func (r *Repo) ListSyncStates(ctx context.Context, params repository.ListSyncStatesParams) ([]models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncState
	for _, st := range r.SyncStates {
		if params.TokenID != nil && st.TokenID != *params.TokenID {
			continue
		}
		if params.Endpoint != nil && *params.Endpoint != "" && st.Endpoint != *params.Endpoint {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, params.Limit, params.Offset), nil
}

func (r *Repo) InsertCollectionLog(ctx context.Context, item *models.CollectionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailInsertLog != nil {
		return r.FailInsertLog
	}
	item.ID = r.id()
	r.CollectionLogs = append(r.CollectionLogs, *item)
	return nil
}

func (r *Repo) ListCollectionLogs(ctx context.Context, params repository.ListCollectionLogsParams) ([]models.CollectionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CollectionLog
	for _, l := range r.CollectionLogs {
		if params.TokenID != nil && l.TokenID != *params.TokenID {
			continue
		}
		if params.Endpoint != nil && *params.Endpoint != "" && l.Endpoint != *params.Endpoint {
			continue
		}
		if params.Status != nil && *params.Status != "" && l.Status != *params.Status {
			continue
		}
		if params.Since != nil && l.StartedAt.Before(*params.Since) {
			continue
		}
		out = append(out, l)
	}
	return page(out, params.Limit, params.Offset), nil
}

// Logs returns a copy of the collection log rows.
func (r *Repo) Logs() []models.CollectionLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CollectionLog(nil), r.CollectionLogs...)
}

func claimable(t models.ManualTask, staleBefore time.Time) bool {
	if t.Status == models.ManualTaskPending {
		return true
	}
	return t.Status == models.ManualTaskProcessing && t.StartedAt != nil && t.StartedAt.Before(staleBefore)
}

func (r *Repo) ListPendingManualTasks(ctx context.Context, limit int, staleBefore time.Time) ([]models.ManualTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ManualTask
	for _, t := range r.ManualTasks {
		if claimable(t, staleBefore) {
			out = append(out, t)
		}
	}
	return page(out, limit, 0), nil
}

func (r *Repo) ClaimManualTask(ctx context.Context, id uint, startedAt, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ManualTasks {
		t := &r.ManualTasks[i]
		if t.ID == id && claimable(*t, staleBefore) {
			t.Status = models.ManualTaskProcessing
			t.StartedAt = &startedAt
			return true, nil
		}
	}
	return false, nil
}

func (r *Repo) FinishManualTask(ctx context.Context, id uint, status string, errMsg *string, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailFinishManual > 0 {
		r.FailFinishManual--
		return errors.New("repotest: finish manual task failed")
	}
	for i := range r.ManualTasks {
		t := &r.ManualTasks[i]
		if t.ID == id {
			t.Status = status
			t.ErrorMessage = errMsg
			t.FinishedAt = &finishedAt
		}
	}
	return nil
}

// ManualTask returns the row with id.
func (r *Repo) ManualTask(id uint) models.ManualTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.ManualTasks {
		if t.ID == id {
			return t
		}
	}
	return models.ManualTask{}
}

func (r *Repo) GetOrCreateProductTx(ctx context.Context, tx *gorm.DB, item *models.Product) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := productKey{item.TokenID, item.Marketplace, item.Article}
	if p, ok := r.Products[k]; ok {
		cp := *p
		return &cp, nil
	}
	row := *item
	row.ID = r.id()
	r.Products[k] = &row
	cp := row
	return &cp, nil
}

func (r *Repo) GetOrCreateWarehouseTx(ctx context.Context, tx *gorm.DB, marketplace, name string) (*models.Warehouse, error) {
	if name == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := warehouseKey{marketplace, name}
	if w, ok := r.Warehouses[k]; ok {
		cp := *w
		return &cp, nil
	}
	row := &models.Warehouse{ID: r.id(), Marketplace: marketplace, Name: name}
	r.Warehouses[k] = row
	cp := *row
	return &cp, nil
}

func (r *Repo) InsertWBSalesTx(ctx context.Context, tx *gorm.DB, items []models.WBSale) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, it := range items {
		if _, ok := r.WBSales[it.Srid]; ok {
			continue
		}
		it.ID = r.id()
		r.WBSales[it.Srid] = it
		n++
	}
	return n, nil
}

func (r *Repo) UpsertWBOrdersTx(ctx context.Context, tx *gorm.DB, items []models.WBOrder) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		if cur, ok := r.WBOrders[it.Srid]; ok {
			cur.IsCancel = it.IsCancel
			cur.CancelDate = it.CancelDate
			cur.LastChangeDate = it.LastChangeDate
			r.WBOrders[it.Srid] = cur
			continue
		}
		it.ID = r.id()
		r.WBOrders[it.Srid] = it
	}
	return int64(len(items)), nil
}

func (r *Repo) UpsertWBIncomeTx(ctx context.Context, tx *gorm.DB, item *models.WBIncome) (*models.WBIncome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey{item.TokenID, itoa(item.IncomeID)}
	if cur, ok := r.WBIncomes[k]; ok {
		cur.LastChangeDate = item.LastChangeDate
		cur.Status = item.Status
		cp := *cur
		return &cp, nil
	}
	row := *item
	row.ID = r.id()
	r.WBIncomes[k] = &row
	cp := row
	return &cp, nil
}

func (r *Repo) InsertWBIncomeItemsTx(ctx context.Context, tx *gorm.DB, items []models.WBIncomeItem) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, it := range items {
		k := [2]uint{it.IncomeID, it.ProductID}
		if _, ok := r.WBIncomeItems[k]; ok {
			continue
		}
		it.ID = r.id()
		r.WBIncomeItems[k] = it
		n++
	}
	return n, nil
}

func (r *Repo) UpsertWBStocksTx(ctx context.Context, tx *gorm.DB, items []models.WBStock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		k := wbStockKey{it.TokenID, it.ProductID, it.WarehouseID, it.Date.Format("2006-01-02")}
		if cur, ok := r.WBStocks[k]; ok {
			it.ID = cur.ID
		} else {
			it.ID = r.id()
		}
		r.WBStocks[k] = it
	}
	return nil
}

func (r *Repo) UpsertWBGoodsTx(ctx context.Context, tx *gorm.DB, items []models.WBGood) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		if cur, ok := r.WBGoods[it.Barcode]; ok {
			it.ID = cur.ID
		} else {
			it.ID = r.id()
		}
		r.WBGoods[it.Barcode] = it
	}
	return nil
}

func (r *Repo) EarliestWBIncomeDate(ctx context.Context, tokenID uint) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out *time.Time
	for _, in := range r.WBIncomes {
		if in.TokenID != tokenID {
			continue
		}
		if out == nil || in.Date.Before(*out) {
			d := in.Date
			out = &d
		}
	}
	return out, nil
}

func (r *Repo) HasWBStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := day.Format("2006-01-02")
	for k := range r.WBStocks {
		if k.tokenID == tokenID && k.day == want {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repo) UpsertOzonStocksTx(ctx context.Context, tx *gorm.DB, items []models.OzonStock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		k := ozonStockKey{it.TokenID, it.ProductID, it.Date.Format("2006-01-02")}
		if cur, ok := r.OzonStocks[k]; ok {
			it.ID = cur.ID
		} else {
			it.ID = r.id()
		}
		r.OzonStocks[k] = it
	}
	return nil
}

func (r *Repo) UpsertOzonOrdersTx(ctx context.Context, tx *gorm.DB, items []models.OzonOrder) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		k := ozonOrderKey{it.PostingNumber, it.SKU}
		if cur, ok := r.OzonOrders[k]; ok {
			cur.Status = it.Status
			r.OzonOrders[k] = cur
			continue
		}
		it.ID = r.id()
		r.OzonOrders[k] = it
	}
	return int64(len(items)), nil
}

func (r *Repo) InsertOzonSalesTx(ctx context.Context, tx *gorm.DB, items []models.OzonSale) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, it := range items {
		if _, ok := r.OzonSales[it.OperationID]; ok {
			continue
		}
		it.ID = r.id()
		r.OzonSales[it.OperationID] = it
		n++
	}
	return n, nil
}

func (r *Repo) KnownOzonSupplyOrderIDs(ctx context.Context, tokenID uint, ids []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := r.OzonSupplyOrders[pairKey{tokenID, id}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *Repo) UpsertOzonSupplyOrderTx(ctx context.Context, tx *gorm.DB, item *models.OzonSupplyOrder) (*models.OzonSupplyOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey{item.TokenID, item.SupplyOrderID}
	row := *item
	if cur, ok := r.OzonSupplyOrders[k]; ok {
		row.ID = cur.ID
	} else {
		row.ID = r.id()
	}
	r.OzonSupplyOrders[k] = &row
	cp := row
	return &cp, nil
}

func (r *Repo) UpsertOzonSupplyItemsTx(ctx context.Context, tx *gorm.DB, items []models.OzonSupplyItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		k := pairKey{it.SupplyOrderID, itoa(it.SKU)}
		if cur, ok := r.OzonSupplyItems[k]; ok {
			it.ID = cur.ID
		} else {
			it.ID = r.id()
		}
		r.OzonSupplyItems[k] = it
	}
	return nil
}

func (r *Repo) EarliestOzonSupplyTimeslot(ctx context.Context, tokenID uint) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out *time.Time
	for _, so := range r.OzonSupplyOrders {
		if so.TokenID != tokenID || so.TimeslotFrom == nil {
			continue
		}
		if out == nil || so.TimeslotFrom.Before(*out) {
			t := *so.TimeslotFrom
			out = &t
		}
	}
	return out, nil
}

func (r *Repo) HasOzonStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := day.Format("2006-01-02")
	for k := range r.OzonStocks {
		if k.tokenID == tokenID && k.day == want {
			return true, nil
		}
	}
	return false, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
