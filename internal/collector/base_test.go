package collector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplacer/internal/models"
	"marketplacer/internal/repository/repotest"
	"marketplacer/internal/schema"
)

type recordAlerts struct {
	mu     sync.Mutex
	errs   []string
	fields [][]string
}

func (a *recordAlerts) SchemaError(ctx context.Context, marketplace, api string, err error) {
	a.mu.Lock()
	a.errs = append(a.errs, api)
	a.mu.Unlock()
}

func (a *recordAlerts) NewFields(ctx context.Context, marketplace, api string, fields []string) {
	a.mu.Lock()
	a.fields = append(a.fields, fields)
	a.mu.Unlock()
}

func newBase(repo *repotest.Repo, now *time.Time) *Base {
	return &Base{
		Credential: models.Credential{ID: 7, Marketplace: models.MarketplaceWildberries, IsActive: true},
		Store:      repo,
		Now:        func() time.Time { return *now },
	}
}

func TestRun_SuccessWritesStateAndLog(t *testing.T) {
	repo := repotest.New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBase(repo, &now)

	res, err := b.Run(context.Background(), EndpointSales, func(ctx context.Context, res *Result) error {
		res.Records = 99
		res.Skipped = 1
		return nil
	})
	if err != nil || res.Records != 99 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	st, _ := repo.GetSyncState(context.Background(), 7, EndpointSales)
	if st == nil || !st.HasSucceeded() || !st.LastSuccessfulSync.Equal(now) {
		t.Fatalf("state=%+v", st)
	}
	if st.NextSyncDate == nil || !st.NextSyncDate.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("next_sync_date=%v", st.NextSyncDate)
	}
	var stats map[string]int
	if err := json.Unmarshal(st.StatsJSON, &stats); err != nil || stats["skipped"] != 1 || stats["records"] != 99 {
		t.Fatalf("stats=%s err=%v", st.StatsJSON, err)
	}
	logs := repo.Logs()
	if len(logs) != 1 || logs[0].Status != models.CollectionStatusSuccess || logs[0].RecordsCount != 99 {
		t.Fatalf("logs=%+v", logs)
	}
}

func TestRun_FailureKeepsLastSuccess(t *testing.T) {
	repo := repotest.New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBase(repo, &now)
	ctx := context.Background()

	if _, err := b.Run(ctx, EndpointOrders, func(ctx context.Context, res *Result) error { return nil }); err != nil {
		t.Fatalf("err=%v", err)
	}
	first := now

	now = now.Add(time.Hour)
	boom := errors.New("upstream 503")
	_, err := b.Run(ctx, EndpointOrders, func(ctx context.Context, res *Result) error { return boom })
	if !errors.Is(err, boom) || !IsLogged(err) {
		t.Fatalf("err=%v logged=%v", err, IsLogged(err))
	}
	st, _ := repo.GetSyncState(ctx, 7, EndpointOrders)
	if !st.LastSuccessfulSync.Equal(first) {
		t.Fatalf("last_successful_sync=%v want %v", st.LastSuccessfulSync, first)
	}
	if st.LastError == nil || *st.LastError != "upstream 503" {
		t.Fatalf("last_error=%v", st.LastError)
	}
	if !st.LastSyncDate.Equal(now) {
		t.Fatalf("last_sync_date=%v want %v", st.LastSyncDate, now)
	}
	logs := repo.Logs()
	if len(logs) != 2 || logs[1].Status != models.CollectionStatusError || logs[1].ErrorMessage == nil {
		t.Fatalf("logs=%+v", logs)
	}
}

func TestUpdateSyncState_NeverMovesBackwards(t *testing.T) {
	repo := repotest.New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBase(repo, &now)
	ctx := context.Background()

	later := now.Add(2 * time.Hour)
	if err := b.UpdateSyncState(ctx, EndpointStocks, later, Result{}, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
	if err := b.UpdateSyncState(ctx, EndpointStocks, now, Result{}, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
	got, err := b.LastSuccess(ctx, EndpointStocks)
	if err != nil || got == nil || !got.Equal(later) {
		t.Fatalf("last success=%v want %v", got, later)
	}
}

func TestRun_BookkeepingSurvivesCancel(t *testing.T) {
	repo := repotest.New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBase(repo, &now)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := b.Run(ctx, EndpointIncomes, func(ctx context.Context, res *Result) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if len(repo.Logs()) != 1 {
		t.Fatalf("logs=%d want 1", len(repo.Logs()))
	}
}

type cardRecord struct {
	Barcode string `json:"barcode" validate:"required"`
	Qty     int    `json:"qty"`
}

func TestDecodeEach_SkipsMalformedRecords(t *testing.T) {
	repo := repotest.New()
	now := time.Now()
	b := newBase(repo, &now)
	alerts := &recordAlerts{}
	b.Alerts = alerts

	raws := []json.RawMessage{
		json.RawMessage(`{"barcode":"a","qty":1}`),
		json.RawMessage(`{"qty":2}`),
		json.RawMessage(`{"barcode":"c","qty":"x"}`),
		json.RawMessage(`{"barcode":"d","qty":4,"color":"red"}`),
	}
	items, skipped := DecodeEach[cardRecord](context.Background(), b, "stocks", raws)
	if len(items) != 2 || skipped != 2 {
		t.Fatalf("items=%d skipped=%d", len(items), skipped)
	}
	if len(alerts.errs) != 1 {
		t.Fatalf("schema alerts=%v want one", alerts.errs)
	}
	if len(alerts.fields) != 1 || alerts.fields[0][0] != "color" {
		t.Fatalf("field alerts=%v", alerts.fields)
	}
}

func TestDecode_EnvelopeErrorIsReported(t *testing.T) {
	repo := repotest.New()
	now := time.Now()
	b := newBase(repo, &now)
	alerts := &recordAlerts{}
	b.Alerts = alerts

	var out struct {
		Cards []json.RawMessage `json:"cards" validate:"required"`
	}
	err := b.Decode(context.Background(), "cards", []byte(`{"cursor":{}}`), &out)
	var ve *schema.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err=%v want ValidationError", err)
	}
	if Classify(err) != Permanent || len(alerts.errs) != 1 {
		t.Fatalf("class=%s alerts=%v", Classify(err), alerts.errs)
	}
}

type fakeCollector struct {
	id uint
	mp string
}

func (f fakeCollector) Marketplace() string { return f.mp }
func (f fakeCollector) CredentialID() uint  { return f.id }
func (f fakeCollector) Endpoints() []string { return EndpointsFor(f.mp) }
func (f fakeCollector) Collect(ctx context.Context, endpoint string) (Result, error) {
	return Result{}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Put(fakeCollector{id: 3, mp: models.MarketplaceOzon})
	r.Put(fakeCollector{id: 1, mp: models.MarketplaceWildberries})
	r.Put(fakeCollector{id: 2, mp: models.MarketplaceWildberries})
	r.Remove(2)

	if ids := r.IDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("ids=%v", ids)
	}
	if _, ok := r.Get(2); ok {
		t.Fatalf("removed collector still present")
	}
	counts := r.Count()
	if counts[models.MarketplaceWildberries] != 1 || counts[models.MarketplaceOzon] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	if eps := EndpointsFor(models.MarketplaceOzon); eps[0] != EndpointOzonSupplyOrders {
		t.Fatalf("ozon order=%v", eps)
	}
}
