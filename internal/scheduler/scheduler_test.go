package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"marketplacer/internal/collector"
	"marketplacer/internal/models"
	"marketplacer/internal/repository/repotest"
	"marketplacer/internal/taskqueue"
)

func strPtr(s string) *string { return &s }

func creds() []models.Credential {
	return []models.Credential{
		{ID: 1, Marketplace: models.MarketplaceWildberries, IsActive: true},
		{ID: 2, Marketplace: models.MarketplaceOzon, IsActive: true, StocksSyncTime: strPtr("07:00")},
		{ID: 3, Marketplace: models.MarketplaceWildberries, IsActive: false},
	}
}

func newScheduler(repo *repotest.Repo, now time.Time, opts Options) (*Scheduler, *taskqueue.Queue) {
	q := taskqueue.New(taskqueue.Options{})
	s := New(q, repo, nil, opts)
	s.now = func() time.Time { return now }
	return s, q
}

func drain(t *testing.T, q *taskqueue.Queue) []*taskqueue.Task {
	t.Helper()
	var out []*taskqueue.Task
	for q.Len() > 0 {
		task, ok := q.Dequeue(context.Background(), 10*time.Millisecond)
		if !ok {
			t.Fatalf("dequeue timed out with %d pending", q.Len())
		}
		q.Done(task)
		out = append(out, task)
	}
	return out
}

func endpoints(tasks []*taskqueue.Task, credentialID uint) []string {
	var out []string
	for _, task := range tasks {
		if task.CredentialID == credentialID {
			out = append(out, task.Endpoint)
		}
	}
	return out
}

func TestEnqueueShort_ActiveCredentialsOnly(t *testing.T) {
	repo := repotest.New(creds()...)
	s, q := newScheduler(repo, time.Now().UTC(), Options{})

	n, err := s.EnqueueShort(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("n=%d err=%v want 4", n, err)
	}
	tasks := drain(t, q)
	if got := strings.Join(endpoints(tasks, 1), ","); got != "orders,sales" {
		t.Fatalf("wb endpoints=%s", got)
	}
	if got := strings.Join(endpoints(tasks, 2), ","); got != "ozon_orders,ozon_sales" {
		t.Fatalf("ozon endpoints=%s", got)
	}
	for _, task := range tasks {
		if task.Priority != taskqueue.PriorityNormal || task.Source != SourceShort {
			t.Fatalf("task=%+v", task)
		}
	}
}

func TestEnqueueMedium(t *testing.T) {
	repo := repotest.New(creds()...)
	s, q := newScheduler(repo, time.Now().UTC(), Options{})

	if _, err := s.EnqueueMedium(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	tasks := drain(t, q)
	if got := strings.Join(endpoints(tasks, 2), ","); got != "ozon_stocks,ozon_supply_orders" {
		t.Fatalf("ozon endpoints=%s", got)
	}
}

func TestEnqueueLong_GatedByLocalHour(t *testing.T) {
	repo := repotest.New(creds()...)
	msk, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		msk = time.FixedZone("MSK", 3*60*60)
	}
	// 00:30 UTC is 03:30 in Moscow: the default hour of credential 1.
	s, q := newScheduler(repo, time.Date(2026, 4, 10, 0, 30, 0, 0, time.UTC), Options{DailyStockHour: 3, Location: msk})

	n, err := s.EnqueueLong(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v want 2", n, err)
	}
	tasks := drain(t, q)
	if got := strings.Join(endpoints(tasks, 1), ","); got != "wb_cards,stocks" {
		t.Fatalf("wb endpoints=%s", got)
	}

	// 04:00 UTC is 07:00 in Moscow: credential 2 asked for 07:00.
	s.now = func() time.Time { return time.Date(2026, 4, 10, 4, 0, 0, 0, time.UTC) }
	if _, err := s.EnqueueLong(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	tasks = drain(t, q)
	if len(tasks) != 1 || tasks[0].CredentialID != 2 || tasks[0].Endpoint != collector.EndpointOzonStocks {
		t.Fatalf("tasks=%+v", tasks)
	}
}

func TestStartupPass_Priorities(t *testing.T) {
	repo := repotest.New(creds()...)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	today := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if err := repo.UpsertWBStocksTx(ctx, nil, []models.WBStock{{TokenID: 1, ProductID: 1, WarehouseID: 1, Date: today}}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	last := now.Add(-time.Hour)
	if err := repo.SaveSyncState(ctx, &models.SyncState{TokenID: 1, Endpoint: collector.EndpointSales, LastSuccessfulSync: &last}, true); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	s, q := newScheduler(repo, now, Options{})

	n, err := s.StartupPass(ctx)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	// WB: 5 feeds minus the stock snapshot already taken; Ozon: 4 feeds.
	if n != 8 {
		t.Fatalf("n=%d want 8", n)
	}
	tasks := drain(t, q)
	prio := map[string]taskqueue.Priority{}
	for _, task := range tasks {
		if task.CredentialID == 1 {
			prio[task.Endpoint] = task.Priority
		}
	}
	if _, ok := prio[collector.EndpointStocks]; ok {
		t.Fatalf("stock task queued despite today's snapshot")
	}
	if prio[collector.EndpointSales] != taskqueue.PriorityNormal {
		t.Fatalf("sales priority=%s want normal", prio[collector.EndpointSales])
	}
	if prio[collector.EndpointOrders] != taskqueue.PriorityHigh {
		t.Fatalf("orders priority=%s want high", prio[collector.EndpointOrders])
	}
	ozon := endpoints(tasks, 2)
	if len(ozon) != 4 || ozon[0] != collector.EndpointOzonSupplyOrders {
		t.Fatalf("ozon order=%v want supply orders first", ozon)
	}
}

func TestManualEndpoints(t *testing.T) {
	cases := []struct {
		mp, taskType string
		want         string
		err          error
	}{
		{models.MarketplaceWildberries, "stocks", "wb_cards,stocks", nil},
		{models.MarketplaceOzon, "stocks", "ozon_stocks", nil},
		{models.MarketplaceWildberries, "supplies", "incomes", nil},
		{models.MarketplaceOzon, "incomes", "ozon_supply_orders", nil},
		{models.MarketplaceOzon, "all", "ozon_supply_orders,ozon_stocks,ozon_orders,ozon_sales", nil},
		{models.MarketplaceOzon, "cards", "", ErrUnsupported},
		{models.MarketplaceWildberries, "refunds", "", ErrUnknownTaskType},
	}
	for _, tc := range cases {
		got, err := ManualEndpoints(tc.mp, tc.taskType)
		if !errors.Is(err, tc.err) {
			t.Fatalf("%s/%s err=%v want %v", tc.mp, tc.taskType, err, tc.err)
		}
		if strings.Join(got, ",") != tc.want {
			t.Fatalf("%s/%s=%v want %s", tc.mp, tc.taskType, got, tc.want)
		}
	}
}

func TestDrainManual(t *testing.T) {
	repo := repotest.New(creds()...)
	repo.ManualTasks = []models.ManualTask{
		{ID: 1, TokenID: 1, TaskType: "stocks", Status: models.ManualTaskPending},
		{ID: 2, TokenID: 2, TaskType: "stocks", Status: models.ManualTaskPending},
		{ID: 3, TokenID: 2, TaskType: "cards", Status: models.ManualTaskPending},
		{ID: 4, TokenID: 3, TaskType: "orders", Status: models.ManualTaskPending},
		{ID: 5, TokenID: 1, TaskType: "refunds", Status: models.ManualTaskPending},
		{ID: 6, TokenID: 1, TaskType: "sales", Status: models.ManualTaskCompleted},
	}
	s, q := newScheduler(repo, time.Now().UTC(), Options{})
	ctx := context.Background()

	n, err := s.DrainManual(ctx)
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v want 3", n, err)
	}
	tasks := drain(t, q)
	if got := strings.Join(endpoints(tasks, 1), ","); got != "wb_cards,stocks" {
		t.Fatalf("wb endpoints=%s", got)
	}
	if got := strings.Join(endpoints(tasks, 2), ","); got != "ozon_stocks" {
		t.Fatalf("ozon endpoints=%s", got)
	}
	for _, task := range tasks {
		if task.Priority != taskqueue.PriorityHigh || task.Source != SourceManual {
			t.Fatalf("task=%+v", task)
		}
	}

	for id, want := range map[uint]string{
		1: models.ManualTaskCompleted,
		2: models.ManualTaskCompleted,
		3: models.ManualTaskFailed,
		4: models.ManualTaskFailed,
		5: models.ManualTaskFailed,
		6: models.ManualTaskCompleted,
	} {
		row := repo.ManualTask(id)
		if row.Status != want {
			t.Fatalf("manual task %d status=%s want %s", id, row.Status, want)
		}
		if want == models.ManualTaskFailed && (row.ErrorMessage == nil || *row.ErrorMessage == "") {
			t.Fatalf("manual task %d failed without a message", id)
		}
	}

	n, err = s.DrainManual(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second drain n=%d err=%v want 0", n, err)
	}
}

func TestDrainManual_CredentialStoreErrorKeepsRowPending(t *testing.T) {
	repo := repotest.New(creds()...)
	repo.ManualTasks = []models.ManualTask{
		{ID: 1, TokenID: 1, TaskType: "stocks", Status: models.ManualTaskPending},
	}
	repo.FailGetCredential = errors.New("connection reset by peer")
	s, q := newScheduler(repo, time.Now().UTC(), Options{})
	ctx := context.Background()

	n, err := s.DrainManual(ctx)
	if err == nil || n != 0 {
		t.Fatalf("n=%d err=%v want store error", n, err)
	}
	if row := repo.ManualTask(1); row.Status != models.ManualTaskPending || row.ErrorMessage != nil {
		t.Fatalf("row=%+v want untouched pending", row)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len=%d want 0", q.Len())
	}

	repo.FailGetCredential = nil
	n, err = s.DrainManual(ctx)
	if err != nil || n != 2 {
		t.Fatalf("retry drain n=%d err=%v want 2", n, err)
	}
	if row := repo.ManualTask(1); row.Status != models.ManualTaskCompleted {
		t.Fatalf("status=%s want completed", row.Status)
	}
}

func TestDrainManual_FinishRetried(t *testing.T) {
	repo := repotest.New(creds()...)
	repo.ManualTasks = []models.ManualTask{
		{ID: 1, TokenID: 2, TaskType: "orders", Status: models.ManualTaskPending},
	}
	repo.FailFinishManual = finishAttempts - 1
	s, _ := newScheduler(repo, time.Now().UTC(), Options{})
	pauses := 0
	s.sleep = func(context.Context, time.Duration) error { pauses++; return nil }

	n, err := s.DrainManual(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v want 1", n, err)
	}
	if pauses != finishAttempts-1 {
		t.Fatalf("pauses=%d want %d", pauses, finishAttempts-1)
	}
	if row := repo.ManualTask(1); row.Status != models.ManualTaskCompleted {
		t.Fatalf("status=%s want completed", row.Status)
	}
}

func TestDrainManual_StaleProcessingRowReclaimed(t *testing.T) {
	repo := repotest.New(creds()...)
	repo.ManualTasks = []models.ManualTask{
		{ID: 1, TokenID: 2, TaskType: "orders", Status: models.ManualTaskPending},
	}
	repo.FailFinishManual = finishAttempts
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	s, q := newScheduler(repo, now, Options{ManualStaleAfter: 10 * time.Minute})
	s.sleep = func(context.Context, time.Duration) error { return nil }
	ctx := context.Background()

	n, err := s.DrainManual(ctx)
	if err == nil || n != 1 {
		t.Fatalf("n=%d err=%v want finish error", n, err)
	}
	if row := repo.ManualTask(1); row.Status != models.ManualTaskProcessing {
		t.Fatalf("status=%s want processing", row.Status)
	}
	drain(t, q)

	s.now = func() time.Time { return now.Add(5 * time.Minute) }
	if n, err := s.DrainManual(ctx); err != nil || n != 0 {
		t.Fatalf("fresh processing row reclaimed: n=%d err=%v", n, err)
	}

	s.now = func() time.Time { return now.Add(11 * time.Minute) }
	n, err = s.DrainManual(ctx)
	if err != nil || n != 1 {
		t.Fatalf("stale drain n=%d err=%v want 1", n, err)
	}
	if row := repo.ManualTask(1); row.Status != models.ManualTaskCompleted {
		t.Fatalf("status=%s want completed", row.Status)
	}
}

func TestDrainRetries(t *testing.T) {
	clock := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	q := taskqueue.New(taskqueue.Options{Now: func() time.Time { return clock }})
	s := New(q, repotest.New(), nil, Options{})

	q.Enqueue(taskqueue.NewTask(1, collector.EndpointSales, taskqueue.PriorityNormal))
	task, _ := q.Dequeue(context.Background(), 10*time.Millisecond)
	if !q.ToRetry(task, 0) {
		t.Fatalf("retry refused")
	}
	q.Done(task)

	s.DrainRetries(context.Background())
	if q.Len() != 0 {
		t.Fatalf("task requeued before its backoff")
	}
	clock = clock.Add(121 * time.Second)
	s.DrainRetries(context.Background())
	if q.Len() != 1 {
		t.Fatalf("pending=%d want 1", q.Len())
	}
}
