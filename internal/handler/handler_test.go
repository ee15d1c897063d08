package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"marketplacer/internal/models"
	"marketplacer/internal/repository"
	"marketplacer/internal/repository/repotest"
	"marketplacer/internal/taskqueue"
)

type envelope[T any] struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    T              `json:"data"`
	Meta    map[string]any `json:"meta"`
}

func serve(t *testing.T, register func(r *gin.Engine), path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthHandler_Ready(t *testing.T) {
	running := true
	h := &HealthHandler{
		DB:      func(ctx context.Context) error { return nil },
		Workers: func() bool { return running },
	}
	if w := serve(t, h.Register, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("ready code=%d body=%s", w.Code, w.Body.String())
	}
	running = false
	if w := serve(t, h.Register, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped workers code=%d", w.Code)
	}

	down := &HealthHandler{DB: func(ctx context.Context) error { return errors.New("refused") }}
	if w := serve(t, down.Register, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("db down code=%d", w.Code)
	}
	if w := serve(t, down.Register, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz code=%d", w.Code)
	}
}

type countStub map[string]int

func (c countStub) Count() map[string]int { return c }

func TestQueueHandler_Stats(t *testing.T) {
	q := taskqueue.New(taskqueue.Options{})
	q.Enqueue(taskqueue.NewTask(1, "stocks", taskqueue.PriorityHigh))
	q.Enqueue(taskqueue.NewTask(2, "ozon_stocks", taskqueue.PriorityNormal))

	h := &QueueHandler{Queue: q, Collectors: countStub{"wildberries": 1, "ozon": 1}, Workers: 4}
	w := serve(t, h.Register, "/api/v1/queue")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	out := decode[queueView](t, w)
	if out.Data.Pending != 2 || out.Data.InFlight != 0 || out.Data.Workers != 4 {
		t.Fatalf("view=%+v", out.Data)
	}
	if out.Data.Collectors["ozon"] != 1 {
		t.Fatalf("collectors=%v", out.Data.Collectors)
	}
}

func TestSyncStateHandler_Filters(t *testing.T) {
	repo := repotest.New()
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, st := range []models.SyncState{
		{TokenID: 1, Endpoint: "stocks", LastSuccessfulSync: &at},
		{TokenID: 1, Endpoint: "orders"},
		{TokenID: 2, Endpoint: "ozon_stocks"},
	} {
		st := st
		if err := repo.SaveSyncState(ctx, &st, st.LastSuccessfulSync != nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	h := &SyncStateHandler{Repo: repo}
	out := decode[[]models.SyncState](t, serve(t, h.Register, "/api/v1/sync-states?token_id=1"))
	if len(out.Data) != 2 {
		t.Fatalf("token filter got %d rows", len(out.Data))
	}
	out = decode[[]models.SyncState](t, serve(t, h.Register, "/api/v1/sync-states?token_id=1&endpoint=stocks"))
	if len(out.Data) != 1 || !out.Data[0].HasSucceeded() {
		t.Fatalf("endpoint filter got %+v", out.Data)
	}
	if out.Meta["count"] != float64(1) || out.Meta["limit"] != float64(100) {
		t.Fatalf("meta=%v", out.Meta)
	}
}

func TestCollectionLogHandler_List(t *testing.T) {
	repo := repotest.New()
	ctx := context.Background()
	base := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	msg := "boom"
	for i, l := range []models.CollectionLog{
		{TokenID: 1, Marketplace: "wildberries", Endpoint: "sales", Status: models.CollectionStatusSuccess, RecordsCount: 3},
		{TokenID: 1, Marketplace: "wildberries", Endpoint: "sales", Status: models.CollectionStatusError, ErrorMessage: &msg},
		{TokenID: 2, Marketplace: "ozon", Endpoint: "ozon_sales", Status: models.CollectionStatusSuccess},
	} {
		l := l
		l.StartedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		l.FinishedAt = l.StartedAt.Add(time.Minute)
		if err := repo.InsertCollectionLog(ctx, &l); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	h := &CollectionLogHandler{Repo: repo}
	out := decode[[]models.CollectionLog](t, serve(t, h.Register, "/api/v1/collection-logs?status=error"))
	if len(out.Data) != 1 || out.Data[0].ErrorMessage == nil || *out.Data[0].ErrorMessage != "boom" {
		t.Fatalf("status filter got %+v", out.Data)
	}
	out = decode[[]models.CollectionLog](t, serve(t, h.Register, "/api/v1/collection-logs?since=2026-04-11"))
	if len(out.Data) != 2 {
		t.Fatalf("since filter got %d rows", len(out.Data))
	}

	if w := serve(t, h.Register, "/api/v1/collection-logs?status=weird"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status code=%d", w.Code)
	}
	if w := serve(t, h.Register, "/api/v1/collection-logs?since=yesterday"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad since code=%d", w.Code)
	}
}

type failingLogs struct{ err error }

func (f failingLogs) InsertCollectionLog(ctx context.Context, item *models.CollectionLog) error {
	return f.err
}

func (f failingLogs) ListCollectionLogs(ctx context.Context, params repository.ListCollectionLogsParams) ([]models.CollectionLog, error) {
	return nil, f.err
}

func TestCollectionLogHandler_StoreErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.New("relation missing"), http.StatusInternalServerError},
		{fmt.Errorf("list: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		h := &CollectionLogHandler{Repo: failingLogs{err: tc.err}}
		w := serve(t, h.Register, "/api/v1/collection-logs")
		if w.Code != tc.want {
			t.Fatalf("err=%v code=%d want %d", tc.err, w.Code, tc.want)
		}
	}
}
