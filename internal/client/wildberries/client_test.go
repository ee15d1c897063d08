package wildberries

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStatistics_QueryAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/supplier/sales" {
			t.Fatalf("path=%s", r.URL.Path)
		}
		if got := r.URL.Query().Get("dateFrom"); got != "2024-05-01" {
			t.Fatalf("dateFrom=%s", got)
		}
		if got := r.URL.Query().Get("flag"); got != "0" {
			t.Fatalf("flag=%s", got)
		}
		if r.Header.Get("Authorization") != "wb-token" {
			t.Fatalf("missing auth header")
		}
		_, _ = w.Write([]byte(`[{"srid":"s1","date":"2024-05-02T10:00:00"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, srv.URL, "wb-token")
	flag := 0
	body, err := c.Statistics(testContext(t), ReportSales, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), &flag)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	var sales []Sale
	if err := json.Unmarshal(body, &sales); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sales) != 1 || *sales[0].Srid != "s1" || sales[0].Date.Hour() != 10 {
		t.Fatalf("sales=%+v", sales)
	}
}

func TestStatistics_APIErrorWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"title":"too many requests"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, srv.URL, "t")
	_, err := c.Statistics(testContext(t), ReportStocks, time.Now(), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v want APIError", err)
	}
	if apiErr.StatusCode() != 429 || apiErr.RetryAfter() != 30*time.Second {
		t.Fatalf("status=%d retry_after=%s", apiErr.Status, apiErr.RetryAfter())
	}
}

func TestCardsList_Payload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/content/v2/get/cards/list" {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var req CardsListRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if req.Settings.Cursor.Limit != 100 || req.Settings.Filter.WithPhoto != -1 {
			t.Fatalf("settings=%+v", req.Settings)
		}
		if req.Settings.Cursor.NmID != 55 || req.Settings.Cursor.UpdatedAt != "2024-01-01T00:00:00Z" {
			t.Fatalf("cursor=%+v", req.Settings.Cursor)
		}
		_, _ = w.Write([]byte(`{"cards":[],"cursor":{"total":0}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, srv.URL, "t")
	if _, err := c.CardsList(testContext(t), CardsCursor{UpdatedAt: "2024-01-01T00:00:00Z", NmID: 55}); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestTime_Layouts(t *testing.T) {
	cases := map[string]time.Time{
		`"2024-03-04T05:06:07Z"`:      time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		`"2024-03-04T05:06:07"`:       time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
		`"2024-03-04T05:06:07.5"`:     time.Date(2024, 3, 4, 5, 6, 7, 500000000, time.UTC),
		`"2024-03-04"`:                time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		`"2024-03-04T08:06:07+03:00"`: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	for in, want := range cases {
		var got Time
		if err := json.Unmarshal([]byte(in), &got); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %s want %s", in, got.Time, want)
		}
	}
	var empty Time
	if err := json.Unmarshal([]byte(`""`), &empty); err != nil || empty.Ptr() != nil {
		t.Fatalf("empty: %v %v", err, empty.Ptr())
	}
}

// testContext stands in for testing.T.Context (Go 1.24+): the context is
// cancelled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
