package ozon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the millisecond UTC layout the posting and finance filters expect.
const TimeFormat = "2006-01-02T15:04:05.000Z"

type Client struct {
	host       string
	clientID   string
	apiKey     string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
	Wait   time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ozon API error (%d): %s", e.Status, e.Body)
}

func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) RetryAfter() time.Duration { return e.Wait }

func NewClient(httpClient *http.Client, host, clientID, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if host == "" {
		host = "https://api-seller.ozon.ru"
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		clientID:   clientID,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (c *Client) CreateProductsReport(ctx context.Context) ([]byte, error) {
	return c.post(ctx, "/v1/report/products/create", ReportCreateRequest{
		Language:   "DEFAULT",
		OfferID:    []string{},
		Search:     "",
		SKU:        []int64{},
		Visibility: "ALL",
	})
}

func (c *Client) ReportInfo(ctx context.Context, code string) ([]byte, error) {
	if code == "" {
		return nil, fmt.Errorf("report code is required")
	}
	return c.post(ctx, "/v1/report/info", map[string]string{"code": code})
}

// Download fetches a generated report file. The link is pre-signed, so no
// seller credentials are sent.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	if fileURL == "" {
		return nil, fmt.Errorf("file url is required")
	}
	return c.do(ctx, http.MethodGet, fileURL, nil, false)
}

func (c *Client) ListFBS(ctx context.Context, req PostingListRequest) ([]byte, error) {
	return c.post(ctx, "/v3/posting/fbs/list", req)
}

func (c *Client) ListFBO(ctx context.Context, req PostingListRequest) ([]byte, error) {
	return c.post(ctx, "/v2/posting/fbo/list", req)
}

func (c *Client) FinanceTransactions(ctx context.Context, req FinanceRequest) ([]byte, error) {
	return c.post(ctx, "/v3/finance/transaction/list", req)
}

func (c *Client) SupplyOrderList(ctx context.Context, req SupplyOrderListRequest) ([]byte, error) {
	return c.post(ctx, "/v3/supply-order/list", req)
}

func (c *Client) SupplyOrderGet(ctx context.Context, orderIDs []int64) ([]byte, error) {
	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("order_ids is required")
	}
	return c.post(ctx, "/v3/supply-order/get", map[string][]int64{"order_ids": orderIDs})
}

func (c *Client) SupplyOrderBundle(ctx context.Context, req BundleRequest) ([]byte, error) {
	return c.post(ctx, "/v1/supply-order/bundle", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, c.host+path, body, true)
}

func (c *Client) do(ctx context.Context, method, fullURL string, payload []byte, auth bool) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if auth {
		req.Header.Set("Client-Id", c.clientID)
		req.Header.Set("Api-Key", c.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &APIError{
			Status: resp.StatusCode,
			Body:   msg,
			Wait:   parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
