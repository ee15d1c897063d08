package wildberries

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ReportIncomes = "incomes"
	ReportSales   = "sales"
	ReportOrders  = "orders"
	ReportStocks  = "stocks"

	CardsPageSize = 100
)

type Client struct {
	statisticsHost string
	contentHost    string
	token          string
	httpClient     *http.Client
}

type APIError struct {
	Status int
	Body   string
	Wait   time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wildberries API error (%d): %s", e.Status, e.Body)
}

func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) RetryAfter() time.Duration { return e.Wait }

func NewClient(httpClient *http.Client, statisticsHost, contentHost, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if statisticsHost == "" {
		statisticsHost = "https://statistics-api.wildberries.ru"
	}
	if contentHost == "" {
		contentHost = "https://content-api.wildberries.ru"
	}
	return &Client{
		statisticsHost: strings.TrimRight(statisticsHost, "/"),
		contentHost:    strings.TrimRight(contentHost, "/"),
		token:          token,
		httpClient:     httpClient,
	}
}

// Statistics fetches one supplier report. flag=0 asks for rows changed
// since dateFrom; a nil flag omits the parameter.
func (c *Client) Statistics(ctx context.Context, report string, dateFrom time.Time, flag *int) ([]byte, error) {
	switch report {
	case ReportIncomes, ReportSales, ReportOrders, ReportStocks:
	default:
		return nil, fmt.Errorf("unknown statistics report %q", report)
	}
	query := url.Values{}
	query.Set("dateFrom", dateFrom.Format("2006-01-02"))
	if flag != nil {
		query.Set("flag", strconv.Itoa(*flag))
	}
	return c.doRequest(ctx, http.MethodGet, c.statisticsHost+"/api/v1/supplier/"+report+"?"+query.Encode(), nil)
}

// CardsList fetches one page of catalog cards.
func (c *Client) CardsList(ctx context.Context, cursor CardsCursor) ([]byte, error) {
	if cursor.Limit <= 0 {
		cursor.Limit = CardsPageSize
	}
	body, err := json.Marshal(CardsListRequest{
		Settings: CardsSettings{
			Cursor: cursor,
			Filter: CardsFilter{WithPhoto: -1},
		},
	})
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodPost, c.contentHost+"/content/v2/get/cards/list", body)
}

func (c *Client) doRequest(ctx context.Context, method, fullURL string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.token)
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
		return nil, &APIError{
			Status: resp.StatusCode,
			Body:   truncate(string(body), 512),
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

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
