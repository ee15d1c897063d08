// Package collector holds what every marketplace collector shares: the
// endpoint names, the registry, sync-state and log bookkeeping, error
// classification and the paging and polling loops.
package collector

import (
	"context"
	"sort"
	"sync"

	"marketplacer/internal/models"
)

const (
	EndpointIncomes = "incomes"
	EndpointSales   = "sales"
	EndpointOrders  = "orders"
	EndpointStocks  = "stocks"
	EndpointWBCards = "wb_cards"

	EndpointOzonStocks       = "ozon_stocks"
	EndpointOzonOrders       = "ozon_orders"
	EndpointOzonSales        = "ozon_sales"
	EndpointOzonSupplyOrders = "ozon_supply_orders"
)

var (
	wildberriesEndpoints = []string{EndpointIncomes, EndpointSales, EndpointOrders, EndpointStocks, EndpointWBCards}
	// Supply orders come first: their earliest timeslot bounds the initial
	// order and sale windows.
	ozonEndpoints = []string{EndpointOzonSupplyOrders, EndpointOzonStocks, EndpointOzonOrders, EndpointOzonSales}
)

// EndpointsFor lists the endpoints of a marketplace in startup order.
func EndpointsFor(marketplace string) []string {
	switch marketplace {
	case models.MarketplaceWildberries:
		return append([]string(nil), wildberriesEndpoints...)
	case models.MarketplaceOzon:
		return append([]string(nil), ozonEndpoints...)
	default:
		return nil
	}
}

// StockEndpoint is the daily snapshot endpoint of a marketplace.
func StockEndpoint(marketplace string) string {
	switch marketplace {
	case models.MarketplaceWildberries:
		return EndpointStocks
	case models.MarketplaceOzon:
		return EndpointOzonStocks
	default:
		return ""
	}
}

// Result summarizes one successful collection run.
type Result struct {
	Records int
	Skipped int
	Stats   map[string]int
	Cursor  string
}

func (r *Result) Add(key string, n int) {
	if r.Stats == nil {
		r.Stats = map[string]int{}
	}
	r.Stats[key] += n
}

// Collector fetches the endpoints of one credential.
type Collector interface {
	Marketplace() string
	CredentialID() uint
	Endpoints() []string
	// Collect runs one attempt. It writes its own sync state and log row.
	Collect(ctx context.Context, endpoint string) (Result, error)
}

// Registry maps credential ids to collectors. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	items map[uint]Collector
}

func NewRegistry() *Registry {
	return &Registry{items: map[uint]Collector{}}
}

func (r *Registry) Put(c Collector) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.items[c.CredentialID()] = c
	r.mu.Unlock()
}

func (r *Registry) Get(credentialID uint) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[credentialID]
	return c, ok
}

func (r *Registry) Remove(credentialID uint) {
	r.mu.Lock()
	delete(r.items, credentialID)
	r.mu.Unlock()
}

// IDs returns the registered credential ids in ascending order.
func (r *Registry) IDs() []uint {
	r.mu.RLock()
	out := make([]uint, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of collectors per marketplace.
func (r *Registry) Count() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for _, c := range r.items {
		out[c.Marketplace()]++
	}
	return out
}
