// Package scheduler turns the cron cadences, the startup pass and the
// dashboard's manual requests into queued collection tasks.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplacer/internal/collector"
	cronrunner "marketplacer/internal/cron"
	"marketplacer/internal/logger"
	"marketplacer/internal/metrics"
	"marketplacer/internal/models"
	"marketplacer/internal/repository"
	"marketplacer/internal/taskqueue"
)

const (
	SourceShort   = "short"
	SourceMedium  = "medium"
	SourceLong    = "long"
	SourceStartup = "startup"
	SourceManual  = "manual"
	SourceRetry   = "retry"
)

// Store is what the scheduler reads: credentials, sync states, stock
// snapshots and the manual task table.
type Store interface {
	repository.CredentialRepository
	repository.ManualTaskRepository
	GetSyncState(ctx context.Context, tokenID uint, endpoint string) (*models.SyncState, error)
	HasWBStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error)
	HasOzonStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error)
}

var (
	shortEndpoints = map[string][]string{
		models.MarketplaceWildberries: {collector.EndpointOrders, collector.EndpointSales},
		models.MarketplaceOzon:        {collector.EndpointOzonOrders, collector.EndpointOzonSales},
	}
	mediumEndpoints = map[string][]string{
		models.MarketplaceWildberries: {collector.EndpointStocks, collector.EndpointIncomes},
		models.MarketplaceOzon:        {collector.EndpointOzonStocks, collector.EndpointOzonSupplyOrders},
	}
	longEndpoints = map[string][]string{
		models.MarketplaceWildberries: {collector.EndpointWBCards, collector.EndpointStocks},
		models.MarketplaceOzon:        {collector.EndpointOzonStocks},
	}
)

type Options struct {
	// DailyStockHour is the local hour of the long cadence for credentials
	// without a stocks_sync_time of their own.
	DailyStockHour     int
	Location           *time.Location
	ManualPollInterval time.Duration
	ManualBatchSize    int
	// ManualStaleAfter is how long a manual task may stay in processing
	// before a later drain claims it again.
	ManualStaleAfter   time.Duration
}

type Scheduler struct {
	queue  *taskqueue.Queue
	store  Store
	logger *zap.Logger
	opts   Options
	now    func() time.Time
	sleep  collector.SleepFunc
}

func New(queue *taskqueue.Queue, store Store, log *zap.Logger, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DailyStockHour < 0 || opts.DailyStockHour > 23 {
		opts.DailyStockHour = 3
	}
	if opts.ManualPollInterval <= 0 {
		opts.ManualPollInterval = 10 * time.Second
	}
	if opts.ManualBatchSize <= 0 {
		opts.ManualBatchSize = 50
	}
	if opts.ManualStaleAfter <= 0 {
		opts.ManualStaleAfter = 10 * time.Minute
	}
	return &Scheduler{
		queue:  queue,
		store:  store,
		logger: logger.OrNop(log),
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  collector.Sleep,
	}
}

// EnqueueShort queues the order and sale feeds of every active credential.
func (s *Scheduler) EnqueueShort(ctx context.Context) (int, error) {
	return s.enqueueCadence(ctx, SourceShort, shortEndpoints, nil)
}

// EnqueueMedium queues the stock, income and supply feeds.
func (s *Scheduler) EnqueueMedium(ctx context.Context) (int, error) {
	return s.enqueueCadence(ctx, SourceMedium, mediumEndpoints, nil)
}

// EnqueueLong queues the daily catalog and stock refresh of credentials
// whose preferred hour is the current local hour.
func (s *Scheduler) EnqueueLong(ctx context.Context) (int, error) {
	hour := s.now().In(s.opts.Location).Hour()
	return s.enqueueCadence(ctx, SourceLong, longEndpoints, func(c models.Credential) bool {
		return c.StockSyncHour(s.opts.DailyStockHour) == hour
	})
}

func (s *Scheduler) enqueueCadence(ctx context.Context, source string, endpoints map[string][]string, keep func(models.Credential) bool) (int, error) {
	creds, err := s.store.ListActiveCredentials(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range creds {
		if keep != nil && !keep(c) {
			continue
		}
		for _, ep := range endpoints[c.Marketplace] {
			s.enqueue(c.ID, ep, taskqueue.PriorityNormal, source)
			n++
		}
	}
	if n > 0 {
		s.logger.Info("tasks enqueued", zap.String("source", source), zap.Int("tasks", n), zap.Int("credentials", len(creds)))
	}
	s.observeQueue()
	return n, nil
}

// StartupPass queues what a fresh process should collect first: today's
// stock snapshot when it is missing and the initial load of every feed
// that never succeeded, both at high priority. Other feeds are queued at
// normal priority.
func (s *Scheduler) StartupPass(ctx context.Context) (int, error) {
	creds, err := s.store.ListActiveCredentials(ctx)
	if err != nil {
		return 0, err
	}
	today := s.now().Truncate(24 * time.Hour)
	n := 0
	for _, c := range creds {
		stockEndpoint := collector.StockEndpoint(c.Marketplace)
		for _, ep := range collector.EndpointsFor(c.Marketplace) {
			if ep == stockEndpoint {
				has, err := s.hasSnapshot(ctx, c, today)
				if err != nil {
					return n, err
				}
				if !has {
					s.enqueue(c.ID, ep, taskqueue.PriorityHigh, SourceStartup)
					n++
				}
				continue
			}
			st, err := s.store.GetSyncState(ctx, c.ID, ep)
			if err != nil {
				return n, err
			}
			priority := taskqueue.PriorityNormal
			if !st.HasSucceeded() {
				priority = taskqueue.PriorityHigh
			}
			s.enqueue(c.ID, ep, priority, SourceStartup)
			n++
		}
	}
	s.logger.Info("startup pass done", zap.Int("tasks", n), zap.Int("credentials", len(creds)))
	s.observeQueue()
	return n, nil
}

func (s *Scheduler) hasSnapshot(ctx context.Context, c models.Credential, day time.Time) (bool, error) {
	switch c.Marketplace {
	case models.MarketplaceWildberries:
		return s.store.HasWBStockSnapshot(ctx, c.ID, day)
	case models.MarketplaceOzon:
		return s.store.HasOzonStockSnapshot(ctx, c.ID, day)
	default:
		return false, fmt.Errorf("unsupported marketplace %q", c.Marketplace)
	}
}

// DrainRetries moves retries whose backoff expired back to the queue.
func (s *Scheduler) DrainRetries(ctx context.Context) {
	requeued, dropped := s.queue.DrainRetryReady()
	if requeued > 0 {
		metrics.TasksEnqueuedTotal.WithLabelValues(SourceRetry).Add(float64(requeued))
	}
	if requeued > 0 || dropped > 0 {
		s.logger.Info("retry drain", zap.Int("requeued", requeued), zap.Int("dropped", dropped))
	}
	s.observeQueue()
}

func (s *Scheduler) enqueue(credentialID uint, endpoint string, priority taskqueue.Priority, source string) {
	task := taskqueue.NewTask(credentialID, endpoint, priority)
	task.Source = source
	s.queue.Enqueue(task)
	metrics.TasksEnqueuedTotal.WithLabelValues(source).Inc()
}

func (s *Scheduler) observeQueue() {
	st := s.queue.Stats()
	metrics.QueuePending.Set(float64(st.Pending))
	metrics.QueueRetrying.Set(float64(st.Retrying))
	metrics.QueueInFlight.Set(float64(st.InFlight))
}

// Specs are the cron expressions of the scheduler's jobs.
type Specs struct {
	Short           string
	Medium          string
	Long            string
	RetryDrain      string
	RegistryRefresh string
}

// Register adds the cadences, the retry drain and, when refresh is not nil,
// the registry refresh to r.
func (s *Scheduler) Register(r *cronrunner.Runner, specs Specs, refresh func(ctx context.Context) error) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (int, error)
	}{
		{SourceShort, specs.Short, s.EnqueueShort},
		{SourceMedium, specs.Medium, s.EnqueueMedium},
		{SourceLong, specs.Long, s.EnqueueLong},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		run, name := job.run, job.name
		if _, err := r.Add(name, job.spec, func(ctx context.Context) {
			if _, err := run(ctx); err != nil {
				s.logger.Warn("enqueue failed", zap.String("source", name), zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	if specs.RetryDrain != "" {
		if _, err := r.Add("retry_drain", specs.RetryDrain, s.DrainRetries); err != nil {
			return err
		}
	}
	if refresh != nil && specs.RegistryRefresh != "" {
		if _, err := r.Add("registry_refresh", specs.RegistryRefresh, func(ctx context.Context) {
			if err := refresh(ctx); err != nil {
				s.logger.Warn("registry refresh failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	return nil
}
