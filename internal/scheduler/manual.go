package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketplacer/internal/collector"
	"marketplacer/internal/models"
	"marketplacer/internal/taskqueue"
)

var (
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrUnsupported     = errors.New("task type not supported for marketplace")
)

var manualEndpoints = map[string]map[string][]string{
	"stocks": {
		models.MarketplaceWildberries: {collector.EndpointWBCards, collector.EndpointStocks},
		models.MarketplaceOzon:        {collector.EndpointOzonStocks},
	},
	"orders": {
		models.MarketplaceWildberries: {collector.EndpointOrders},
		models.MarketplaceOzon:        {collector.EndpointOzonOrders},
	},
	"sales": {
		models.MarketplaceWildberries: {collector.EndpointSales},
		models.MarketplaceOzon:        {collector.EndpointOzonSales},
	},
	"supplies": {
		models.MarketplaceWildberries: {collector.EndpointIncomes},
		models.MarketplaceOzon:        {collector.EndpointOzonSupplyOrders},
	},
	"incomes": {
		models.MarketplaceWildberries: {collector.EndpointIncomes},
		models.MarketplaceOzon:        {collector.EndpointOzonSupplyOrders},
	},
	"cards": {
		models.MarketplaceWildberries: {collector.EndpointWBCards},
	},
}

// ManualEndpoints translates a dashboard task type into the endpoints of
// one marketplace.
func ManualEndpoints(marketplace, taskType string) ([]string, error) {
	taskType = strings.ToLower(strings.TrimSpace(taskType))
	if taskType == "all" {
		eps := collector.EndpointsFor(marketplace)
		if len(eps) == 0 {
			return nil, fmt.Errorf("%w: all for %q", ErrUnsupported, marketplace)
		}
		return eps, nil
	}
	byMarketplace, ok := manualEndpoints[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	eps, ok := byMarketplace[marketplace]
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnsupported, taskType, marketplace)
	}
	return append([]string(nil), eps...), nil
}

const (
	finishAttempts = 3
	finishPause    = time.Second
)

// DrainManual claims pending manual tasks and queues their endpoints at
// high priority. A row that cannot be served is marked failed with the
// reason. A row whose credential cannot be read stays pending for the next
// drain. It returns the number of tasks queued.
func (s *Scheduler) DrainManual(ctx context.Context) (int, error) {
	now := s.now()
	staleBefore := now.Add(-s.opts.ManualStaleAfter)
	rows, err := s.store.ListPendingManualTasks(ctx, s.opts.ManualBatchSize, staleBefore)
	if err != nil {
		return 0, err
	}
	queued := 0
	var errs []error
	for _, row := range rows {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		cred, err := s.store.GetCredential(ctx, row.TokenID)
		if err != nil {
			s.logger.Warn("manual task credential lookup failed", zap.Uint("manual_task_id", row.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		claimed, err := s.store.ClaimManualTask(ctx, row.ID, s.now(), staleBefore)
		if err != nil {
			return queued, err
		}
		if !claimed {
			continue
		}
		n, err := s.serveManual(cred, row)
		queued += n
		status, msg := models.ManualTaskCompleted, (*string)(nil)
		if err != nil {
			status = models.ManualTaskFailed
			text := err.Error()
			msg = &text
			s.logger.Warn("manual task rejected", zap.Uint("manual_task_id", row.ID), zap.String("task_type", row.TaskType), zap.Error(err))
		}
		if err := s.finishManual(ctx, row.ID, status, msg); err != nil {
			s.logger.Error("manual task left in processing", zap.Uint("manual_task_id", row.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if queued > 0 {
		s.logger.Info("manual tasks queued", zap.Int("tasks", queued))
		s.observeQueue()
	}
	return queued, errors.Join(errs...)
}

// finishManual records the outcome of a claimed row. A row it cannot
// finish is claimed again once it goes stale.
func (s *Scheduler) finishManual(ctx context.Context, id uint, status string, msg *string) error {
	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		if err = s.store.FinishManualTask(ctx, id, status, msg, s.now()); err == nil {
			return nil
		}
		if attempt < finishAttempts {
			if serr := s.sleep(ctx, finishPause); serr != nil {
				return serr
			}
		}
	}
	return err
}

func (s *Scheduler) serveManual(cred *models.Credential, row models.ManualTask) (int, error) {
	if cred == nil || !cred.IsActive {
		return 0, fmt.Errorf("credential %d not found or inactive", row.TokenID)
	}
	endpoints, err := ManualEndpoints(cred.Marketplace, row.TaskType)
	if err != nil {
		return 0, err
	}
	for _, ep := range endpoints {
		s.enqueue(cred.ID, ep, taskqueue.PriorityHigh, SourceManual)
	}
	return len(endpoints), nil
}

// RunManualDrain drains manual tasks every poll interval until ctx is done.
func (s *Scheduler) RunManualDrain(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.ManualPollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.DrainManual(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("manual drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
