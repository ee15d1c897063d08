// Package worker runs collection tasks from the queue on a fixed number of
// goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketplacer/internal/collector"
	"marketplacer/internal/logger"
	"marketplacer/internal/metrics"
	"marketplacer/internal/models"
	"marketplacer/internal/ratelimit"
	"marketplacer/internal/repository"
	"marketplacer/internal/taskqueue"
)

const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"

	bookkeepingTimeout = 10 * time.Second
)

// Alerter receives tasks that ended for good. *notify.Notifier implements it.
type Alerter interface {
	TaskFailed(ctx context.Context, marketplace string, credentialID uint, endpoint string, attempts int, err error)
}

type Options struct {
	Size           int
	DequeueTimeout time.Duration
	JoinTimeout    time.Duration
	// Intervals is the minimum spacing between two requests of one
	// credential, per marketplace.
	Intervals map[string]time.Duration
}

type Pool struct {
	queue    *taskqueue.Queue
	registry *collector.Registry
	spacer   ratelimit.Spacer
	logs     repository.CollectionLogRepository
	alerts   Alerter
	logger   *zap.Logger
	opts     Options
	now      func() time.Time

	mu         sync.Mutex
	wg         sync.WaitGroup
	started    bool
	stopLoop   context.CancelFunc
	cancelWork context.CancelFunc
}

func New(queue *taskqueue.Queue, registry *collector.Registry, spacer ratelimit.Spacer, logs repository.CollectionLogRepository, alerts Alerter, log *zap.Logger, opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = 4
	}
	if opts.DequeueTimeout <= 0 {
		opts.DequeueTimeout = time.Second
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 5 * time.Second
	}
	if spacer == nil {
		spacer = ratelimit.NewMemorySpacer()
	}
	return &Pool{
		queue:    queue,
		registry: registry,
		spacer:   spacer,
		logs:     logs,
		alerts:   alerts,
		logger:   logger.OrNop(log),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the workers. They stop dequeuing when ctx is done; tasks
// already running keep a context of their own until Stop gives up on them.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	loopCtx, stopLoop := context.WithCancel(ctx)
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	p.stopLoop, p.cancelWork = stopLoop, cancelWork

	metrics.WorkerPoolSize.Set(float64(p.opts.Size))
	for i := 0; i < p.opts.Size; i++ {
		p.wg.Add(1)
		go p.loop(loopCtx, workCtx, i)
	}
	p.logger.Info("worker pool started", zap.Int("size", p.opts.Size))
}

// Stop stops dequeuing and waits up to the join timeout for running tasks.
// Tasks still running after that have their context cancelled and are
// abandoned. It reports whether every worker finished in time.
func (p *Pool) Stop() bool {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return true
	}
	p.started = false
	stopLoop, cancelWork := p.stopLoop, p.cancelWork
	p.mu.Unlock()

	stopLoop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case <-done:
		cancelWork()
		p.logger.Info("worker pool stopped")
		return true
	case <-timer.C:
		cancelWork()
		p.logger.Warn("worker pool join timeout, abandoning running tasks", zap.Duration("timeout", p.opts.JoinTimeout))
		return false
	}
}

// Running reports whether the workers are dequeuing.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Pool) Size() int { return p.opts.Size }

func (p *Pool) loop(ctx, workCtx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok := p.queue.Dequeue(ctx, p.opts.DequeueTimeout)
		if !ok {
			continue
		}
		metrics.WorkersBusy.Inc()
		outcome := p.Process(workCtx, task)
		metrics.WorkersBusy.Dec()
		log.Debug("task finished", zap.String("task", task.String()), zap.String("outcome", outcome))
	}
}

// Process runs one dequeued task and settles it: done, parked for retry or
// failed for good. It never panics and never returns an error.
func (p *Pool) Process(ctx context.Context, task *taskqueue.Task) string {
	defer p.queue.Done(task)
	startedAt := p.now()

	var (
		marketplace string
		res         collector.Result
		err         error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", collector.ErrPanic, r)
				p.logger.Error("task panicked",
					zap.String("task", task.String()),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		marketplace, res, err = p.run(ctx, task)
	}()

	if marketplace != "" {
		metrics.TaskDuration.WithLabelValues(marketplace, task.Endpoint).Observe(p.now().Sub(startedAt).Seconds())
	}
	outcome := p.settle(ctx, task, marketplace, startedAt, res, err)
	metrics.TasksTotal.WithLabelValues(marketplace, task.Endpoint, outcome).Inc()
	return outcome
}

func (p *Pool) run(ctx context.Context, task *taskqueue.Task) (string, collector.Result, error) {
	c, ok := p.registry.Get(task.CredentialID)
	if !ok {
		return "", collector.Result{}, fmt.Errorf("%w: credential %d", collector.ErrNoCollector, task.CredentialID)
	}
	marketplace := c.Marketplace()
	key := ratelimit.Key(marketplace, c.CredentialID())
	if err := p.spacer.Wait(ctx, key, p.opts.Intervals[marketplace]); err != nil {
		return marketplace, collector.Result{}, err
	}
	res, err := c.Collect(ctx, task.Endpoint)
	return marketplace, res, err
}

func (p *Pool) settle(ctx context.Context, task *taskqueue.Task, marketplace string, startedAt time.Time, res collector.Result, err error) string {
	log := p.logger.With(
		zap.String("task_id", task.ID),
		zap.Uint("credential_id", task.CredentialID),
		zap.String("endpoint", task.Endpoint),
		zap.String("source", task.Source),
	)
	if err == nil {
		log.Debug("task succeeded", zap.Int("records", res.Records))
		return OutcomeSuccess
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if !collector.IsLogged(err) {
		cred := models.Credential{ID: task.CredentialID, Marketplace: marketplace}
		if lerr := collector.WriteLog(bctx, p.logs, cred, task.Endpoint, 0, err, startedAt, p.now()); lerr != nil {
			log.Error("collection log insert failed", zap.Error(lerr))
		}
	}

	class := collector.Classify(err)
	if class == collector.Transient {
		if p.queue.ToRetry(task, collector.RetryAfter(err)) {
			log.Warn("task failed, retry scheduled",
				zap.Int("attempts", task.Attempts),
				zap.Time("next_retry_at", task.NextRetryAt),
				zap.Error(err),
			)
			return OutcomeRetry
		}
		log.Error("task retries exhausted", zap.Int("attempts", task.Attempts), zap.Error(err))
	} else {
		task.Attempts++
		log.Error("task failed permanently", zap.Int("attempts", task.Attempts), zap.Error(err))
	}

	if p.alerts != nil {
		p.alerts.TaskFailed(bctx, marketplace, task.CredentialID, task.Endpoint, task.Attempts, err)
	}
	return OutcomeFailed
}
