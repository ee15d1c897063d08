package cronrunner

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner wraps robfig/cron so every job receives the process context and a
// panicking job is logged instead of killing the scheduler goroutine.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under spec. name is only used for logging.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		ctx := r.baseCtx
		if ctx.Err() != nil {
			return
		}
		defer func() {
			if rec := recover(); rec != nil && r.logger != nil {
				r.logger.Error("cron job panicked", zap.String("job", name), zap.Any("panic", rec))
			}
		}()
		job(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("cron %s (%q): %w", name, spec, err)
	}
	if r.logger != nil {
		r.logger.Debug("cron job registered", zap.String("job", name), zap.String("spec", spec))
	}
	return id, nil
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started", zap.Int("entries", len(r.cron.Entries())))
	}
	r.cron.Start()
}

// Stop prevents new runs and waits for jobs that are already running.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}
