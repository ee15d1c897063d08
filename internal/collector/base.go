package collector

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marketplacer/internal/logger"
	"marketplacer/internal/metrics"
	"marketplacer/internal/models"
	"marketplacer/internal/repository"
	"marketplacer/internal/schema"
)

const (
	defaultNextInterval = 10 * time.Minute
	bookkeepingTimeout  = 30 * time.Second
)

// Store is the part of the repository every collector writes to.
type Store interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	repository.SyncStateRepository
	repository.CollectionLogRepository
	repository.CatalogRepository
}

// Alerts receives response shape problems. *notify.Notifier implements it.
type Alerts interface {
	SchemaError(ctx context.Context, marketplace, api string, err error)
	NewFields(ctx context.Context, marketplace, api string, fields []string)
}

// Base carries the credential and the bookkeeping shared by the
// marketplace collectors.
type Base struct {
	Credential   models.Credential
	Store        Store
	Alerts       Alerts
	Logger       *zap.Logger
	NextInterval time.Duration
	Now          func() time.Time
	Sleep        SleepFunc
}

func (b *Base) Marketplace() string { return b.Credential.Marketplace }

func (b *Base) CredentialID() uint { return b.Credential.ID }

func (b *Base) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

// Today is the current UTC date at midnight.
func (b *Base) Today() time.Time {
	return b.now().Truncate(24 * time.Hour)
}

func (b *Base) Clock() time.Time { return b.now() }

func (b *Base) Pause(ctx context.Context, d time.Duration) error {
	return orSleep(b.Sleep)(ctx, d)
}

func (b *Base) Log() *zap.Logger {
	return logger.OrNop(b.Logger).With(
		zap.String("marketplace", b.Credential.Marketplace),
		zap.Uint("credential_id", b.Credential.ID),
	)
}

func (b *Base) GetOrCreateProduct(ctx context.Context, tx *gorm.DB, item models.Product) (*models.Product, error) {
	item.TokenID = b.Credential.ID
	item.Marketplace = b.Credential.Marketplace
	if item.Article == "" {
		return nil, errors.New("product article is empty")
	}
	return b.Store.GetOrCreateProductTx(ctx, tx, &item)
}

// GetOrCreateWarehouse returns nil for a blank name.
func (b *Base) GetOrCreateWarehouse(ctx context.Context, tx *gorm.DB, name string) (*models.Warehouse, error) {
	if name == "" {
		return nil, nil
	}
	return b.Store.GetOrCreateWarehouseTx(ctx, tx, b.Credential.Marketplace, name)
}

// SyncState returns the feed's state row, creating it on first use.
func (b *Base) SyncState(ctx context.Context, endpoint string) (*models.SyncState, error) {
	return b.Store.EnsureSyncState(ctx, b.Credential.ID, endpoint)
}

// LastSuccess returns the last successful sync of endpoint, or nil.
func (b *Base) LastSuccess(ctx context.Context, endpoint string) (*time.Time, error) {
	state, err := b.SyncState(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if !state.HasSucceeded() {
		return nil, nil
	}
	t := state.LastSuccessfulSync.UTC()
	return &t, nil
}

// UpdateSyncState records the end of an attempt. A successful attempt moves
// last_successful_sync to startedAt; the store never moves it backwards.
func (b *Base) UpdateSyncState(ctx context.Context, endpoint string, startedAt time.Time, res Result, runErr error) error {
	now := b.now()
	interval := b.NextInterval
	if interval <= 0 {
		interval = defaultNextInterval
	}
	next := now.Add(interval)
	state := &models.SyncState{
		TokenID:      b.Credential.ID,
		Endpoint:     endpoint,
		LastSyncDate: &now,
		NextSyncDate: &next,
		UpdatedAt:    now,
	}
	success := runErr == nil
	if success {
		started := startedAt.UTC()
		state.LastSuccessfulSync = &started
		state.StatsJSON = statsJSON(res)
		if res.Cursor != "" {
			cursor := res.Cursor
			state.Cursor = &cursor
		}
	} else {
		msg := runErr.Error()
		state.LastError = &msg
	}
	return b.Store.SaveSyncState(ctx, state, success)
}

// LogCollection appends one CollectionLog row.
func (b *Base) LogCollection(ctx context.Context, endpoint string, count int, runErr error, startedAt time.Time) error {
	return WriteLog(ctx, b.Store, b.Credential, endpoint, count, runErr, startedAt, b.now())
}

// WriteLog appends a CollectionLog row for a credential. The worker uses it
// for failures that never reached a collector.
func WriteLog(ctx context.Context, store repository.CollectionLogRepository, cred models.Credential, endpoint string, count int, runErr error, startedAt, finishedAt time.Time) error {
	if store == nil {
		return nil
	}
	row := &models.CollectionLog{
		TokenID:      cred.ID,
		Marketplace:  cred.Marketplace,
		Endpoint:     endpoint,
		Status:       models.CollectionStatusSuccess,
		RecordsCount: count,
		StartedAt:    startedAt.UTC(),
		FinishedAt:   finishedAt.UTC(),
	}
	if runErr != nil {
		msg := runErr.Error()
		row.Status = models.CollectionStatusError
		row.ErrorMessage = &msg
	}
	return store.InsertCollectionLog(ctx, row)
}

// Run executes one attempt of endpoint and records its outcome: the sync
// state and one CollectionLog row. Bookkeeping survives cancellation of
// ctx. A returned error is already logged.
func (b *Base) Run(ctx context.Context, endpoint string, fn func(ctx context.Context, res *Result) error) (Result, error) {
	startedAt := b.now()
	var res Result
	runErr := fn(ctx, &res)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	log := b.Log().With(zap.String("endpoint", endpoint))
	if err := b.UpdateSyncState(bctx, endpoint, startedAt, res, runErr); err != nil {
		log.Error("sync state update failed", zap.Error(err))
	}
	if err := b.LogCollection(bctx, endpoint, res.Records, runErr, startedAt); err != nil {
		log.Error("collection log insert failed", zap.Error(err))
	}

	if res.Records > 0 {
		metrics.RecordsTotal.WithLabelValues(b.Credential.Marketplace, endpoint).Add(float64(res.Records))
	}
	if res.Skipped > 0 {
		metrics.RecordsSkippedTotal.WithLabelValues(b.Credential.Marketplace, endpoint).Add(float64(res.Skipped))
	}

	if runErr != nil {
		log.Warn("collection failed",
			zap.Int("records", res.Records),
			zap.Duration("elapsed", b.now().Sub(startedAt)),
			zap.Error(runErr),
		)
		return res, &loggedError{err: runErr}
	}
	log.Info("collection done",
		zap.Int("records", res.Records),
		zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", b.now().Sub(startedAt)),
	)
	return res, nil
}

// Decode parses a response envelope. Missing required fields are reported
// to the operator and returned; unknown fields are only reported.
func (b *Base) Decode(ctx context.Context, api string, raw []byte, out any) error {
	extra, err := schema.Decode(api, raw, out)
	if err != nil {
		b.ReportSchema(ctx, api, err)
		return err
	}
	b.CheckFields(ctx, api, extra)
	return nil
}

func (b *Base) ReportSchema(ctx context.Context, api string, err error) {
	b.Log().Error("response schema mismatch", zap.String("api", api), zap.Error(err))
	if b.Alerts != nil {
		b.Alerts.SchemaError(ctx, b.Credential.Marketplace, api, err)
	}
}

func (b *Base) CheckFields(ctx context.Context, api string, fields []string) {
	if len(fields) == 0 {
		return
	}
	b.Log().Warn("new fields in response", zap.String("api", api), zap.Strings("fields", fields))
	if b.Alerts != nil {
		b.Alerts.NewFields(ctx, b.Credential.Marketplace, api, fields)
	}
}

// DecodeEach decodes every record on its own. Records that fail to decode
// or validate are skipped and counted; the first failure is reported.
func DecodeEach[T any](ctx context.Context, b *Base, api string, raws []json.RawMessage) ([]T, int) {
	out := make([]T, 0, len(raws))
	skipped := 0
	var extra []string
	var firstErr error
	for i, raw := range raws {
		var item T
		fields, err := schema.Decode(api, raw, &item)
		if err != nil {
			skipped++
			if firstErr == nil {
				firstErr = err
			}
			b.Log().Warn("record skipped", zap.String("api", api), zap.Int("index", i), zap.Error(err))
			continue
		}
		extra = schema.MergeFields(extra, fields)
		out = append(out, item)
	}
	if firstErr != nil && b.Alerts != nil {
		b.Alerts.SchemaError(ctx, b.Credential.Marketplace, api, firstErr)
	}
	b.CheckFields(ctx, api, extra)
	return out, skipped
}

func statsJSON(res Result) datatypes.JSON {
	stats := make(map[string]int, len(res.Stats)+2)
	for k, v := range res.Stats {
		stats[k] = v
	}
	stats["records"] = res.Records
	stats["skipped"] = res.Skipped
	raw, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
