package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"marketplacer/internal/models"
)

type CredentialRepository interface {
	ListActiveCredentials(ctx context.Context) ([]models.Credential, error)
	GetCredential(ctx context.Context, id uint) (*models.Credential, error)
}

type SyncStateRepository interface {
	GetSyncState(ctx context.Context, tokenID uint, endpoint string) (*models.SyncState, error)
	// EnsureSyncState returns the state row, creating an empty one first.
	EnsureSyncState(ctx context.Context, tokenID uint, endpoint string) (*models.SyncState, error)
	// SaveSyncState upserts by (token_id, endpoint). With success=false only
	// the attempt columns are written. last_successful_sync never decreases.
	SaveSyncState(ctx context.Context, state *models.SyncState, success bool) error
	// SaveSyncCursorTx moves only the cursor, inside a page's transaction.
	SaveSyncCursorTx(ctx context.Context, tx *gorm.DB, tokenID uint, endpoint, cursor string) error
	ListSyncStates(ctx context.Context, params ListSyncStatesParams) ([]models.SyncState, error)
}

type CollectionLogRepository interface {
	InsertCollectionLog(ctx context.Context, item *models.CollectionLog) error
	ListCollectionLogs(ctx context.Context, params ListCollectionLogsParams) ([]models.CollectionLog, error)
}

type ManualTaskRepository interface {
	// ListPendingManualTasks returns pending rows and rows left in
	// processing since before staleBefore.
	ListPendingManualTasks(ctx context.Context, limit int, staleBefore time.Time) ([]models.ManualTask, error)
	// ClaimManualTask moves a pending or stale processing row to processing.
	// It reports false when another drain got there first.
	ClaimManualTask(ctx context.Context, id uint, startedAt, staleBefore time.Time) (bool, error)
	FinishManualTask(ctx context.Context, id uint, status string, errMsg *string, finishedAt time.Time) error
}

type CatalogRepository interface {
	GetOrCreateProductTx(ctx context.Context, tx *gorm.DB, item *models.Product) (*models.Product, error)
	GetOrCreateWarehouseTx(ctx context.Context, tx *gorm.DB, marketplace, name string) (*models.Warehouse, error)
}

type WildberriesRepository interface {
	InsertWBSalesTx(ctx context.Context, tx *gorm.DB, items []models.WBSale) (int64, error)
	UpsertWBOrdersTx(ctx context.Context, tx *gorm.DB, items []models.WBOrder) (int64, error)
	UpsertWBIncomeTx(ctx context.Context, tx *gorm.DB, item *models.WBIncome) (*models.WBIncome, error)
	InsertWBIncomeItemsTx(ctx context.Context, tx *gorm.DB, items []models.WBIncomeItem) (int64, error)
	UpsertWBStocksTx(ctx context.Context, tx *gorm.DB, items []models.WBStock) error
	UpsertWBGoodsTx(ctx context.Context, tx *gorm.DB, items []models.WBGood) error
	EarliestWBIncomeDate(ctx context.Context, tokenID uint) (*time.Time, error)
	HasWBStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error)
}

type OzonRepository interface {
	UpsertOzonStocksTx(ctx context.Context, tx *gorm.DB, items []models.OzonStock) error
	UpsertOzonOrdersTx(ctx context.Context, tx *gorm.DB, items []models.OzonOrder) (int64, error)
	InsertOzonSalesTx(ctx context.Context, tx *gorm.DB, items []models.OzonSale) (int64, error)
	KnownOzonSupplyOrderIDs(ctx context.Context, tokenID uint, ids []string) (map[string]bool, error)
	UpsertOzonSupplyOrderTx(ctx context.Context, tx *gorm.DB, item *models.OzonSupplyOrder) (*models.OzonSupplyOrder, error)
	UpsertOzonSupplyItemsTx(ctx context.Context, tx *gorm.DB, items []models.OzonSupplyItem) error
	EarliestOzonSupplyTimeslot(ctx context.Context, tokenID uint) (*time.Time, error)
	HasOzonStockSnapshot(ctx context.Context, tokenID uint, day time.Time) (bool, error)
}

// Repository is everything the collector process stores.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	CredentialRepository
	SyncStateRepository
	CollectionLogRepository
	ManualTaskRepository
	CatalogRepository
	WildberriesRepository
	OzonRepository
}

type ListSyncStatesParams struct {
	Limit    int
	Offset   int
	TokenID  *uint
	Endpoint *string
	OrderBy  string
	Asc      *bool
}

type ListCollectionLogsParams struct {
	Limit    int
	Offset   int
	TokenID  *uint
	Endpoint *string
	Status   *string
	Since    *time.Time
	OrderBy  string
	Asc      *bool
}
