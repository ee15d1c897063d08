package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplacer/internal/models"
	"marketplacer/internal/repository"
)

func (s *Store) ListActiveCredentials(ctx context.Context) ([]models.Credential, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Credential
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("marketplace IN ?", []string{models.MarketplaceWildberries, models.MarketplaceOzon}).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetCredential(ctx context.Context, id uint) (*models.Credential, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Credential
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetSyncState(ctx context.Context, tokenID uint, endpoint string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).First(&state, "token_id = ? AND endpoint = ?", tokenID, endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) EnsureSyncState(ctx context.Context, tokenID uint, endpoint string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	state, err := s.GetSyncState(ctx, tokenID, endpoint)
	if err != nil || state != nil {
		return state, err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}, {Name: "endpoint"}},
		DoNothing: true,
	}).Create(&models.SyncState{TokenID: tokenID, Endpoint: endpoint}).Error
	if err != nil {
		return nil, err
	}
	return s.GetSyncState(ctx, tokenID, endpoint)
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState, success bool) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	if !success {
		state.LastSuccessfulSync = nil
	}
	set := clause.Set{
		{Column: clause.Column{Name: "last_sync_date"}, Value: gorm.Expr("excluded.last_sync_date")},
		{Column: clause.Column{Name: "next_sync_date"}, Value: gorm.Expr("excluded.next_sync_date")},
		{Column: clause.Column{Name: "last_error"}, Value: gorm.Expr("excluded.last_error")},
		{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
	}
	if success {
		set = append(set,
			clause.Assignment{
				Column: clause.Column{Name: "last_successful_sync"},
				Value:  gorm.Expr("GREATEST(sync_states.last_successful_sync, excluded.last_successful_sync)"),
			},
			clause.Assignment{Column: clause.Column{Name: "stats_json"}, Value: gorm.Expr("excluded.stats_json")},
			clause.Assignment{Column: clause.Column{Name: "cursor"}, Value: gorm.Expr("COALESCE(excluded.cursor, sync_states.cursor)")},
		)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}, {Name: "endpoint"}},
		DoUpdates: set,
	}).Create(state).Error
}

func (s *Store) SaveSyncCursorTx(ctx context.Context, tx *gorm.DB, tokenID uint, endpoint, cursor string) error {
	if s == nil || s.db == nil {
		return nil
	}
	state := &models.SyncState{TokenID: tokenID, Endpoint: endpoint, Cursor: &cursor}
	return s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}, {Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
	}).Create(state).Error
}

func (s *Store) ListSyncStates(ctx context.Context, params repository.ListSyncStatesParams) ([]models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SyncState{})
	if params.TokenID != nil {
		query = query.Where("token_id = ?", *params.TokenID)
	}
	if params.Endpoint != nil && strings.TrimSpace(*params.Endpoint) != "" {
		query = query.Where("endpoint = ?", strings.TrimSpace(*params.Endpoint))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "updated_at", "token_id", "endpoint", "last_successful_sync", "next_sync_date")
	var items []models.SyncState
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertCollectionLog(ctx context.Context, item *models.CollectionLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListCollectionLogs(ctx context.Context, params repository.ListCollectionLogsParams) ([]models.CollectionLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.CollectionLog{})
	if params.TokenID != nil {
		query = query.Where("token_id = ?", *params.TokenID)
	}
	if params.Endpoint != nil && strings.TrimSpace(*params.Endpoint) != "" {
		query = query.Where("endpoint = ?", strings.TrimSpace(*params.Endpoint))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("started_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "started_at", "finished_at", "records_count")
	var items []models.CollectionLog
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPendingManualTasks(ctx context.Context, limit int, staleBefore time.Time) ([]models.ManualTask, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ManualTask
	if err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND started_at < ?)", models.ManualTaskPending, models.ManualTaskProcessing, staleBefore).
		Order("created_at asc, id asc").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ClaimManualTask(ctx context.Context, id uint, startedAt, staleBefore time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.ManualTask{}).
		Where("id = ? AND (status = ? OR (status = ? AND started_at < ?))", id, models.ManualTaskPending, models.ManualTaskProcessing, staleBefore).
		Updates(map[string]any{
			"status":     models.ManualTaskProcessing,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) FinishManualTask(ctx context.Context, id uint, status string, errMsg *string, finishedAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.ManualTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"finished_at":   finishedAt,
			"error_message": errMsg,
		}).Error
}
