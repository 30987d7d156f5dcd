package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"

	"gorm.io/gorm"
)

// SyncRunRepository 同步运行日志数据访问接口
type SyncRunRepository interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Finish(ctx context.Context, run *models.SyncRun) error
	GetByRunID(ctx context.Context, runID string) (*models.SyncRun, error)
	List(ctx context.Context, filter SyncRunListFilter) ([]models.SyncRun, int64, error)
	CancelRunning(ctx context.Context, startedBefore time.Time, reason string) (int64, error)
}

// GormSyncRunRepository GORM 同步运行日志仓储
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewSyncRunRepository 创建同步运行日志仓储
func NewSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Create 创建运行记录
func (r *GormSyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// Finish 写入运行结果
func (r *GormSyncRunRepository) Finish(ctx context.Context, run *models.SyncRun) error {
	if run == nil || run.ID == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":        run.Status,
			"counts":        run.Counts,
			"error_count":   run.ErrorCount,
			"error_message": run.ErrorMessage,
			"finished_at":   run.FinishedAt,
		}).Error
}

// GetByRunID 获取运行记录
func (r *GormSyncRunRepository) GetByRunID(ctx context.Context, runID string) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.db.WithContext(ctx).Where("run_id = ?", strings.TrimSpace(runID)).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// List 分页查询运行记录
func (r *GormSyncRunRepository) List(ctx context.Context, filter SyncRunListFilter) ([]models.SyncRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRun{})
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.SyncRun
	if err := applyPagination(query.Order("started_at DESC, id DESC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// CancelRunning 将进程退出遗留的运行中记录标记为已取消
func (r *GormSyncRunRepository) CancelRunning(ctx context.Context, startedBefore time.Time, reason string) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("status = ? AND started_at < ?", constants.SyncStatusRunning, startedBefore.UTC()).
		Updates(map[string]interface{}{
			"status":        constants.SyncStatusCanceled,
			"error_message": reason,
			"finished_at":   now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
