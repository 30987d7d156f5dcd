package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IngestionEventRepository 事件入库数据访问接口
type IngestionEventRepository interface {
	CreateIfAbsent(ctx context.Context, event *models.IngestionEvent) (bool, error)
	GetByEventID(ctx context.Context, eventID string) (*models.IngestionEvent, error)
	MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, eventID, reason string) error
	List(ctx context.Context, filter IngestionEventListFilter) ([]models.IngestionEvent, int64, error)
}

// GormIngestionEventRepository GORM 事件入库仓储
type GormIngestionEventRepository struct {
	db *gorm.DB
}

// NewIngestionEventRepository 创建事件入库仓储
func NewIngestionEventRepository(db *gorm.DB) *GormIngestionEventRepository {
	return &GormIngestionEventRepository{db: db}
}

// CreateIfAbsent 按 event_id 幂等写入
func (r *GormIngestionEventRepository) CreateIfAbsent(ctx context.Context, event *models.IngestionEvent) (bool, error) {
	if event == nil || strings.TrimSpace(event.EventID) == "" {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByEventID 获取事件
func (r *GormIngestionEventRepository) GetByEventID(ctx context.Context, eventID string) (*models.IngestionEvent, error) {
	var event models.IngestionEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", strings.TrimSpace(eventID)).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// MarkProcessed 标记事件已处理，已处理的事件不会被重复标记
func (r *GormIngestionEventRepository) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.IngestionEvent{}).
		Where("event_id = ? AND status <> ?", eventID, constants.IngestionStatusProcessed).
		Updates(map[string]interface{}{
			"status":       constants.IngestionStatusProcessed,
			"processed_at": processedAt,
			"last_error":   "",
			"updated_at":   processedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed 记录处理失败并累加尝试次数
func (r *GormIngestionEventRepository) MarkFailed(ctx context.Context, eventID, reason string) error {
	return r.db.WithContext(ctx).Model(&models.IngestionEvent{}).
		Where("event_id = ? AND status <> ?", eventID, constants.IngestionStatusProcessed).
		Updates(map[string]interface{}{
			"status":     constants.IngestionStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": truncateRunes(reason, 1000),
			"updated_at": time.Now(),
		}).Error
}

// List 分页查询事件
func (r *GormIngestionEventRepository) List(ctx context.Context, filter IngestionEventListFilter) ([]models.IngestionEvent, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.IngestionEvent{})
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.IngestionEvent
	if err := applyPagination(query.Order("received_at DESC, id DESC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// truncateRunes 按字符截断，避免切断多字节字符
func truncateRunes(value string, max int) string {
	runes := []rune(value)
	if max <= 0 || len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
