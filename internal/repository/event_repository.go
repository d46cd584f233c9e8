package repository

import (
	"context"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
)

// EventRepository 事件仓储接口
type EventRepository interface {
	Save(ctx context.Context, event *model.EventModel) error
	FindByDocumentID(ctx context.Context, documentID string, limit int) ([]*model.EventModel, error)
	FindPending(ctx context.Context, limit int) ([]*model.EventModel, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// eventRepository 事件仓储实现
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Save 保存事件
func (r *eventRepository) Save(ctx context.Context, event *model.EventModel) error {
	if err := event.Validate(); err != nil {
		return err
	}
	return conn(ctx, r.db).Save(event).Error
}

// FindByDocumentID 查找单据相关事件,按时间倒序
func (r *eventRepository) FindByDocumentID(ctx context.Context, documentID string, limit int) ([]*model.EventModel, error) {
	var events []*model.EventModel
	query := conn(ctx, r.db).Where("document_id = ?", documentID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// FindPending 查找待投递的事件
func (r *eventRepository) FindPending(ctx context.Context, limit int) ([]*model.EventModel, error) {
	var events []*model.EventModel
	query := conn(ctx, r.db).Where("status = ?", model.EventStatusPending).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// MarkDelivered 标记事件已投递
func (r *eventRepository) MarkDelivered(ctx context.Context, id string) error {
	return conn(ctx, r.db).Model(&model.EventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.EventStatusDelivered, "updated_at": time.Now().UTC()}).Error
}

// MarkFailed 标记投递失败并累加重试次数
func (r *eventRepository) MarkFailed(ctx context.Context, id string) error {
	return conn(ctx, r.db).Model(&model.EventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.EventStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		}).Error
}
