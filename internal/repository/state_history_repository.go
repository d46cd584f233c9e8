package repository

import (
	"context"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
)

// FlowStatusHistoryRepository 流程状态历史仓储接口
type FlowStatusHistoryRepository interface {
	Save(ctx context.Context, history *model.FlowStatusHistoryModel) error
	FindByFlowID(ctx context.Context, flowID string) ([]*model.FlowStatusHistoryModel, error)
}

// flowStatusHistoryRepository 状态历史仓储实现
type flowStatusHistoryRepository struct {
	db *gorm.DB
}

// NewFlowStatusHistoryRepository 创建状态历史仓储
func NewFlowStatusHistoryRepository(db *gorm.DB) FlowStatusHistoryRepository {
	return &flowStatusHistoryRepository{db: db}
}

// Save 保存状态历史
func (r *flowStatusHistoryRepository) Save(ctx context.Context, history *model.FlowStatusHistoryModel) error {
	if err := history.Validate(); err != nil {
		return err
	}
	return conn(ctx, r.db).Create(history).Error
}

// FindByFlowID 根据流程 ID 查找状态历史
func (r *flowStatusHistoryRepository) FindByFlowID(ctx context.Context, flowID string) ([]*model.FlowStatusHistoryModel, error) {
	var histories []*model.FlowStatusHistoryModel
	err := conn(ctx, r.db).Where("flow_id = ?", flowID).Order("created_at ASC").Find(&histories).Error
	return histories, err
}
