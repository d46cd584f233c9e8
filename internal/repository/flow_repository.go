package repository

import (
	"context"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
)

// FlowRepository 审批流程仓储接口
type FlowRepository interface {
	Create(ctx context.Context, flow *model.FlowModel) error
	FindByID(ctx context.Context, id string) (*model.FlowModel, error)
	FindByDocumentKind(ctx context.Context, documentID, kind string) (*model.FlowModel, error)
	FindByDocument(ctx context.Context, documentID string) ([]*model.FlowModel, error)
	CompareAndSetStatus(ctx context.Context, id, from, to string) (bool, error)
	SetAdvancement(ctx context.Context, id string, from, to int) error
}

// flowRepository 审批流程仓储实现
type flowRepository struct {
	db *gorm.DB
}

// NewFlowRepository 创建审批流程仓储
func NewFlowRepository(db *gorm.DB) FlowRepository {
	return &flowRepository{db: db}
}

// Create 创建流程,(document_id, kind) 冲突时返回 gorm.ErrDuplicatedKey
func (r *flowRepository) Create(ctx context.Context, flow *model.FlowModel) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	return conn(ctx, r.db).Create(flow).Error
}

// FindByID 根据 ID 查找流程
func (r *flowRepository) FindByID(ctx context.Context, id string) (*model.FlowModel, error) {
	var flow model.FlowModel
	if err := conn(ctx, r.db).Where("id = ?", id).First(&flow).Error; err != nil {
		return nil, err
	}
	return &flow, nil
}

// FindByDocumentKind 根据单据和流程类型查找流程
func (r *flowRepository) FindByDocumentKind(ctx context.Context, documentID, kind string) (*model.FlowModel, error) {
	var flow model.FlowModel
	err := conn(ctx, r.db).
		Where("document_id = ? AND kind = ?", documentID, kind).
		First(&flow).Error
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

// FindByDocument 查找单据的全部流程
func (r *flowRepository) FindByDocument(ctx context.Context, documentID string) ([]*model.FlowModel, error) {
	var flows []*model.FlowModel
	err := conn(ctx, r.db).Where("document_id = ?", documentID).Order("created_at ASC").Find(&flows).Error
	return flows, err
}

// CompareAndSetStatus 状态缓存仍为 from 时改写为 to
func (r *flowRepository) CompareAndSetStatus(ctx context.Context, id, from, to string) (bool, error) {
	res := conn(ctx, r.db).Model(&model.FlowModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetAdvancement 记录流程完成时的阶段推进,to 为 0 表示清除
func (r *flowRepository) SetAdvancement(ctx context.Context, id string, from, to int) error {
	return conn(ctx, r.db).Model(&model.FlowModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"advanced_from": from, "advanced_to": to, "updated_at": time.Now().UTC()}).Error
}
