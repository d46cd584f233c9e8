package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/utils"
	"gorm.io/gorm"
)

// QueryService 流程查询服务接口
type QueryService interface {
	ListFlows(ctx context.Context, filter *ListFlowsFilter) ([]*FlowSummary, int64, error)
}

// ListFlowsFilter 流程列表过滤器
type ListFlowsFilter struct {
	Status       string `form:"status"`
	Kind         string `form:"kind"`
	DocumentType string `form:"document_type"`
	DocumentID   string `form:"document_id"`
	StartTime    *time.Time
	EndTime      *time.Time
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
	SortBy       string `form:"sort_by"`
	Order        string `form:"order"`
}

// FlowSummary 流程列表项,状态为缓存值
type FlowSummary struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	DocumentType string    `json:"document_type"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// 可排序字段
var flowSortFields = []string{"created_at", "updated_at", "document_id", "status"}

const maxPageSize = 100

// queryService 查询服务实现
type queryService struct {
	db *gorm.DB
}

// NewQueryService 创建查询服务
func NewQueryService(db *gorm.DB) QueryService {
	return &queryService{db: db}
}

// Normalize 补全分页默认值
func (f *ListFlowsFilter) Normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if f.SortBy == "" {
		f.SortBy = "created_at"
	}
}

// ListFlows 分页列出流程
func (s *queryService) ListFlows(ctx context.Context, filter *ListFlowsFilter) ([]*FlowSummary, int64, error) {
	filter.Normalize()
	orderBy, err := utils.ValidateSort(filter.SortBy, filter.Order, flowSortFields...)
	if err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&model.FlowModel{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.DocumentType != "" {
		query = query.Where("document_type = ?", filter.DocumentType)
	}
	if filter.DocumentID != "" {
		query = query.Where("document_id = ?", filter.DocumentID)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime.UTC())
	}

	// 条件复用于计数和分页查询
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count flows: %w", err)
	}

	var models []model.FlowModel
	err = query.Order(orderBy + ", id ASC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query flows: %w", err)
	}

	flows := make([]*FlowSummary, 0, len(models))
	for _, m := range models {
		flows = append(flows, &FlowSummary{
			ID:           m.ID,
			DocumentID:   m.DocumentID,
			DocumentType: m.DocumentType,
			Kind:         m.Kind,
			Status:       m.Status,
			CreatedAt:    m.CreatedAt.UTC(),
			UpdatedAt:    m.UpdatedAt.UTC(),
		})
	}
	return flows, total, nil
}
