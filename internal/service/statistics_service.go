package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
)

// StatisticsService 审批统计服务接口
type StatisticsService interface {
	FlowsByStatus(ctx context.Context) ([]*FlowStatistics, error)
	SignaturesByDay(ctx context.Context, since time.Time) ([]*SignatureStatisticsByDay, error)
	JobsByStatus(ctx context.Context) ([]*JobStatistics, error)
	Summary(ctx context.Context, since time.Time) (*Statistics, error)
}

// FlowStatistics 按流程类型和状态统计
type FlowStatistics struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// SignatureStatisticsByDay 按天统计签名数
type SignatureStatisticsByDay struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// JobStatistics 按状态统计生成任务
type JobStatistics struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// Statistics 汇总
type Statistics struct {
	Flows      []*FlowStatistics           `json:"flows"`
	Signatures []*SignatureStatisticsByDay `json:"signatures"`
	Jobs       []*JobStatistics            `json:"jobs"`
}

// statisticsService 统计服务实现
type statisticsService struct {
	db *gorm.DB
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// FlowsByStatus 按流程类型和缓存状态统计
func (s *statisticsService) FlowsByStatus(ctx context.Context) ([]*FlowStatistics, error) {
	var stats []*FlowStatistics
	err := s.db.WithContext(ctx).Model(&model.FlowModel{}).
		Select("kind, status, COUNT(*) as count").
		Group("kind, status").
		Order("kind, status").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get flow statistics: %w", err)
	}
	return stats, nil
}

// SignaturesByDay 按天统计 since 之后的签名
func (s *statisticsService) SignaturesByDay(ctx context.Context, since time.Time) ([]*SignatureStatisticsByDay, error) {
	var results []struct {
		Day   string
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&model.SignatureModel{}).
		Select("DATE(signed_at) as day, COUNT(*) as count").
		Where("signed_at >= ?", since.UTC()).
		Group("DATE(signed_at)").
		Order("day").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get signature statistics: %w", err)
	}

	stats := make([]*SignatureStatisticsByDay, 0, len(results))
	for _, r := range results {
		day := r.Day
		// PostgreSQL 返回完整时间戳
		if len(day) > 10 {
			day = day[:10]
		}
		stats = append(stats, &SignatureStatisticsByDay{Date: day, Count: r.Count})
	}
	return stats, nil
}

// JobsByStatus 按状态统计生成任务
func (s *statisticsService) JobsByStatus(ctx context.Context) ([]*JobStatistics, error) {
	var stats []*JobStatistics
	err := s.db.WithContext(ctx).Model(&model.GenerationJobModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Order("status").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get job statistics: %w", err)
	}
	return stats, nil
}

// Summary 汇总统计
func (s *statisticsService) Summary(ctx context.Context, since time.Time) (*Statistics, error) {
	flows, err := s.FlowsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	signatures, err := s.SignaturesByDay(ctx, since)
	if err != nil {
		return nil, err
	}
	jobs, err := s.JobsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Statistics{Flows: flows, Signatures: signatures, Jobs: jobs}, nil
}
