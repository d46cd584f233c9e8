package service

import (
	"context"
	"fmt"
	"io"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/job"
	"github.com/dataflowslab/core.rompharm-sub001/internal/metrics"
	"github.com/sirupsen/logrus"
)

// JobService 文档生成任务服务接口
type JobService interface {
	Enqueue(ctx context.Context, req *EnqueueJobRequest, createdBy string) (domain.GenerationJob, error)
	Get(ctx context.Context, id string) (domain.GenerationJob, error)
	Current(ctx context.Context, entityID, templateCode string) (domain.GenerationJob, error)
	List(ctx context.Context, entityID string, includeSuperseded bool) ([]domain.GenerationJob, error)
	Download(ctx context.Context, id string) (domain.GenerationJob, io.ReadCloser, error)
	Delete(ctx context.Context, id string, requestedBy domain.Identity) error
	// worker 接口,仅 worker 角色或管理员
	Claim(ctx context.Context, id string, worker domain.Identity) (domain.GenerationJob, error)
	Complete(ctx context.Context, id string, worker domain.Identity, filename string, content io.Reader) (domain.GenerationJob, error)
	Fail(ctx context.Context, id string, worker domain.Identity, message string) (domain.GenerationJob, error)
}

// RoleMatcher 角色判定,由签署人解析器实现
type RoleMatcher interface {
	Matches(ctx context.Context, identity domain.Identity, spec domain.OfficerSpec) (bool, error)
}

// EnqueueJobRequest 提交生成任务请求
type EnqueueJobRequest struct {
	EntityID     string `json:"entity_id" binding:"required"`     // 实体 ID
	TemplateCode string `json:"template_code" binding:"required"` // 模板编码
	TemplateName string `json:"template_name"`                    // 模板名称
}

// FailJobRequest worker 上报失败
type FailJobRequest struct {
	Message string `json:"message"`
}

type jobService struct {
	orchestrator *job.Orchestrator
	workers      RoleMatcher
	workerRole   string
	auditLogSvc  AuditLogService
	logger       logrus.FieldLogger
}

// NewJobService 创建生成任务服务
// workers 为 nil 或 workerRole 为空时只有管理员能执行 worker 操作
func NewJobService(orchestrator *job.Orchestrator, workers RoleMatcher, workerRole string, auditLogSvc AuditLogService, logger logrus.FieldLogger) JobService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &jobService{
		orchestrator: orchestrator,
		workers:      workers,
		workerRole:   workerRole,
		auditLogSvc:  auditLogSvc,
		logger:       logger.WithField("component", "job_service"),
	}
}

func (s *jobService) Enqueue(ctx context.Context, req *EnqueueJobRequest, createdBy string) (domain.GenerationJob, error) {
	j, err := s.orchestrator.Enqueue(ctx, req.EntityID, req.TemplateCode, req.TemplateName, createdBy)
	if err != nil {
		return j, err
	}
	metrics.RecordJobTransition(string(j.Status))
	s.audit(ctx, createdBy, "enqueue", j, nil)
	return j, nil
}

func (s *jobService) Get(ctx context.Context, id string) (domain.GenerationJob, error) {
	return s.orchestrator.Status(ctx, id)
}

func (s *jobService) Current(ctx context.Context, entityID, templateCode string) (domain.GenerationJob, error) {
	return s.orchestrator.Current(ctx, entityID, templateCode)
}

func (s *jobService) List(ctx context.Context, entityID string, includeSuperseded bool) ([]domain.GenerationJob, error) {
	return s.orchestrator.List(ctx, entityID, includeSuperseded)
}

func (s *jobService) Download(ctx context.Context, id string) (domain.GenerationJob, io.ReadCloser, error) {
	return s.orchestrator.Download(ctx, id)
}

func (s *jobService) Delete(ctx context.Context, id string, requestedBy domain.Identity) error {
	if !requestedBy.IsAdministrator {
		return domain.NewError(domain.CodeNotAuthorized, "only administrators can delete jobs")
	}
	j, err := s.orchestrator.Status(ctx, id)
	if err != nil {
		return err
	}
	if err := s.orchestrator.Delete(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, requestedBy.ID, "delete", j, nil)
	return nil
}

func (s *jobService) Claim(ctx context.Context, id string, worker domain.Identity) (domain.GenerationJob, error) {
	if err := s.authorizeWorker(ctx, worker); err != nil {
		return domain.GenerationJob{}, err
	}
	j, err := s.orchestrator.Claim(ctx, id)
	return s.afterTransition(ctx, worker.ID, "claim", j, err, nil)
}

func (s *jobService) Complete(ctx context.Context, id string, worker domain.Identity, filename string, content io.Reader) (domain.GenerationJob, error) {
	if err := s.authorizeWorker(ctx, worker); err != nil {
		return domain.GenerationJob{}, err
	}
	j, err := s.orchestrator.Complete(ctx, id, filename, content)
	return s.afterTransition(ctx, worker.ID, "complete", j, err, map[string]interface{}{"filename": j.Filename})
}

func (s *jobService) Fail(ctx context.Context, id string, worker domain.Identity, message string) (domain.GenerationJob, error) {
	if err := s.authorizeWorker(ctx, worker); err != nil {
		return domain.GenerationJob{}, err
	}
	j, err := s.orchestrator.Fail(ctx, id, message)
	return s.afterTransition(ctx, worker.ID, "fail", j, err, map[string]interface{}{"error": message})
}

// authorizeWorker 管理员或 worker 角色成员
func (s *jobService) authorizeWorker(ctx context.Context, worker domain.Identity) error {
	if worker.IsAdministrator {
		return nil
	}
	if s.workers != nil && s.workerRole != "" {
		ok, err := s.workers.Matches(ctx, worker, domain.Role(s.workerRole))
		if err != nil {
			return fmt.Errorf("check worker role: %w", err)
		}
		if ok {
			return nil
		}
	}
	s.logger.WithField("user_id", worker.ID).Warn("Rejected job worker operation")
	return domain.NewError(domain.CodeNotAuthorized, fmt.Sprintf("%s is not a generation worker", worker.ID))
}

func (s *jobService) afterTransition(ctx context.Context, worker, action string, j domain.GenerationJob, err error, details map[string]interface{}) (domain.GenerationJob, error) {
	if err != nil {
		return j, err
	}
	metrics.RecordJobTransition(string(j.Status))
	s.audit(ctx, worker, action, j, details)
	return j, nil
}

func (s *jobService) audit(ctx context.Context, userID, action string, j domain.GenerationJob, extra map[string]interface{}) {
	if s.auditLogSvc == nil {
		return
	}
	details := map[string]interface{}{
		"entity_id":     j.EntityID,
		"template_code": j.TemplateCode,
		"version":       j.Version,
		"status":        j.Status,
	}
	for k, v := range extra {
		details[k] = v
	}
	if err := s.auditLogSvc.RecordAction(ctx, userID, action, "job", j.ID, details); err != nil {
		s.logger.WithError(err).WithField("action", action).Error("Failed to record audit log")
	}
}
