package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/artifact"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Orchestrator 文档生成任务编排
// 状态流转: queued -> processing -> done, queued|processing -> failed, 终态不再变化
type Orchestrator struct {
	jobs      repository.JobRepository
	store     artifact.Store
	publisher event.Publisher
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithPublisher 设置事件发布者
func WithPublisher(p event.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger 设置日志
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator 创建任务编排器
func NewOrchestrator(jobs repository.JobRepository, store artifact.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:      jobs,
		store:     store,
		publisher: event.Nop,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithField("component", "job_orchestrator")
	return o
}

// Enqueue 创建新版本任务,旧版本保留但不再是当前版本
func (o *Orchestrator) Enqueue(ctx context.Context, entityID, templateCode, templateName, createdBy string) (domain.GenerationJob, error) {
	if entityID == "" || templateCode == "" {
		return domain.GenerationJob{}, domain.NewError(domain.CodeInvalidArgument, "entity_id and template_code are required")
	}

	version, err := o.jobs.NextVersion(ctx, entityID, templateCode)
	if err != nil {
		return domain.GenerationJob{}, fmt.Errorf("assign job version: %w", err)
	}

	now := o.now().UTC()
	m := &model.GenerationJobModel{
		ID:           uuid.NewString(),
		EntityID:     entityID,
		TemplateCode: templateCode,
		TemplateName: templateName,
		Version:      version,
		Status:       string(domain.JobStatusQueued),
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.jobs.Create(ctx, m); err != nil {
		return domain.GenerationJob{}, fmt.Errorf("create job: %w", err)
	}

	job := toDomain(m)
	o.logger.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"entity_id":     entityID,
		"template_code": templateCode,
		"version":       version,
	}).Info("Job enqueued")
	o.publish(ctx, job, false)
	return job, nil
}

// Status 读取任务,无副作用
func (o *Orchestrator) Status(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	m, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		return domain.GenerationJob{}, notFound(err, "job not found")
	}
	return toDomain(m), nil
}

// Current (entity, template) 的最高版本任务
func (o *Orchestrator) Current(ctx context.Context, entityID, templateCode string) (domain.GenerationJob, error) {
	m, err := o.jobs.FindCurrent(ctx, entityID, templateCode)
	if err != nil {
		return domain.GenerationJob{}, notFound(err, "no job for template")
	}
	return toDomain(m), nil
}

// List 列出实体任务,默认每个模板只返回当前版本
func (o *Orchestrator) List(ctx context.Context, entityID string, includeSuperseded bool) ([]domain.GenerationJob, error) {
	models, err := o.jobs.FindByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]domain.GenerationJob, 0, len(models))
	seen := make(map[string]bool)
	for _, m := range models {
		// 按模板、版本倒序,首个即当前版本
		if !includeSuperseded && seen[m.TemplateCode] {
			continue
		}
		seen[m.TemplateCode] = true
		jobs = append(jobs, toDomain(m))
	}
	return jobs, nil
}

// Download 打开已完成任务的产物,调用方负责关闭
func (o *Orchestrator) Download(ctx context.Context, jobID string) (domain.GenerationJob, io.ReadCloser, error) {
	m, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		return domain.GenerationJob{}, nil, notFound(err, "job not found")
	}
	job := toDomain(m)

	switch job.Status {
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		return job, nil, domain.NewError(domain.CodeNotReady, fmt.Sprintf("job is %s", job.Status))
	case domain.JobStatusFailed:
		return job, nil, domain.NewError(domain.CodeGenerationFailed, job.Error)
	}

	rc, err := o.store.Open(ctx, m.ArtifactKey)
	if errors.Is(err, artifact.ErrNotFound) {
		return job, nil, domain.WrapError(domain.CodeNotFound, "artifact missing", err)
	}
	if err != nil {
		return job, nil, fmt.Errorf("open artifact: %w", err)
	}
	return job, rc, nil
}

// Delete 删除任务和产物,版本序列不回退
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	m, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		return notFound(err, "job not found")
	}
	deleted, err := o.jobs.Delete(ctx, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if !deleted {
		return domain.NewError(domain.CodeNotFound, "job not found")
	}
	if m.ArtifactKey != "" {
		if err := o.store.Delete(ctx, m.ArtifactKey); err != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to delete artifact")
		}
	}
	o.logger.WithField("job_id", jobID).Info("Job deleted")

	o.publish(ctx, toDomain(m), true)
	return nil
}

// Claim worker 领取任务: queued -> processing
func (o *Orchestrator) Claim(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	return o.transition(ctx, jobID, []domain.JobStatus{domain.JobStatusQueued}, domain.JobStatusProcessing, nil)
}

// Complete worker 上传产物: processing -> done
// 每次上传写入独立的 key,状态更新失败时只清理本次写入
func (o *Orchestrator) Complete(ctx context.Context, jobID, filename string, content io.Reader) (domain.GenerationJob, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return domain.GenerationJob{}, domain.NewError(domain.CodeInvalidArgument, "filename is required")
	}

	m, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		return domain.GenerationJob{}, notFound(err, "job not found")
	}
	if domain.JobStatus(m.Status) != domain.JobStatusProcessing {
		return domain.GenerationJob{}, invalidTransition(m.Status, domain.JobStatusDone)
	}

	key := m.EntityID + "/" + m.ID + "/" + uuid.NewString() + "/" + name
	if _, err := o.store.Put(ctx, key, content); err != nil {
		return domain.GenerationJob{}, fmt.Errorf("store artifact: %w", err)
	}

	job, err := o.transition(ctx, jobID, []domain.JobStatus{domain.JobStatusProcessing}, domain.JobStatusDone, map[string]interface{}{
		"filename":     name,
		"artifact_key": key,
	})
	if err != nil {
		_ = o.store.Delete(ctx, key)
		return domain.GenerationJob{}, err
	}
	return job, nil
}

// Fail 标记失败: queued|processing -> failed,不自动重试
func (o *Orchestrator) Fail(ctx context.Context, jobID, message string) (domain.GenerationJob, error) {
	if message == "" {
		message = "generation failed"
	}
	return o.transition(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing},
		domain.JobStatusFailed,
		map[string]interface{}{"error": message})
}

func (o *Orchestrator) transition(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, fields map[string]interface{}) (domain.GenerationJob, error) {
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}
	ok, err := o.jobs.CompareAndSetStatus(ctx, jobID, states, string(to), fields)
	if err != nil {
		return domain.GenerationJob{}, fmt.Errorf("update job status: %w", err)
	}

	m, err := o.jobs.FindByID(ctx, jobID)
	if err != nil {
		return domain.GenerationJob{}, notFound(err, "job not found")
	}
	if !ok {
		return domain.GenerationJob{}, invalidTransition(m.Status, to)
	}

	job := toDomain(m)
	o.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"status": to,
	}).Info("Job status changed")
	o.publish(ctx, job, false)
	return job, nil
}

func (o *Orchestrator) publish(ctx context.Context, job domain.GenerationJob, deleted bool) {
	err := o.publisher.Publish(ctx, event.Event{
		Topic:       event.TopicJobChanged,
		DocumentID:  job.EntityID,
		AggregateID: job.ID,
		Payload: map[string]interface{}{
			"job_id":        job.ID,
			"template_code": job.TemplateCode,
			"version":       job.Version,
			"status":        string(job.Status),
			"deleted":       deleted,
		},
	})
	if err != nil {
		o.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to publish job event")
	}
}

func invalidTransition(from string, to domain.JobStatus) error {
	return domain.NewError(domain.CodeInvalidTransition, fmt.Sprintf("cannot move job from %s to %s", from, to))
}

func notFound(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.WrapError(domain.CodeNotFound, message, err)
	}
	return err
}

func toDomain(m *model.GenerationJobModel) domain.GenerationJob {
	return domain.GenerationJob{
		ID:           m.ID,
		EntityID:     m.EntityID,
		TemplateCode: m.TemplateCode,
		TemplateName: m.TemplateName,
		Status:       domain.JobStatus(m.Status),
		Filename:     m.Filename,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt.UTC(),
		CreatedBy:    m.CreatedBy,
		UpdatedAt:    m.UpdatedAt.UTC(),
		Error:        m.Error,
	}
}
