package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/approval"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/ledger"
	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/officer"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/dataflowslab/core.rompharm-sub001/internal/stage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// RevocationPolicy 撤销签名后阶段序号的处理策略
type RevocationPolicy string

const (
	// RevocationRetain 序号保持不变
	RevocationRetain RevocationPolicy = "retain"
	// RevocationRollback 本流程的完成是最近一次推进时回退
	RevocationRollback RevocationPolicy = "rollback"
)

// systemOperator 自动创建流程时记录的操作人
const systemOperator = "system"

const maxStatusAttempts = 5

// JobEnqueuer 流程完成后提交生成任务
type JobEnqueuer interface {
	Enqueue(ctx context.Context, entityID, templateCode, templateName, createdBy string) (domain.GenerationJob, error)
}

// Coordinator 流程协调: 创建流程、签名、撤销、阶段推进和任务触发
type Coordinator struct {
	flows    repository.FlowRepository
	history  repository.FlowStatusHistoryRepository
	ledger   *ledger.Ledger
	resolver *officer.Resolver
	registry *approval.Registry
	gate     *stage.Gate

	jobs      JobEnqueuer
	publisher event.Publisher
	policy    RevocationPolicy
	tracer    trace.Tracer
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option 协调器选项
type Option func(*Coordinator)

// WithJobs 设置任务提交者
func WithJobs(jobs JobEnqueuer) Option {
	return func(c *Coordinator) { c.jobs = jobs }
}

// WithPublisher 设置事件发布者
func WithPublisher(p event.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithRevocationPolicy 设置撤销策略
func WithRevocationPolicy(policy RevocationPolicy) Option {
	return func(c *Coordinator) { c.policy = policy }
}

// WithTracer 替换 tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = tracer }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger 设置日志
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New 创建流程协调器
func New(
	flows repository.FlowRepository,
	history repository.FlowStatusHistoryRepository,
	l *ledger.Ledger,
	resolver *officer.Resolver,
	registry *approval.Registry,
	gate *stage.Gate,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		flows:     flows,
		history:   history,
		ledger:    l,
		resolver:  resolver,
		registry:  registry,
		gate:      gate,
		publisher: event.Nop,
		policy:    RevocationRetain,
		tracer:    otel.Tracer("signflow/coordinator"),
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "coordinator")
	return c
}

// Policy 当前撤销策略
func (c *Coordinator) Policy() RevocationPolicy {
	return c.policy
}

// GetOrCreateFlow 读取流程,不存在且有配置时创建
func (c *Coordinator) GetOrCreateFlow(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, viewer domain.Identity) (FlowView, error) {
	ctx, span := c.startSpan(ctx, "coordinator.GetOrCreateFlow", doc, kind)
	defer span.End()

	// 入口阶段未解锁时只读,不创建流程
	tag, open, err := c.entry(ctx, doc.ID, kind)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}
	if !open {
		view, err := c.lockedView(ctx, doc, kind, tag, viewer)
		return view, recordError(span, err)
	}

	m, err := c.loadOrCreate(ctx, doc, kind)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}
	view, err := c.view(ctx, m, viewer)
	return view, recordError(span, err)
}

// DocumentFlows 单据已有的全部流程,不创建
func (c *Coordinator) DocumentFlows(ctx context.Context, documentID string, viewer domain.Identity) ([]FlowView, error) {
	models, err := c.flows.FindByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	views := make([]FlowView, 0, len(models))
	for _, m := range models {
		v, err := c.view(ctx, m, viewer)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Sign 签名
// 1. 流程类型的入口阶段必须已解锁
// 2. 账本追加,授权由 Resolver.CanSign 在同一事务内判定
// 3. 重新计算状态并重写缓存
// 4. 变为完成时推进阶段并提交生成任务
// 5. 发布流程变更事件
func (c *Coordinator) Sign(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, identity domain.Identity) (FlowView, error) {
	ctx, span := c.startSpan(ctx, "coordinator.Sign", doc, kind)
	defer span.End()
	span.SetAttributes(attribute.String("signer.id", identity.ID))

	tag, open, err := c.entry(ctx, doc.ID, kind)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}
	if !open {
		if _, ok := c.registry.Lookup(doc.Type, kind); !ok {
			return FlowView{}, recordError(span, notConfigured(doc, kind))
		}
		return FlowView{}, recordError(span, domain.NewError(domain.CodeNotAuthorized,
			fmt.Sprintf("stage %s is not unlocked for document %s", tag, doc.ID)))
	}

	m, err := c.loadOrCreate(ctx, doc, kind)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}
	flow, err := flowFromModel(m)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}

	if _, err := c.ledger.Append(ctx, flow, identity, c.resolver.CanSign); err != nil {
		return FlowView{}, recordError(span, err)
	}

	from, to, changed, err := c.refreshStatus(ctx, m, identity.ID, "sign")
	if err != nil {
		return FlowView{}, recordError(span, err)
	}

	var triggered []domain.GenerationJob
	if changed && to == domain.FlowStatusCompleted {
		triggered = c.complete(ctx, doc, m, identity.ID)
	}
	c.publishFlowChanged(ctx, m, to, "sign")

	view, err := c.view(ctx, m, identity)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}
	view.TriggeredJobs = triggered
	if changed {
		view.Transition = c.transition(from, to, "sign", identity.ID)
	}
	return view, nil
}

// RemoveSignature 管理员撤销签名
// retain: 阶段序号不回退; rollback: 本流程完成时的推进仍是最近一次推进才回退
func (c *Coordinator) RemoveSignature(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, signerID string, requestedBy domain.Identity) (FlowView, error) {
	ctx, span := c.startSpan(ctx, "coordinator.RemoveSignature", doc, kind)
	defer span.End()
	span.SetAttributes(attribute.String("signer.id", signerID))

	if !requestedBy.IsAdministrator {
		return FlowView{}, recordError(span, domain.NewError(domain.CodeNotAuthorized, "only administrators can remove signatures"))
	}

	m, err := c.flows.FindByDocumentKind(ctx, doc.ID, string(kind))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FlowView{}, recordError(span, domain.WrapError(domain.CodeNotFound, "flow not found", err))
	}
	if err != nil {
		return FlowView{}, recordError(span, fmt.Errorf("load flow: %w", err))
	}
	flow, err := flowFromModel(m)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}

	if _, err := c.ledger.Revoke(ctx, flow, signerID); err != nil {
		return FlowView{}, recordError(span, err)
	}

	from, to, changed, err := c.refreshStatus(ctx, m, requestedBy.ID, "revoke")
	if err != nil {
		return FlowView{}, recordError(span, err)
	}
	if changed && from == domain.FlowStatusCompleted && c.policy == RevocationRollback {
		c.rollback(ctx, doc, m)
	}
	c.publishFlowChanged(ctx, m, to, "revoke")

	c.logger.WithFields(logrus.Fields{
		"flow_id":      m.ID,
		"signer_id":    signerID,
		"requested_by": requestedBy.ID,
		"policy":       c.policy,
	}).Warn("Signature removed by administrator")

	view, err := c.view(ctx, m, requestedBy)
	if err != nil {
		return FlowView{}, recordError(span, err)
	}
	if changed {
		view.Transition = c.transition(from, to, "revoke", requestedBy.ID)
	}
	return view, nil
}

// Stages 单据阶段视图
func (c *Coordinator) Stages(ctx context.Context, documentID string) (StageView, error) {
	ordinal, err := c.gate.Ordinal(ctx, documentID)
	if err != nil {
		return StageView{}, err
	}
	table := c.gate.Table()
	return StageView{
		DocumentID:   documentID,
		Ordinal:      ordinal,
		Unlocked:     table.Unlocked(ordinal),
		TableVersion: table.Version,
	}, nil
}

// History 流程状态变更历史
func (c *Coordinator) History(ctx context.Context, documentID string, kind domain.FlowKind) ([]StatusChange, error) {
	m, err := c.findFlow(ctx, documentID, kind)
	if err != nil {
		return nil, err
	}
	records, err := c.history.FindByFlowID(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("load flow history: %w", err)
	}
	changes := make([]StatusChange, 0, len(records))
	for _, r := range records {
		changes = append(changes, StatusChange{
			From:      domain.FlowStatus(r.FromStatus),
			To:        domain.FlowStatus(r.ToStatus),
			Reason:    r.Reason,
			Operator:  r.Operator,
			ChangedAt: r.CreatedAt.UTC(),
		})
	}
	return changes, nil
}

// Verify 校验流程全部签名的哈希
func (c *Coordinator) Verify(ctx context.Context, documentID string, kind domain.FlowKind) ([]SignatureCheck, error) {
	m, err := c.findFlow(ctx, documentID, kind)
	if err != nil {
		return nil, err
	}
	sigs, err := c.ledger.List(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	checks := make([]SignatureCheck, 0, len(sigs))
	for _, sig := range sigs {
		ok, err := c.ledger.Verify(ctx, sig)
		if err != nil {
			return nil, err
		}
		checks = append(checks, SignatureCheck{SignerID: sig.SignerID, Valid: ok})
	}
	return checks, nil
}

func (c *Coordinator) findFlow(ctx context.Context, documentID string, kind domain.FlowKind) (*model.FlowModel, error) {
	m, err := c.flows.FindByDocumentKind(ctx, documentID, string(kind))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.WrapError(domain.CodeNotFound, "flow not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load flow: %w", err)
	}
	return m, nil
}

// loadOrCreate 流程按需创建,已有流程保留创建时的签署人快照
func (c *Coordinator) loadOrCreate(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind) (*model.FlowModel, error) {
	m, err := c.flows.FindByDocumentKind(ctx, doc.ID, string(kind))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load flow: %w", err)
	}

	cfg, ok := c.registry.Lookup(doc.Type, kind)
	if !ok {
		return nil, notConfigured(doc, kind)
	}

	required, err := encodeSpecs(cfg.Required)
	if err != nil {
		return nil, err
	}
	optional, err := encodeSpecs(cfg.Optional)
	if err != nil {
		return nil, err
	}
	status := approval.Evaluate(cfg.Required, cfg.Optional, cfg.MinSignatures, nil, func(domain.Signature, domain.OfficerSpec) bool { return false })

	now := c.now().UTC()
	m = &model.FlowModel{
		ID:               uuid.NewString(),
		DocumentID:       doc.ID,
		DocumentType:     string(doc.Type),
		Kind:             string(kind),
		RequiredOfficers: required,
		OptionalOfficers: optional,
		MinSignatures:    cfg.MinSignatures,
		Status:           string(status),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.flows.Create(ctx, m); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发创建,读取胜出者
			existing, ferr := c.flows.FindByDocumentKind(ctx, doc.ID, string(kind))
			if ferr != nil {
				return nil, fmt.Errorf("load flow: %w", ferr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("create flow: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"flow_id":     m.ID,
		"document_id": doc.ID,
		"kind":        kind,
		"status":      status,
	}).Info("Flow created")

	c.saveHistory(ctx, m.ID, "", status, "create", systemOperator)
	if status == domain.FlowStatusCompleted {
		// 无签署人的流程创建即完成
		c.complete(ctx, doc, m, systemOperator)
		c.publishFlowChanged(ctx, m, status, "create")
	}
	return m, nil
}

// evaluate 用目录中的最新身份重新计算状态
func (c *Coordinator) evaluate(ctx context.Context, flow *domain.ApprovalFlow) (approval.Summary, error) {
	sigs, err := c.ledger.List(ctx, flow.ID)
	if err != nil {
		return approval.Summary{}, err
	}
	flow.Signatures = sigs

	attribution, err := c.resolver.Attribute(ctx, sigs, flow.RequiredOfficers, flow.OptionalOfficers)
	if err != nil {
		return approval.Summary{}, fmt.Errorf("attribute signatures: %w", err)
	}
	summary := approval.Summarize(flow.RequiredOfficers, flow.OptionalOfficers, flow.MinSignatures, sigs, attribution.Match)
	flow.Status = summary.Status
	return summary, nil
}

// refreshStatus 账本变更后重写状态缓存
// 缓存按 CAS 改写,只有改写成功的一方返回 changed,由它执行完成或回退的副作用
func (c *Coordinator) refreshStatus(ctx context.Context, m *model.FlowModel, operator, reason string) (from, to domain.FlowStatus, changed bool, err error) {
	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		flow, err := flowFromModel(m)
		if err != nil {
			return "", "", false, err
		}
		summary, err := c.evaluate(ctx, flow)
		if err != nil {
			return "", "", false, err
		}

		from, to = domain.FlowStatus(m.Status), summary.Status
		if from == to {
			return from, to, false, nil
		}
		ok, err := c.flows.CompareAndSetStatus(ctx, m.ID, string(from), string(to))
		if err != nil {
			return "", "", false, fmt.Errorf("update flow status: %w", err)
		}
		if ok {
			m.Status = string(to)
			c.saveHistory(ctx, m.ID, from, to, reason, operator)
			return from, to, true, nil
		}

		// 并发改写,重新读取后再算
		fresh, err := c.flows.FindByID(ctx, m.ID)
		if err != nil {
			return "", "", false, fmt.Errorf("reload flow: %w", err)
		}
		*m = *fresh
	}
	return "", "", false, fmt.Errorf("update flow status: %d concurrent rewrites of flow %s", maxStatusAttempts, m.ID)
}

// complete 推进阶段并提交生成任务,失败只记录日志,签名已提交
func (c *Coordinator) complete(ctx context.Context, doc domain.DocumentRef, m *model.FlowModel, operator string) []domain.GenerationJob {
	logger := c.logger.WithFields(logrus.Fields{"flow_id": m.ID, "document_id": doc.ID, "kind": m.Kind})

	if target, ok := c.gate.Table().Target(domain.FlowKind(m.Kind)); ok {
		previous, err := c.gate.Ordinal(ctx, doc.ID)
		if err != nil {
			logger.WithError(err).Error("Failed to read stage ordinal")
		} else if current, advanced, err := c.gate.Advance(ctx, doc, target); err != nil {
			logger.WithError(err).Error("Failed to advance stage")
		} else if advanced {
			if err := c.flows.SetAdvancement(ctx, m.ID, previous, current); err != nil {
				logger.WithError(err).Error("Failed to record stage advancement")
			}
			m.AdvancedFrom, m.AdvancedTo = previous, current
			logger.WithFields(logrus.Fields{"from": previous, "to": current}).Info("Stage advanced")
			c.publishStage(ctx, doc.ID, m.ID, previous, current)
		}
	}

	cfg, ok := c.registry.Lookup(domain.DocumentType(m.DocumentType), domain.FlowKind(m.Kind))
	if !ok || c.jobs == nil {
		return nil
	}
	jobs := make([]domain.GenerationJob, 0, len(cfg.OnComplete))
	for _, t := range cfg.OnComplete {
		j, err := c.jobs.Enqueue(ctx, doc.ID, t.TemplateCode, t.TemplateName, operator)
		if err != nil {
			logger.WithError(err).WithField("template_code", t.TemplateCode).Error("Failed to enqueue milestone job")
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// rollback 仅当序号仍停在本流程推进的位置时回退
func (c *Coordinator) rollback(ctx context.Context, doc domain.DocumentRef, m *model.FlowModel) {
	if m.AdvancedTo <= m.AdvancedFrom {
		return
	}
	logger := c.logger.WithFields(logrus.Fields{"flow_id": m.ID, "document_id": doc.ID})

	reset, err := c.gate.Reset(ctx, doc.ID, m.AdvancedFrom, m.AdvancedTo)
	if err != nil {
		logger.WithError(err).Error("Failed to roll back stage")
		return
	}
	if !reset {
		logger.WithField("advanced_to", m.AdvancedTo).Info("Stage moved on since completion, rollback skipped")
		return
	}
	if err := c.flows.SetAdvancement(ctx, m.ID, 0, 0); err != nil {
		logger.WithError(err).Error("Failed to clear stage advancement")
	}
	logger.WithFields(logrus.Fields{"from": m.AdvancedTo, "to": m.AdvancedFrom}).Warn("Stage rolled back")
	c.publishStage(ctx, doc.ID, m.ID, m.AdvancedTo, m.AdvancedFrom)
	m.AdvancedFrom, m.AdvancedTo = 0, 0
}

func (c *Coordinator) view(ctx context.Context, m *model.FlowModel, viewer domain.Identity) (FlowView, error) {
	flow, err := flowFromModel(m)
	if err != nil {
		return FlowView{}, err
	}
	summary, err := c.evaluate(ctx, flow)
	if err != nil {
		return FlowView{}, err
	}
	tag, open, err := c.entry(ctx, m.DocumentID, flow.Kind)
	if err != nil {
		return FlowView{}, err
	}
	canSign := false
	if open {
		canSign, err = c.resolver.CanSign(ctx, viewer, flow)
		if err != nil {
			return FlowView{}, fmt.Errorf("check signer: %w", err)
		}
	}
	return FlowView{
		Configured: true,
		Flow:       flow,
		Summary:    &summary,
		CanSign:    canSign,
		Locked:     !open,
		Stage:      tag,
	}, nil
}

// lockedView 入口阶段未解锁: 已有流程照常展示但不可签,没有流程时不创建
func (c *Coordinator) lockedView(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, tag domain.StageTag, viewer domain.Identity) (FlowView, error) {
	m, err := c.flows.FindByDocumentKind(ctx, doc.ID, string(kind))
	if err == nil {
		return c.view(ctx, m, viewer)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return FlowView{}, fmt.Errorf("load flow: %w", err)
	}
	if _, ok := c.registry.Lookup(doc.Type, kind); !ok {
		return FlowView{}, notConfigured(doc, kind)
	}
	return FlowView{Configured: true, Locked: true, Stage: tag}, nil
}

// entry 流程类型的入口阶段是否已按当前序号解锁
func (c *Coordinator) entry(ctx context.Context, documentID string, kind domain.FlowKind) (domain.StageTag, bool, error) {
	ordinal, err := c.gate.Ordinal(ctx, documentID)
	if err != nil {
		return "", false, err
	}
	tag, open := c.gate.Table().Entry(kind, ordinal)
	return tag, open, nil
}

func notConfigured(doc domain.DocumentRef, kind domain.FlowKind) error {
	return domain.NewError(domain.CodeNotConfigured, fmt.Sprintf("no %s flow configured for %s", kind, doc.Type))
}

func (c *Coordinator) transition(from, to domain.FlowStatus, reason, operator string) *StatusChange {
	return &StatusChange{From: from, To: to, Reason: reason, Operator: operator, ChangedAt: c.now().UTC()}
}

func (c *Coordinator) saveHistory(ctx context.Context, flowID string, from, to domain.FlowStatus, reason, operator string) {
	if operator == "" {
		operator = systemOperator
	}
	err := c.history.Save(ctx, &model.FlowStatusHistoryModel{
		ID:         uuid.NewString(),
		FlowID:     flowID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Reason:     reason,
		Operator:   operator,
		CreatedAt:  c.now().UTC(),
	})
	if err != nil {
		c.logger.WithError(err).WithField("flow_id", flowID).Error("Failed to save flow history")
	}
}

func (c *Coordinator) publishFlowChanged(ctx context.Context, m *model.FlowModel, status domain.FlowStatus, reason string) {
	err := c.publisher.Publish(ctx, event.Event{
		Topic:       event.TopicFlowChanged,
		DocumentID:  m.DocumentID,
		AggregateID: m.ID,
		Payload: map[string]interface{}{
			"flow_id": m.ID,
			"kind":    m.Kind,
			"status":  string(status),
			"reason":  reason,
		},
	})
	if err != nil {
		c.logger.WithError(err).WithField("flow_id", m.ID).Error("Failed to publish flow event")
	}
}

func (c *Coordinator) publishStage(ctx context.Context, documentID, flowID string, from, to int) {
	table := c.gate.Table()
	err := c.publisher.Publish(ctx, event.Event{
		Topic:       event.TopicStageAdvanced,
		DocumentID:  documentID,
		AggregateID: flowID,
		Payload: map[string]interface{}{
			"from":     from,
			"to":       to,
			"unlocked": table.Unlocked(to),
			"version":  table.Version,
		},
	})
	if err != nil {
		c.logger.WithError(err).WithField("document_id", documentID).Error("Failed to publish stage event")
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name string, doc domain.DocumentRef, kind domain.FlowKind) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.type", string(doc.Type)),
		attribute.String("flow.kind", string(kind)),
	))
}

// recordError 记录业务错误码,透传 err
func recordError(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if code := domain.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("error.code", string(code)))
	}
	span.SetStatus(codes.Error, err.Error())
	return err
}
