package service

import (
	"context"

	"github.com/dataflowslab/core.rompharm-sub001/internal/coordinator"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/metrics"
	"github.com/sirupsen/logrus"
)

// FlowService 审批流程服务接口
type FlowService interface {
	Get(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, viewer domain.Identity) (coordinator.FlowView, error)
	List(ctx context.Context, documentID string, viewer domain.Identity) ([]coordinator.FlowView, error)
	Sign(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, identity domain.Identity) (coordinator.FlowView, error)
	RemoveSignature(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, signerID string, requestedBy domain.Identity) (coordinator.FlowView, error)
	Stages(ctx context.Context, documentID string) (coordinator.StageView, error)
	History(ctx context.Context, documentID string, kind domain.FlowKind) ([]coordinator.StatusChange, error)
	Verify(ctx context.Context, documentID string, kind domain.FlowKind) ([]coordinator.SignatureCheck, error)
}

type flowService struct {
	coord       *coordinator.Coordinator
	auditLogSvc AuditLogService
	logger      logrus.FieldLogger
}

// NewFlowService 创建审批流程服务
func NewFlowService(coord *coordinator.Coordinator, auditLogSvc AuditLogService, logger logrus.FieldLogger) FlowService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &flowService{
		coord:       coord,
		auditLogSvc: auditLogSvc,
		logger:      logger.WithField("component", "flow_service"),
	}
}

func (s *flowService) Get(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, viewer domain.Identity) (coordinator.FlowView, error) {
	return s.coord.GetOrCreateFlow(ctx, doc, kind, viewer)
}

func (s *flowService) List(ctx context.Context, documentID string, viewer domain.Identity) ([]coordinator.FlowView, error) {
	return s.coord.DocumentFlows(ctx, documentID, viewer)
}

// Sign 签名,记录指标和审计日志
func (s *flowService) Sign(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, identity domain.Identity) (coordinator.FlowView, error) {
	view, err := s.coord.Sign(ctx, doc, kind, identity)
	metrics.RecordSignature(string(kind), signResult(err))
	if err != nil {
		return view, err
	}

	if view.Transition != nil && view.Transition.To == domain.FlowStatusCompleted {
		metrics.RecordFlowCompleted(string(kind))
	}
	s.audit(ctx, identity.ID, "sign", view, map[string]interface{}{
		"document_id":    doc.ID,
		"document_type":  doc.Type,
		"kind":           kind,
		"status":         view.Flow.Status,
		"triggered_jobs": len(view.TriggeredJobs),
	})
	return view, nil
}

// RemoveSignature 管理员撤销签名
func (s *flowService) RemoveSignature(ctx context.Context, doc domain.DocumentRef, kind domain.FlowKind, signerID string, requestedBy domain.Identity) (coordinator.FlowView, error) {
	view, err := s.coord.RemoveSignature(ctx, doc, kind, signerID, requestedBy)
	if err != nil {
		return view, err
	}

	metrics.RecordRevocation(string(s.coord.Policy()))
	s.audit(ctx, requestedBy.ID, "revoke", view, map[string]interface{}{
		"document_id": doc.ID,
		"kind":        kind,
		"signer_id":   signerID,
		"policy":      s.coord.Policy(),
		"status":      view.Flow.Status,
	})
	return view, nil
}

func (s *flowService) Stages(ctx context.Context, documentID string) (coordinator.StageView, error) {
	return s.coord.Stages(ctx, documentID)
}

func (s *flowService) History(ctx context.Context, documentID string, kind domain.FlowKind) ([]coordinator.StatusChange, error) {
	return s.coord.History(ctx, documentID, kind)
}

func (s *flowService) Verify(ctx context.Context, documentID string, kind domain.FlowKind) ([]coordinator.SignatureCheck, error) {
	return s.coord.Verify(ctx, documentID, kind)
}

// audit 审计失败不影响已提交的签名
func (s *flowService) audit(ctx context.Context, userID, action string, view coordinator.FlowView, details map[string]interface{}) {
	if s.auditLogSvc == nil || view.Flow == nil {
		return
	}
	if err := s.auditLogSvc.RecordAction(ctx, userID, action, "flow", view.Flow.ID, details); err != nil {
		s.logger.WithError(err).WithField("action", action).Error("Failed to record audit log")
	}
}

func signResult(err error) string {
	switch domain.CodeOf(err) {
	case "":
		if err != nil {
			return "error"
		}
		return "ok"
	case domain.CodeNotAuthorized:
		return "not_authorized"
	case domain.CodeAlreadySigned:
		return "already_signed"
	case domain.CodeNotConfigured:
		return "not_configured"
	default:
		return "error"
	}
}
