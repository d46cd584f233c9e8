package api

import (
	"net/http"

	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/dataflowslab/core.rompharm-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

// FlowController 审批流程控制器
type FlowController struct {
	flowService service.FlowService
}

// NewFlowController 创建审批流程控制器
func NewFlowController(flowService service.FlowService) *FlowController {
	return &FlowController{flowService: flowService}
}

// documentRef 解析路径中的单据类型和 ID
func documentRef(ctx *gin.Context) (domain.DocumentRef, error) {
	docType, err := domain.ParseDocumentType(ctx.Param("type"))
	if err != nil {
		return domain.DocumentRef{}, err
	}
	id := ctx.Param("id")
	if err := utils.ValidateID("document_id", id); err != nil {
		return domain.DocumentRef{}, err
	}
	return domain.DocumentRef{ID: id, Type: docType}, nil
}

// flowTarget 解析单据引用和流程类型
func flowTarget(ctx *gin.Context) (domain.DocumentRef, domain.FlowKind, bool) {
	doc, err := documentRef(ctx)
	if err != nil {
		RespondError(ctx, err)
		return doc, "", false
	}
	kind, err := domain.ParseFlowKind(ctx.Param("kind"))
	if err != nil {
		RespondError(ctx, err)
		return doc, "", false
	}
	return doc, kind, true
}

// currentIdentity 读取认证中间件写入的身份
func currentIdentity(ctx *gin.Context) (domain.Identity, bool) {
	identity, ok := auth.IdentityFrom(ctx)
	if !ok {
		Error(ctx, http.StatusUnauthorized, "unauthorized", "")
		return identity, false
	}
	return identity, true
}

// Get 获取流程,不存在时按配置创建
func (c *FlowController) Get(ctx *gin.Context) {
	doc, kind, ok := flowTarget(ctx)
	if !ok {
		return
	}
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}

	view, err := c.flowService.Get(ctx.Request.Context(), doc, kind, identity)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, view)
}

// List 单据下已创建的全部流程
func (c *FlowController) List(ctx *gin.Context) {
	doc, err := documentRef(ctx)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}

	views, err := c.flowService.List(ctx.Request.Context(), doc.ID, identity)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, views)
}

// Sign 当前用户签名
func (c *FlowController) Sign(ctx *gin.Context) {
	doc, kind, ok := flowTarget(ctx)
	if !ok {
		return
	}
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}

	view, err := c.flowService.Sign(ctx.Request.Context(), doc, kind, identity)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, view)
}

// RemoveSignature 管理员撤销签名
func (c *FlowController) RemoveSignature(ctx *gin.Context) {
	doc, kind, ok := flowTarget(ctx)
	if !ok {
		return
	}
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}

	signer := ctx.Param("signer")
	if err := utils.ValidateID("signer", signer); err != nil {
		RespondError(ctx, err)
		return
	}

	view, err := c.flowService.RemoveSignature(ctx.Request.Context(), doc, kind, signer, identity)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, view)
}

// Stages 单据当前阶段
func (c *FlowController) Stages(ctx *gin.Context) {
	doc, err := documentRef(ctx)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	view, err := c.flowService.Stages(ctx.Request.Context(), doc.ID)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, view)
}

// History 流程状态变更历史
func (c *FlowController) History(ctx *gin.Context) {
	doc, kind, ok := flowTarget(ctx)
	if !ok {
		return
	}
	changes, err := c.flowService.History(ctx.Request.Context(), doc.ID, kind)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, changes)
}

// Verify 校验签名哈希
func (c *FlowController) Verify(ctx *gin.Context) {
	doc, kind, ok := flowTarget(ctx)
	if !ok {
		return
	}
	checks, err := c.flowService.Verify(ctx.Request.Context(), doc.ID, kind)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, checks)
}
