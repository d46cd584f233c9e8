package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/dataflowslab/core.rompharm-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

// JobController 文档生成任务控制器
type JobController struct {
	jobService service.JobService
}

// NewJobController 创建生成任务控制器
func NewJobController(jobService service.JobService) *JobController {
	return &JobController{jobService: jobService}
}

// Enqueue 提交生成任务
func (c *JobController) Enqueue(ctx *gin.Context) {
	var req service.EnqueueJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		RespondError(ctx, domain.WrapError(domain.CodeInvalidArgument, "invalid request", err))
		return
	}
	if err := validateEnqueue(&req); err != nil {
		RespondError(ctx, err)
		return
	}
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}

	j, err := c.jobService.Enqueue(ctx.Request.Context(), &req, identity.ID)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, j)
}

func validateEnqueue(req *service.EnqueueJobRequest) error {
	if err := utils.ValidateID("entity_id", req.EntityID); err != nil {
		return err
	}
	if err := utils.ValidateID("template_code", req.TemplateCode); err != nil {
		return err
	}
	name, err := utils.ValidateName("template_name", req.TemplateName, 255)
	if err != nil {
		return err
	}
	req.TemplateName = name
	return nil
}

// List 实体下的任务,默认只返回每个模板的最新版本
func (c *JobController) List(ctx *gin.Context) {
	entityID := ctx.Query("entity_id")
	if entityID == "" {
		RespondError(ctx, domain.NewError(domain.CodeInvalidArgument, "entity_id is required"))
		return
	}
	all, _ := strconv.ParseBool(ctx.DefaultQuery("all", "false"))

	jobs, err := c.jobService.List(ctx.Request.Context(), entityID, all)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, jobs)
}

// Current 实体 + 模板的最新任务
func (c *JobController) Current(ctx *gin.Context) {
	j, err := c.jobService.Current(ctx.Request.Context(), ctx.Query("entity_id"), ctx.Query("template_code"))
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, j)
}

// Get 查询任务状态
func (c *JobController) Get(ctx *gin.Context) {
	j, err := c.jobService.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, j)
}

// Download 下载已完成任务的产物
func (c *JobController) Download(ctx *gin.Context) {
	j, content, err := c.jobService.Download(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		RespondError(ctx, err)
		return
	}
	defer content.Close()

	ctx.DataFromReader(http.StatusOK, -1, "application/octet-stream", content, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", j.Filename),
	})
}

// Delete 删除任务及其产物
func (c *JobController) Delete(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	if err := c.jobService.Delete(ctx.Request.Context(), ctx.Param("id"), identity); err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, gin.H{"deleted": true})
}

// Claim worker 领取任务
func (c *JobController) Claim(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	j, err := c.jobService.Claim(ctx.Request.Context(), ctx.Param("id"), identity)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, j)
}

// Complete worker 上传产物 (multipart 字段 file)
func (c *JobController) Complete(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	header, err := ctx.FormFile("file")
	if err != nil {
		RespondError(ctx, domain.WrapError(domain.CodeInvalidArgument, "file is required", err))
		return
	}
	file, err := header.Open()
	if err != nil {
		RespondError(ctx, err)
		return
	}
	defer file.Close()

	j, err := c.jobService.Complete(ctx.Request.Context(), ctx.Param("id"), identity, header.Filename, file)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, j)
}

// Fail worker 上报失败
func (c *JobController) Fail(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	var req service.FailJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondError(ctx, domain.WrapError(domain.CodeInvalidArgument, "invalid request", err))
		return
	}

	j, err := c.jobService.Fail(ctx.Request.Context(), ctx.Param("id"), identity, req.Message)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, j)
}
