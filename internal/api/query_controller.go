package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/gin-gonic/gin"
)

// QueryController 查询统计控制器
type QueryController struct {
	queryService      service.QueryService
	statisticsService service.StatisticsService
	auditLogService   service.AuditLogService
}

// NewQueryController 创建查询控制器
func NewQueryController(queryService service.QueryService, statisticsService service.StatisticsService, auditLogService service.AuditLogService) *QueryController {
	return &QueryController{
		queryService:      queryService,
		statisticsService: statisticsService,
		auditLogService:   auditLogService,
	}
}

// ListFlows 分页列出流程
// 支持 status、kind、document_type、document_id、start_time、end_time 过滤
func (c *QueryController) ListFlows(ctx *gin.Context) {
	var filter service.ListFlowsFilter
	if err := ctx.ShouldBindQuery(&filter); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid query parameters", err.Error())
		return
	}

	// 时间参数使用 RFC3339
	var err error
	if filter.StartTime, err = parseTimeQuery(ctx, "start_time"); err != nil {
		RespondError(ctx, err)
		return
	}
	if filter.EndTime, err = parseTimeQuery(ctx, "end_time"); err != nil {
		RespondError(ctx, err)
		return
	}

	flows, total, err := c.queryService.ListFlows(ctx.Request.Context(), &filter)
	if err != nil {
		RespondError(ctx, err)
		return
	}

	totalPage := int((total + int64(filter.PageSize) - 1) / int64(filter.PageSize))
	Paginated(ctx, flows, PaginationInfo{
		Page:      filter.Page,
		PageSize:  filter.PageSize,
		Total:     total,
		TotalPage: totalPage,
	})
}

// Statistics 审批统计,days 指定签名统计天数,默认 30
func (c *QueryController) Statistics(ctx *gin.Context) {
	days := 30
	if v := ctx.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 366 {
			RespondError(ctx, domain.NewError(domain.CodeInvalidArgument, "days must be between 1 and 366"))
			return
		}
		days = n
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := c.statisticsService.Summary(ctx.Request.Context(), since)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// AuditLogs 资源的审计记录
func (c *QueryController) AuditLogs(ctx *gin.Context) {
	resourceType := ctx.Query("resource_type")
	resourceID := ctx.Query("resource_id")
	if resourceType == "" || resourceID == "" {
		RespondError(ctx, domain.NewError(domain.CodeInvalidArgument, "resource_type and resource_id are required"))
		return
	}

	logs, err := c.auditLogService.ListForResource(ctx.Request.Context(), resourceType, resourceID)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, logs)
}

func parseTimeQuery(ctx *gin.Context, key string) (*time.Time, error) {
	v := ctx.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, domain.NewError(domain.CodeInvalidArgument, key+" must be RFC3339")
	}
	return &t, nil
}
