package api

import (
	"net/http"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/config"
	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/dataflowslab/core.rompharm-sub001/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Config            *config.Config
	DB                *gorm.DB
	Logger            *logrus.Logger
	Auth              gin.HandlerFunc // 认证中间件, 写入当前身份
	FlowService       service.FlowService
	JobService        service.JobService
	RoleService       service.RoleService       // 可选
	QueryService      service.QueryService      // 可选
	StatisticsService service.StatisticsService // 可选
	AuditLogService   service.AuditLogService   // 可选
	Hub               *websocket.Hub            // 可选
	Events            EventSubscriber           // 可选, SSE 订阅源
	Health            map[string]HealthChecker
	Heartbeat         time.Duration // SSE 心跳间隔
}

// SetupRoutes 配置路由
func SetupRoutes(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = GetLogger()
	}

	router := gin.New()

	// 中间件
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware(logger))
	router.Use(ErrorHandlerMiddleware(logger))
	if cfg.Server.ForceHTTPS {
		router.Use(HTTPSRedirectMiddleware())
	}
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(cfg.CORS))
	router.Use(I18nMiddleware())
	if cfg.Tracing.Enabled {
		router.Use(TracingMiddleware(cfg.Tracing.ServiceName))
	}

	// 健康检查
	healthController := NewHealthController(deps.DB, deps.Health)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler())
	router.GET("/version", VersionHandler)

	authMiddleware := deps.Auth
	if authMiddleware == nil {
		authMiddleware = auth.HeaderAuthMiddleware(cfg.Auth.AdminRole)
	}
	authed := router.Group("", authMiddleware)

	// 实时推送
	if deps.Hub != nil {
		authed.GET("/ws/documents/:id", websocket.WebSocketHandler(deps.Hub, websocket.NewUpgrader(cfg.CORS.AllowedOrigins)))
	}
	if deps.Events != nil {
		authed.GET("/sse/documents/:id", SSEHandler(deps.Events, deps.Heartbeat))
	}

	// API v1 路由组
	v1 := authed.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	v1.Use(SLAMonitorMiddleware(DefaultSLAConfig(), logger))
	{
		flowController := NewFlowController(deps.FlowService)
		documents := v1.Group("/documents/:type/:id")
		{
			documents.GET("/flows", flowController.List)
			documents.GET("/flows/:kind", flowController.Get)
			documents.POST("/flows/:kind/sign", flowController.Sign)
			documents.DELETE("/flows/:kind/signatures/:signer", flowController.RemoveSignature)
			documents.GET("/flows/:kind/history", flowController.History)
			documents.GET("/flows/:kind/verify", flowController.Verify)
			documents.GET("/stages", flowController.Stages)
		}

		jobController := NewJobController(deps.JobService)
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobController.Enqueue)
			jobs.GET("", jobController.List)
			jobs.GET("/current", jobController.Current)
			jobs.GET("/:id", jobController.Get)
			jobs.GET("/:id/download", jobController.Download)
			jobs.DELETE("/:id", jobController.Delete)

			// worker 接口
			jobs.POST("/:id/claim", jobController.Claim)
			jobs.POST("/:id/complete", jobController.Complete)
			jobs.POST("/:id/fail", jobController.Fail)
		}

		if deps.QueryService != nil && deps.StatisticsService != nil && deps.AuditLogService != nil {
			queryController := NewQueryController(deps.QueryService, deps.StatisticsService, deps.AuditLogService)
			v1.GET("/flows", queryController.ListFlows)
			v1.GET("/statistics", queryController.Statistics)
			v1.GET("/audit", auth.RequireAdministrator(), queryController.AuditLogs)
		}

		// 角色目录维护仅管理员
		if deps.RoleService != nil {
			roleController := NewRoleController(deps.RoleService)
			v1.GET("/identities/:identity/roles", roleController.IdentityRoles)
			roles := v1.Group("/roles/:role", auth.RequireAdministrator())
			{
				roles.GET("/members", roleController.Members)
				roles.POST("/members", roleController.AddMember)
				roles.DELETE("/members/:identity", roleController.RemoveMember)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", c.Request.URL.Path)
	})

	return router
}
