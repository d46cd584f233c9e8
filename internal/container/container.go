package container

import (
	"context"
	"fmt"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/api"
	"github.com/dataflowslab/core.rompharm-sub001/internal/approval"
	"github.com/dataflowslab/core.rompharm-sub001/internal/artifact"
	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/config"
	"github.com/dataflowslab/core.rompharm-sub001/internal/coordinator"
	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/job"
	"github.com/dataflowslab/core.rompharm-sub001/internal/ledger"
	"github.com/dataflowslab/core.rompharm-sub001/internal/metrics"
	"github.com/dataflowslab/core.rompharm-sub001/internal/officer"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/dataflowslab/core.rompharm-sub001/internal/stage"
	"github.com/dataflowslab/core.rompharm-sub001/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Option 容器选项
type Option func(*options)

type options struct {
	db         *gorm.DB
	configPath string
	fga        *auth.OpenFGAClient
}

// WithDB 使用已打开的数据库,不再连接和迁移
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithConfigPath 配置文件路径,设置后启动时监听流程配置变更
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// Container 依赖注入容器
// 管理数据库、事件总线、核心组件和服务
type Container struct {
	cfg    *config.Config
	logger *logrus.Logger
	opts   options
	ownsDB bool

	db        *gorm.DB
	bus       *event.Bus
	redis     *redis.Client
	forwarder *event.RedisForwarder
	fgaClient *auth.OpenFGAClient
	validator *auth.KeycloakTokenValidator
	hub       *websocket.Hub
	collector *metrics.Collector
	watcher   *config.ConfigWatcher

	flowRegistry *approval.Registry
	coordinator  *coordinator.Coordinator
	orchestrator *job.Orchestrator

	auditLogService   service.AuditLogService
	flowService       service.FlowService
	jobService        service.JobService
	roleService       service.RoleService
	queryService      service.QueryService
	statisticsService service.StatisticsService

	cancel context.CancelFunc
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件
func NewContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Container{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(&c.opts)
	}

	// 1. 数据库（带重试机制）
	c.db = c.opts.db
	if c.db == nil {
		db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			database.Close(db)
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		c.db = db
		c.ownsDB = true
	}

	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg := c.cfg
	logger := c.logger

	// 2. 仓储
	flows := repository.NewFlowRepository(c.db)
	signatures := repository.NewSignatureRepository(c.db)
	members := repository.NewRoleMemberRepository(c.db)

	// 3. 事件总线,配置 Redis 时跨实例转发
	c.bus = event.NewBus(repository.NewEventRepository(c.db), logger, event.BusOptions{})
	if cfg.Redis.Addr != "" {
		client, err := event.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		c.redis = client
		c.forwarder = event.NewRedisForwarder(client, cfg.Redis.Channel)
		c.bus.AddForwarder(c.forwarder)
	}

	// 4. OpenFGA（带重试机制）
	c.fgaClient = c.opts.fga
	if c.fgaClient == nil && cfg.OpenFGA.APIURL != "" {
		client, err := auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenFGA client: %w", err)
		}
		c.fgaClient = client
	}

	if cfg.Auth.Mode == "keycloak" {
		c.validator = auth.NewKeycloakTokenValidator(cfg.Auth.Issuer)
	}

	// 5. 签名账本和签署人解析
	l := ledger.New(c.db, signatures, cfg.Ledger.Secret,
		ledger.WithPublisher(c.bus),
		ledger.WithLogger(logger),
	)
	predicates, err := c.buildPredicates(ctx)
	if err != nil {
		return err
	}
	resolver := officer.NewResolver(officer.NewDBDirectory(members, cfg.Auth.AdminRole), predicates, l)

	// 6. 流程配置和阶段表
	c.flowRegistry, err = approval.NewRegistry(approval.FromConfig(cfg.Flows))
	if err != nil {
		return fmt.Errorf("invalid flow configuration: %w", err)
	}
	table, err := stage.TableFromConfig(cfg.Approval)
	if err != nil {
		return fmt.Errorf("invalid stage table: %w", err)
	}

	// 7. 文档生成任务
	store, err := artifact.NewFSStore(cfg.Artifacts.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	c.orchestrator = job.NewOrchestrator(repository.NewJobRepository(c.db), store,
		job.WithPublisher(c.bus),
		job.WithLogger(logger),
	)

	// 8. 流程协调
	c.coordinator = coordinator.New(
		flows,
		repository.NewFlowStatusHistoryRepository(c.db),
		l,
		resolver,
		c.flowRegistry,
		stage.NewGate(repository.NewDocumentStageRepository(c.db), table),
		coordinator.WithJobs(c.orchestrator),
		coordinator.WithPublisher(c.bus),
		coordinator.WithRevocationPolicy(coordinator.RevocationPolicy(cfg.Approval.RevocationPolicy)),
		coordinator.WithLogger(logger),
	)

	// 9. 服务
	c.auditLogService = service.NewAuditLogService(repository.NewAuditLogRepository(c.db))
	c.flowService = service.NewFlowService(c.coordinator, c.auditLogService, logger)
	c.jobService = service.NewJobService(c.orchestrator, resolver, cfg.Artifacts.WorkerRole, c.auditLogService, logger)
	var relations service.RelationWriter
	if c.fgaClient != nil {
		relations = c.fgaClient
	}
	c.roleService = service.NewRoleService(members, relations, cfg.OpenFGA.Roles, c.auditLogService, logger)
	c.queryService = service.NewQueryService(c.db)
	c.statisticsService = service.NewStatisticsService(c.db)

	// 10. 实时推送
	c.hub = websocket.NewHub(logger)
	c.collector = metrics.NewCollector(c.db, 30*time.Second)
	return nil
}

// buildPredicates 角色判定: 管理员、OpenFGA 角色、Rego 策略,其余角色查目录
func (c *Container) buildPredicates(ctx context.Context) (*officer.Registry, error) {
	predicates := officer.NewRegistry()
	if c.cfg.Auth.AdminRole != "" {
		predicates.Register(c.cfg.Auth.AdminRole, officer.AdministratorPredicate)
	}
	if c.fgaClient != nil {
		fga := officer.NewOpenFGAPredicate(c.fgaClient)
		for _, role := range c.cfg.OpenFGA.Roles {
			predicates.Register(role, fga)
		}
	}
	for _, p := range c.cfg.Approval.Policies {
		rp, err := officer.NewRegoPredicateFromFile(ctx, p.Query, p.Module)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy for role %s: %w", p.Role, err)
		}
		predicates.Register(p.Role, rp)
	}
	return predicates, nil
}

// Start 启动后台组件: websocket hub、Redis 中继、指标收集、配置监听
func (c *Container) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.hub.Run(ctx)
	c.bus.Subscribe("", c.hub.HandleEvent)

	if c.forwarder != nil {
		go func() {
			if err := c.forwarder.Relay(ctx, c.bus, c.logger); err != nil {
				c.logger.WithError(err).Error("Redis relay stopped")
			}
		}()
	}

	c.collector.Start()

	if c.opts.configPath != "" {
		c.watcher = config.NewConfigWatcher(c.cfg, c.opts.configPath, c.logger)
		c.watcher.OnConfigChange(c.reloadFlows)
		if err := c.watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
	}
	return nil
}

// reloadFlows 热更新流程配置,已创建的流程保留原签署人快照
func (c *Container) reloadFlows(cfg *config.Config) {
	if err := c.flowRegistry.Replace(approval.FromConfig(cfg.Flows)); err != nil {
		c.logger.WithError(err).Warn("Ignoring invalid flow configuration")
		return
	}
	c.logger.WithField("flows", c.flowRegistry.Len()).Info("Flow configuration reloaded")
}

// AuthMiddleware 按配置选择认证方式
func (c *Container) AuthMiddleware() gin.HandlerFunc {
	if c.validator != nil {
		return auth.KeycloakAuthMiddleware(c.validator, c.cfg.Auth.AdminRole)
	}
	return auth.HeaderAuthMiddleware(c.cfg.Auth.AdminRole)
}

// HealthCheckers 可选依赖的健康检查
func (c *Container) HealthCheckers() map[string]api.HealthChecker {
	checks := make(map[string]api.HealthChecker)
	if c.fgaClient != nil {
		checks["openfga"] = c.fgaClient
	}
	if c.redis != nil {
		checks["redis"] = api.HealthCheckerFunc(func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		})
	}
	return checks
}

// Router 构建 HTTP 路由
func (c *Container) Router() *gin.Engine {
	return api.SetupRoutes(api.RouterDeps{
		Config:            c.cfg,
		DB:                c.db,
		Logger:            c.logger,
		Auth:              c.AuthMiddleware(),
		FlowService:       c.flowService,
		JobService:        c.jobService,
		RoleService:       c.roleService,
		QueryService:      c.queryService,
		StatisticsService: c.statisticsService,
		AuditLogService:   c.auditLogService,
		Hub:               c.hub,
		Events:            c.bus,
		Health:            c.HealthCheckers(),
		Heartbeat:         15 * time.Second,
	})
}

// Config 当前配置
func (c *Container) Config() *config.Config { return c.cfg }

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB { return c.db }

// Bus 事件总线
func (c *Container) Bus() *event.Bus { return c.bus }

// Hub websocket hub
func (c *Container) Hub() *websocket.Hub { return c.hub }

// FlowRegistry 流程配置注册表
func (c *Container) FlowRegistry() *approval.Registry { return c.flowRegistry }

// Coordinator 流程协调器
func (c *Container) Coordinator() *coordinator.Coordinator { return c.coordinator }

// Orchestrator 生成任务编排
func (c *Container) Orchestrator() *job.Orchestrator { return c.orchestrator }

// AuditLogService 审计日志服务
func (c *Container) AuditLogService() service.AuditLogService { return c.auditLogService }

// FlowService 审批流程服务
func (c *Container) FlowService() service.FlowService { return c.flowService }

// JobService 生成任务服务
func (c *Container) JobService() service.JobService { return c.jobService }

// RoleService 角色目录服务
func (c *Container) RoleService() service.RoleService { return c.roleService }

// QueryService 流程查询服务
func (c *Container) QueryService() service.QueryService { return c.queryService }

// StatisticsService 统计服务
func (c *Container) StatisticsService() service.StatisticsService { return c.statisticsService }

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.watcher != nil {
		c.watcher.Stop()
	}
	if c.collector != nil {
		c.collector.Stop()
	}
	if c.bus != nil {
		c.bus.Close()
	}
	if c.redis != nil {
		c.redis.Close()
	}
	if c.ownsDB {
		return database.Close(c.db)
	}
	return nil
}
