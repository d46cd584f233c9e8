package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 签名操作数
	signaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signatures_total",
			Help: "Total number of sign attempts by kind and result",
		},
		[]string{"kind", "result"}, // ok, not_authorized, already_signed, error
	)

	// 撤销签名数
	revocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_revocations_total",
			Help: "Total number of signatures removed by administrators",
		},
		[]string{"policy"},
	)

	// 流程完成数
	flowsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flows_completed_total",
			Help: "Total number of flows that reached completed",
		},
		[]string{"kind"},
	)

	// 生成任务状态变更数
	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_job_transitions_total",
			Help: "Total number of generation job status changes",
		},
		[]string{"status"},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 流程状态分布
	flowsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flows_by_status",
			Help: "Number of flows by cached status",
		},
		[]string{"status"},
	)

	// 任务状态分布
	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "generation_jobs_by_status",
			Help: "Number of generation jobs by status",
		},
		[]string{"status"},
	)
)

var (
	once sync.Once
)

func init() {
	// 注册指标
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(signaturesTotal)
	prometheus.MustRegister(revocationsTotal)
	prometheus.MustRegister(flowsCompletedTotal)
	prometheus.MustRegister(jobTransitionsTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(flowsByStatus)
	prometheus.MustRegister(jobsByStatus)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordSignature 记录签名结果
func RecordSignature(kind, result string) {
	signaturesTotal.WithLabelValues(kind, result).Inc()
}

// RecordRevocation 记录撤销
func RecordRevocation(policy string) {
	revocationsTotal.WithLabelValues(policy).Inc()
}

// RecordFlowCompleted 记录流程完成
func RecordFlowCompleted(kind string) {
	flowsCompletedTotal.WithLabelValues(kind).Inc()
}

// RecordJobTransition 记录任务状态变更
func RecordJobTransition(status string) {
	jobTransitionsTotal.WithLabelValues(status).Inc()
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

type statusCount struct {
	Status string
	Count  int64
}

// UpdateStatusDistribution 按状态统计流程和任务数量
func UpdateStatusDistribution(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	for _, target := range []struct {
		table string
		gauge *prometheus.GaugeVec
	}{
		{"approval_flows", flowsByStatus},
		{"generation_jobs", jobsByStatus},
	} {
		var rows []statusCount
		if err := db.Table(target.table).Select("status, count(*) AS count").Group("status").Scan(&rows).Error; err != nil {
			return fmt.Errorf("count %s by status: %w", target.table, err)
		}
		target.gauge.Reset()
		for _, r := range rows {
			target.gauge.WithLabelValues(r.Status).Set(float64(r.Count))
		}
	}
	return nil
}
