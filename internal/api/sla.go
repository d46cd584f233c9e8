package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SLAConfig 各类操作的最大响应时间
type SLAConfig struct {
	SignMaxTime       time.Duration // 签名和撤销签名
	FlowQueryMaxTime  time.Duration // 流程和阶段查询
	JobEnqueueMaxTime time.Duration
	JobQueryMaxTime   time.Duration
}

// DefaultSLAConfig 返回默认 SLA 配置
func DefaultSLAConfig() SLAConfig {
	return SLAConfig{
		SignMaxTime:       2 * time.Second,
		FlowQueryMaxTime:  500 * time.Millisecond,
		JobEnqueueMaxTime: 1 * time.Second,
		JobQueryMaxTime:   500 * time.Millisecond,
	}
}

// operation 由路由模板判断操作类型
func operation(method, route string) string {
	switch route {
	case "/api/v1/documents/:type/:id/flows/:kind/sign",
		"/api/v1/documents/:type/:id/flows/:kind/signatures/:signer":
		return "sign"
	case "/api/v1/jobs":
		if method == "POST" {
			return "job_enqueue"
		}
		return "job_query"
	case "/api/v1/jobs/current", "/api/v1/jobs/:id":
		if method == "GET" {
			return "job_query"
		}
	case "/api/v1/documents/:type/:id/flows/:kind",
		"/api/v1/documents/:type/:id/flows",
		"/api/v1/documents/:type/:id/stages":
		return "flow_query"
	}
	return ""
}

// Expected 操作的期望响应时间, 0 表示不检查
func (c SLAConfig) Expected(op string) time.Duration {
	switch op {
	case "sign":
		return c.SignMaxTime
	case "flow_query":
		return c.FlowQueryMaxTime
	case "job_enqueue":
		return c.JobEnqueueMaxTime
	case "job_query":
		return c.JobQueryMaxTime
	}
	return 0
}

// SLAMonitorMiddleware 超出期望响应时间时记录告警日志
func SLAMonitorMiddleware(cfg SLAConfig, logger logrus.FieldLogger) gin.HandlerFunc {
	if logger == nil {
		logger = GetLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		op := operation(c.Request.Method, c.FullPath())
		expected := cfg.Expected(op)
		duration := time.Since(start)
		if expected == 0 || duration <= expected {
			return
		}
		logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"operation":  op,
			"duration":   duration.String(),
			"expected":   expected.String(),
		}).Warn("SLA violation")
	}
}
