package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorHandlerMiddleware 记录处理器挂到上下文的错误
// 响应已由 RespondError 写出,这里只负责日志
func ErrorHandlerMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"path":       c.FullPath(),
		})
		for _, err := range c.Errors {
			entry.WithError(err.Err).Error("request failed")
		}
		if !c.Writer.Written() {
			Error(c, 500, "internal server error", "")
		}
	}
}
