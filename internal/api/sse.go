package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/gin-gonic/gin"
)

// EventSubscriber 按单据订阅事件
type EventSubscriber interface {
	Subscribe(key string, handler event.Handler) (unsubscribe func())
}

// SSEHandler 推送单据的流程和任务变更
// 身份由前置认证中间件写入
func SSEHandler(subscriber EventSubscriber, heartbeat time.Duration) gin.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return func(c *gin.Context) {
		// 1. 读取身份
		identity, ok := auth.IdentityFrom(c)
		if !ok {
			Error(c, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		// 2. 获取单据 ID
		documentID := c.Param("id")
		if documentID == "" {
			Error(c, http.StatusBadRequest, "document id required", "")
			return
		}

		// 3. 获取 Flusher
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			Error(c, http.StatusInternalServerError, "streaming not supported", "")
			return
		}

		// 4. 设置 SSE 响应头
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no") // 禁用 Nginx 缓冲

		// 5. 订阅单据事件,回调不能阻塞总线
		messages := make(chan []byte, 64)
		unsubscribe := subscriber.Subscribe(documentID, func(evt event.Event) {
			data, err := json.Marshal(evt)
			if err != nil {
				return
			}
			select {
			case messages <- data:
			default:
			}
		})
		defer unsubscribe()

		// 6. 发送初始连接消息
		initial, _ := json.Marshal(map[string]interface{}{
			"type":        "connected",
			"document_id": documentID,
			"user_id":     identity.ID,
			"time":        time.Now().Unix(),
		})
		if err := sendSSEMessage(c.Writer, initial); err != nil {
			return
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		// 7. 持续发送事件和心跳
		for {
			select {
			case <-c.Request.Context().Done():
				return
			case message := <-messages:
				if err := sendSSEMessage(c.Writer, message); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// sendSSEMessage 发送 SSE 消息
func sendSSEMessage(w io.Writer, data []byte) error {
	// SSE 格式: data: <json>\n\n
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
