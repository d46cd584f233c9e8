package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/sirupsen/logrus"
)

// Message 按单据路由的推送消息
type Message struct {
	DocumentID string
	Data       []byte
}

// Hub 管理所有 WebSocket 连接,按单据分组推送
type Hub struct {
	// 已注册的客户端
	clients map[*Client]bool

	// 推送到订阅某单据的客户端
	Broadcast chan Message

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	logger logrus.FieldLogger
	done   chan struct{}

	// 互斥锁，保护 clients map
	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger.WithField("component", "websocket_hub"),
		done:       make(chan struct{}),
	}
}

// Run 运行 Hub,ctx 取消时关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()

		case message := <-h.Broadcast:
			h.BroadcastToDocument(message.DocumentID, message.Data)
		}
	}
}

// BroadcastToDocument 向订阅某单据的客户端推送
// 发送缓冲已满的客户端视为掉线并移除
func (h *Hub) BroadcastToDocument(documentID string, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.DocumentID != documentID {
			continue
		}
		select {
		case client.Send <- message:
		default:
			close(client.Send)
			delete(h.clients, client)
		}
	}
}

// HandleEvent 事件总线订阅回调,不阻塞发布方
func (h *Hub) HandleEvent(evt event.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.WithError(err).Warn("failed to encode event")
		return
	}
	select {
	case h.Broadcast <- Message{DocumentID: evt.DocumentID, Data: data}:
	default:
		h.logger.WithField("document_id", evt.DocumentID).Warn("broadcast queue full, event dropped")
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return true
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
