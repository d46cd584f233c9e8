package event

import (
	"context"
	"time"
)

// Topic 事件主题
type Topic string

const (
	TopicSignatureAppended Topic = "signature.appended"
	TopicSignatureRevoked  Topic = "signature.revoked"
	TopicFlowChanged       Topic = "flow.changed"
	TopicStageAdvanced     Topic = "stage.advanced"
	TopicJobChanged        Topic = "job.changed"
)

// Event 流程/任务变更通知
// DocumentID 为订阅键: 流程事件是单据 ID,任务事件是实体 ID
type Event struct {
	ID          string                 `json:"id"`
	Topic       Topic                  `json:"topic"`
	DocumentID  string                 `json:"document_id"`
	AggregateID string                 `json:"aggregate_id"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Origin      string                 `json:"origin,omitempty"` // 发布实例
}

// Publisher 事件发布者
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Forwarder 远端转发,如 Redis
type Forwarder interface {
	Forward(ctx context.Context, evt Event) error
}

// Handler 订阅回调,不得阻塞
type Handler func(evt Event)

// PublisherFunc 函数适配器
type PublisherFunc func(ctx context.Context, evt Event) error

// Publish 实现 Publisher
func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Nop 丢弃事件
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
