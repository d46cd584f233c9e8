package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisForwarder 通过 Redis Pub/Sub 在多实例之间转发事件
type RedisForwarder struct {
	client  *redis.Client
	channel string
}

// NewRedisClient 创建 Redis 客户端
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), nil
}

// NewRedisForwarder 创建 Redis 转发器
func NewRedisForwarder(client *redis.Client, channel string) *RedisForwarder {
	return &RedisForwarder{client: client, channel: channel}
}

// Forward 发布事件到频道
func (f *RedisForwarder) Forward(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return f.client.Publish(ctx, f.channel, data).Err()
}

// Relay 订阅频道,把其他实例的事件投递给本地订阅者
// 阻塞直到 ctx 取消
func (f *RedisForwarder) Relay(ctx context.Context, bus *Bus, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	// 等待订阅确认
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", f.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.WithError(err).Warn("Dropping malformed relayed event")
				continue
			}
			if evt.Origin == bus.InstanceID() {
				continue
			}
			bus.Deliver(evt)
		}
	}
}
