package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BusOptions 事件总线参数
type BusOptions struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	Backoff    time.Duration
}

func (o BusOptions) withDefaults() BusOptions {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	return o
}

type subscription struct {
	key     string
	handler Handler
}

// Bus 进程内事件总线
// 发布时先持久化,再同步通知本地订阅者,远端转发由 worker 异步完成
type Bus struct {
	repo       repository.EventRepository
	instanceID string
	opts       BusOptions
	logger     logrus.FieldLogger

	mu         sync.RWMutex
	subs       map[uint64]subscription
	nextID     uint64
	forwarders []Forwarder

	queue    chan queued
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type queued struct {
	evt     Event
	modelID string
}

// NewBus 创建事件总线,repo 为空时不持久化
func NewBus(repo repository.EventRepository, logger logrus.FieldLogger, opts BusOptions) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = opts.withDefaults()
	b := &Bus{
		repo:       repo,
		instanceID: uuid.NewString(),
		opts:       opts,
		logger:     logger.WithField("component", "event_bus"),
		subs:       make(map[uint64]subscription),
		queue:      make(chan queued, opts.QueueSize),
		stop:       make(chan struct{}),
	}

	// 启动 worker goroutines
	for i := 0; i < opts.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// InstanceID 当前实例标识
func (b *Bus) InstanceID() string {
	return b.instanceID
}

// AddForwarder 注册远端转发
func (b *Bus) AddForwarder(f Forwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarders = append(b.forwarders, f)
}

// Subscribe 订阅事件,key 为空时接收全部事件
func (b *Bus) Subscribe(key string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{key: key, handler: handler}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish 发布事件
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if evt.Origin == "" {
		evt.Origin = b.instanceID
	}

	// 1. 持久化事件
	modelID := ""
	if b.repo != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		m := &model.EventModel{
			ID:          evt.ID,
			Topic:       string(evt.Topic),
			DocumentID:  evt.DocumentID,
			AggregateID: evt.AggregateID,
			Payload:     payload,
			Status:      model.EventStatusPending,
			CreatedAt:   evt.OccurredAt,
			UpdatedAt:   evt.OccurredAt,
		}
		if err := b.repo.Save(ctx, m); err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}
		modelID = m.ID
	}

	// 2. 通知本地订阅者
	b.Deliver(evt)

	// 3. 异步转发
	select {
	case b.queue <- queued{evt: evt, modelID: modelID}:
	default:
		b.logger.WithFields(logrus.Fields{
			"topic":    evt.Topic,
			"event_id": evt.ID,
		}).Warn("Event queue full, forward skipped")
	}
	return nil
}

// Deliver 仅通知本地订阅者,用于远端中继
func (b *Bus) Deliver(evt Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.key == "" || s.key == evt.DocumentID {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case q := <-b.queue:
			b.forward(q)
		case <-b.stop:
			return
		}
	}
}

// forward 转发到全部远端,失败按指数退避重试
func (b *Bus) forward(q queued) {
	b.mu.RLock()
	forwarders := make([]Forwarder, len(b.forwarders))
	copy(forwarders, b.forwarders)
	b.mu.RUnlock()

	ctx := context.Background()
	backoff := b.opts.Backoff
	var lastErr error
	for i := 0; i < b.opts.MaxRetries; i++ {
		lastErr = nil
		for _, f := range forwarders {
			if err := f.Forward(ctx, q.evt); err != nil {
				lastErr = err
			}
		}
		if lastErr == nil {
			b.mark(ctx, q.modelID, true)
			return
		}
		b.logger.WithError(lastErr).WithField("event_id", q.evt.ID).Warn("Event forward failed")

		if i < b.opts.MaxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-b.stop:
				b.mark(ctx, q.modelID, false)
				return
			}
			backoff *= 2
		}
	}
	b.mark(ctx, q.modelID, false)
}

func (b *Bus) mark(ctx context.Context, modelID string, delivered bool) {
	if b.repo == nil || modelID == "" {
		return
	}
	var err error
	if delivered {
		err = b.repo.MarkDelivered(ctx, modelID)
	} else {
		err = b.repo.MarkFailed(ctx, modelID)
	}
	if err != nil {
		b.logger.WithError(err).WithField("event_id", modelID).Error("Failed to update event status")
	}
}

// Close 停止 worker
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	b.wg.Wait()
}
