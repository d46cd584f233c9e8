package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// 事件投递状态
const (
	EventStatusPending   = "pending"
	EventStatusDelivered = "delivered"
	EventStatusFailed    = "failed"
)

// EventModel 流程/任务变更事件
type EventModel struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)"`
	Topic       string         `gorm:"type:varchar(64);not null;index"`  // flow.changed/job.changed/...
	DocumentID  string         `gorm:"type:varchar(64);index"`           // 订阅键: 单据 ID 或实体 ID
	AggregateID string         `gorm:"type:varchar(64);not null;index"`  // 流程 ID 或任务 ID
	Payload     datatypes.JSON `gorm:"not null"`
	Status      string         `gorm:"type:varchar(32);not null;default:'pending'"`
	RetryCount  int            `gorm:"type:int;default:0"`
	CreatedAt   time.Time      `gorm:"not null;index"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (EventModel) TableName() string {
	return "events"
}

// Validate 验证事件模型
func (em *EventModel) Validate() error {
	if em.ID == "" {
		return errors.New("event ID is required")
	}
	if em.Topic == "" {
		return errors.New("event topic is required")
	}
	if em.AggregateID == "" {
		return errors.New("aggregate ID is required")
	}
	if len(em.Payload) == 0 {
		return errors.New("event payload is required")
	}
	if em.Status == "" {
		em.Status = EventStatusPending
	}
	return nil
}
