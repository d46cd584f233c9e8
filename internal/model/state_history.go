package model

import (
	"errors"
	"time"
)

// FlowStatusHistoryModel 流程派生状态变更历史
type FlowStatusHistoryModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)"`
	FlowID     string    `gorm:"type:varchar(64);not null;index"`
	FromStatus string    `gorm:"type:varchar(32)"`
	ToStatus   string    `gorm:"type:varchar(32);not null"`
	Reason     string    `gorm:"type:text"` // sign/revoke
	Operator   string    `gorm:"type:varchar(64);not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (FlowStatusHistoryModel) TableName() string {
	return "flow_status_history"
}

// Validate 验证状态历史模型
func (h *FlowStatusHistoryModel) Validate() error {
	if h.ID == "" {
		return errors.New("history ID is required")
	}
	if h.FlowID == "" {
		return errors.New("flow ID is required")
	}
	if h.ToStatus == "" {
		return errors.New("to status is required")
	}
	if h.Operator == "" {
		return errors.New("operator is required")
	}
	return nil
}
