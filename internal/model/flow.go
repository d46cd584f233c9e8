package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// FlowModel 审批流程数据模型
// Status 仅作为缓存,每次签名变更后重写,读取时始终重新计算
type FlowModel struct {
	ID               string         `gorm:"primaryKey;type:varchar(64)"`
	DocumentID       string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_flows_document_kind"`
	DocumentType     string         `gorm:"type:varchar(32);not null;index"`
	Kind             string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_flows_document_kind"`
	RequiredOfficers datatypes.JSON `gorm:"not null"` // []domain.OfficerSpec
	OptionalOfficers datatypes.JSON `gorm:"not null"` // []domain.OfficerSpec
	MinSignatures    int            `gorm:"type:int;not null;default:0"`
	Status           string         `gorm:"type:varchar(32);not null;default:'pending'"`
	AdvancedTo       int            `gorm:"type:int;not null;default:0"` // 完成时推进到的阶段序号
	AdvancedFrom     int            `gorm:"type:int;not null;default:0"` // 推进前的阶段序号
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (FlowModel) TableName() string {
	return "approval_flows"
}

// Validate 验证流程模型
func (fm *FlowModel) Validate() error {
	if fm.ID == "" {
		return errors.New("flow ID is required")
	}
	if fm.DocumentID == "" {
		return errors.New("document ID is required")
	}
	if fm.Kind == "" {
		return errors.New("flow kind is required")
	}
	if fm.MinSignatures < 0 {
		return errors.New("min signatures must not be negative")
	}
	return nil
}
