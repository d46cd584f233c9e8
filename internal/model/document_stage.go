package model

import "time"

// DocumentStageModel 单据阶段序号
type DocumentStageModel struct {
	DocumentID   string    `gorm:"primaryKey;type:varchar(64)"`
	DocumentType string    `gorm:"type:varchar(32);not null"`
	StageOrdinal int       `gorm:"type:int;not null;default:0"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName 指定表名
func (DocumentStageModel) TableName() string {
	return "document_stages"
}
