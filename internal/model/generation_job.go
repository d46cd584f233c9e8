package model

import (
	"errors"
	"time"
)

// GenerationJobModel 文档生成任务数据模型
type GenerationJobModel struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)"`
	EntityID     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_jobs_entity_template_version"`
	TemplateCode string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_jobs_entity_template_version"`
	TemplateName string    `gorm:"type:varchar(255)"`
	Version      int       `gorm:"type:int;not null;uniqueIndex:idx_jobs_entity_template_version"`
	Status       string    `gorm:"type:varchar(32);not null;index"` // queued/processing/done/failed
	Filename     string    `gorm:"type:varchar(255)"`
	ArtifactKey  string    `gorm:"type:varchar(255)"` // 产物存储键
	Error        string    `gorm:"type:text"`
	CreatedBy    string    `gorm:"type:varchar(64);index"`
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName 指定表名
func (GenerationJobModel) TableName() string {
	return "generation_jobs"
}

// Validate 验证生成任务模型
func (jm *GenerationJobModel) Validate() error {
	if jm.ID == "" {
		return errors.New("job ID is required")
	}
	if jm.EntityID == "" {
		return errors.New("entity ID is required")
	}
	if jm.TemplateCode == "" {
		return errors.New("template code is required")
	}
	if jm.Version <= 0 {
		return errors.New("version must be positive")
	}
	return nil
}

// JobSequenceModel 版本序列,按 (entity, template) 单调递增
// 删除任务不会回收版本号
type JobSequenceModel struct {
	EntityID     string    `gorm:"primaryKey;type:varchar(64)"`
	TemplateCode string    `gorm:"primaryKey;type:varchar(64)"`
	LastVersion  int       `gorm:"type:int;not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName 指定表名
func (JobSequenceModel) TableName() string {
	return "generation_job_sequences"
}
