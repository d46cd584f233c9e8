package model

import (
	"errors"
	"time"
)

// SignatureModel 签名账本数据模型
// (flow_id, signer_id) 唯一,保证同一签署人只能签一次
type SignatureModel struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	FlowID            string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_signatures_flow_signer;index"`
	SignerID          string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_signatures_flow_signer"`
	SignerDisplayName string    `gorm:"type:varchar(255)"`
	SignedAt          time.Time `gorm:"not null;index"`
	Nonce             string    `gorm:"type:varchar(64);not null"` // 服务端随机数,不对外暴露
	SignatureHash     string    `gorm:"type:varchar(128);not null"`
}

// TableName 指定表名
func (SignatureModel) TableName() string {
	return "signatures"
}

// Validate 验证签名模型
func (sm *SignatureModel) Validate() error {
	if sm.FlowID == "" {
		return errors.New("flow ID is required")
	}
	if sm.SignerID == "" {
		return errors.New("signer ID is required")
	}
	if sm.SignatureHash == "" {
		return errors.New("signature hash is required")
	}
	return nil
}
