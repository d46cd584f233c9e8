package repository

import (
	"context"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
)

// SignatureRepository 签名仓储接口
type SignatureRepository interface {
	Create(ctx context.Context, sig *model.SignatureModel) error
	FindByFlowID(ctx context.Context, flowID string) ([]*model.SignatureModel, error)
	FindByFlowAndSigner(ctx context.Context, flowID, signerID string) (*model.SignatureModel, error)
	Delete(ctx context.Context, flowID, signerID string) (*model.SignatureModel, error)
}

// signatureRepository 签名仓储实现
type signatureRepository struct {
	db *gorm.DB
}

// NewSignatureRepository 创建签名仓储
func NewSignatureRepository(db *gorm.DB) SignatureRepository {
	return &signatureRepository{db: db}
}

// Create 追加签名,(flow_id, signer_id) 冲突时返回 gorm.ErrDuplicatedKey
func (r *signatureRepository) Create(ctx context.Context, sig *model.SignatureModel) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	return conn(ctx, r.db).Create(sig).Error
}

// FindByFlowID 按签名时间顺序列出签名
func (r *signatureRepository) FindByFlowID(ctx context.Context, flowID string) ([]*model.SignatureModel, error) {
	var sigs []*model.SignatureModel
	err := conn(ctx, r.db).
		Where("flow_id = ?", flowID).
		Order("signed_at ASC").Order("id ASC").
		Find(&sigs).Error
	return sigs, err
}

// FindByFlowAndSigner 查找指定签署人的签名
func (r *signatureRepository) FindByFlowAndSigner(ctx context.Context, flowID, signerID string) (*model.SignatureModel, error) {
	var sig model.SignatureModel
	err := conn(ctx, r.db).Where("flow_id = ? AND signer_id = ?", flowID, signerID).First(&sig).Error
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// Delete 删除签名并返回被删除的记录,不存在时返回 gorm.ErrRecordNotFound
func (r *signatureRepository) Delete(ctx context.Context, flowID, signerID string) (*model.SignatureModel, error) {
	var removed *model.SignatureModel
	err := RunInTx(ctx, r.db, func(ctx context.Context) error {
		sig, err := r.FindByFlowAndSigner(ctx, flowID, signerID)
		if err != nil {
			return err
		}
		res := conn(ctx, r.db).Where("id = ?", sig.ID).Delete(&model.SignatureModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		removed = sig
		return nil
	})
	return removed, err
}
