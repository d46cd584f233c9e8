package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentStageRepository 单据阶段序号仓储接口
type DocumentStageRepository interface {
	Ordinal(ctx context.Context, documentID string) (int, error)
	Advance(ctx context.Context, documentID, documentType string, ordinal int) (int, bool, error)
	Reset(ctx context.Context, documentID string, to, from int) (bool, error)
}

// documentStageRepository 单据阶段序号仓储实现
type documentStageRepository struct {
	db *gorm.DB
}

// NewDocumentStageRepository 创建单据阶段仓储
func NewDocumentStageRepository(db *gorm.DB) DocumentStageRepository {
	return &documentStageRepository{db: db}
}

// Ordinal 读取阶段序号,无记录时为 0
func (r *documentStageRepository) Ordinal(ctx context.Context, documentID string) (int, error) {
	var stage model.DocumentStageModel
	err := conn(ctx, r.db).Where("document_id = ?", documentID).First(&stage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stage.StageOrdinal, nil
}

// Advance 单调推进阶段序号,返回推进后的序号以及是否发生变化
func (r *documentStageRepository) Advance(ctx context.Context, documentID, documentType string, ordinal int) (int, bool, error) {
	var current int
	var advanced bool
	err := RunInTx(ctx, r.db, func(ctx context.Context) error {
		db := conn(ctx, r.db)
		now := time.Now().UTC()

		// 1. 确保记录存在
		seed := &model.DocumentStageModel{
			DocumentID:   documentID,
			DocumentType: documentType,
			StageOrdinal: 0,
			UpdatedAt:    now,
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}

		// 2. 仅当新序号更大时更新
		res := db.Model(&model.DocumentStageModel{}).
			Where("document_id = ? AND stage_ordinal < ?", documentID, ordinal).
			Updates(map[string]interface{}{"stage_ordinal": ordinal, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		advanced = res.RowsAffected == 1

		// 3. 读取当前值
		var err error
		current, err = r.Ordinal(ctx, documentID)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return current, advanced, nil
}

// Reset 仅当当前序号等于 from 时降到 to
func (r *documentStageRepository) Reset(ctx context.Context, documentID string, to, from int) (bool, error) {
	res := conn(ctx, r.db).Model(&model.DocumentStageModel{}).
		Where("document_id = ? AND stage_ordinal = ?", documentID, from).
		Updates(map[string]interface{}{"stage_ordinal": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
