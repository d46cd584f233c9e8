package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
)

// ErrVersionContention 版本号分配多次冲突
var ErrVersionContention = errors.New("job version contention")

// maxVersionAttempts 版本号 CAS 最大尝试次数
const maxVersionAttempts = 16

// JobRepository 生成任务仓储接口
type JobRepository interface {
	NextVersion(ctx context.Context, entityID, templateCode string) (int, error)
	Create(ctx context.Context, job *model.GenerationJobModel) error
	FindByID(ctx context.Context, id string) (*model.GenerationJobModel, error)
	FindCurrent(ctx context.Context, entityID, templateCode string) (*model.GenerationJobModel, error)
	FindByEntity(ctx context.Context, entityID string) ([]*model.GenerationJobModel, error)
	CompareAndSetStatus(ctx context.Context, id string, from []string, to string, fields map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// jobRepository 生成任务仓储实现
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建生成任务仓储
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// NextVersion 原子分配 (entity, template) 的下一个版本号
// 序列行只增不减,删除任务不会回收版本号
func (r *jobRepository) NextVersion(ctx context.Context, entityID, templateCode string) (int, error) {
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		db := conn(ctx, r.db)
		now := time.Now().UTC()

		var seq model.JobSequenceModel
		err := db.Where("entity_id = ? AND template_code = ?", entityID, templateCode).First(&seq).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			seq = model.JobSequenceModel{
				EntityID:     entityID,
				TemplateCode: templateCode,
				LastVersion:  1,
				UpdatedAt:    now,
			}
			err = db.Create(&seq).Error
			if err == nil {
				return 1, nil
			}
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return 0, err
		}
		if err != nil {
			return 0, err
		}

		next := seq.LastVersion + 1
		res := db.Model(&model.JobSequenceModel{}).
			Where("entity_id = ? AND template_code = ? AND last_version = ?", entityID, templateCode, seq.LastVersion).
			Updates(map[string]interface{}{"last_version": next, "updated_at": now})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return 0, ErrVersionContention
}

// Create 创建任务
func (r *jobRepository) Create(ctx context.Context, job *model.GenerationJobModel) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return conn(ctx, r.db).Create(job).Error
}

// FindByID 根据 ID 查找任务
func (r *jobRepository) FindByID(ctx context.Context, id string) (*model.GenerationJobModel, error) {
	var job model.GenerationJobModel
	if err := conn(ctx, r.db).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindCurrent 查找 (entity, template) 的最高版本任务
func (r *jobRepository) FindCurrent(ctx context.Context, entityID, templateCode string) (*model.GenerationJobModel, error) {
	var job model.GenerationJobModel
	err := conn(ctx, r.db).
		Where("entity_id = ? AND template_code = ?", entityID, templateCode).
		Order("version DESC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByEntity 列出实体的全部任务,按模板和版本倒序
func (r *jobRepository) FindByEntity(ctx context.Context, entityID string) ([]*model.GenerationJobModel, error) {
	var jobs []*model.GenerationJobModel
	err := conn(ctx, r.db).
		Where("entity_id = ?", entityID).
		Order("template_code ASC").Order("version DESC").
		Find(&jobs).Error
	return jobs, err
}

// CompareAndSetStatus 仅当当前状态属于 from 时更新为 to
func (r *jobRepository) CompareAndSetStatus(ctx context.Context, id string, from []string, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{}
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()

	res := conn(ctx, r.db).Model(&model.GenerationJobModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Delete 删除任务,序列行保持不变
func (r *jobRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := conn(ctx, r.db).Where("id = ?", id).Delete(&model.GenerationJobModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
