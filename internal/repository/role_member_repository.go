package repository

import (
	"context"
	"errors"

	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoleMemberRepository 角色成员仓储接口
type RoleMemberRepository interface {
	Save(ctx context.Context, member *model.RoleMemberModel) error
	Delete(ctx context.Context, role, identityID string) error
	FindByRole(ctx context.Context, role string) ([]*model.RoleMemberModel, error)
	FindByIdentity(ctx context.Context, identityID string) ([]*model.RoleMemberModel, error)
	IsMember(ctx context.Context, role, identityID string) (bool, error)
}

// roleMemberRepository 角色成员仓储实现
type roleMemberRepository struct {
	db *gorm.DB
}

// NewRoleMemberRepository 创建角色成员仓储
func NewRoleMemberRepository(db *gorm.DB) RoleMemberRepository {
	return &roleMemberRepository{db: db}
}

// Save 保存角色成员,已存在时更新显示名
func (r *roleMemberRepository) Save(ctx context.Context, member *model.RoleMemberModel) error {
	if err := member.Validate(); err != nil {
		return err
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role"}, {Name: "identity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name"}),
	}).Create(member).Error
}

// Delete 移除角色成员
func (r *roleMemberRepository) Delete(ctx context.Context, role, identityID string) error {
	return conn(ctx, r.db).
		Where("role = ? AND identity_id = ?", role, identityID).
		Delete(&model.RoleMemberModel{}).Error
}

// FindByRole 列出角色成员
func (r *roleMemberRepository) FindByRole(ctx context.Context, role string) ([]*model.RoleMemberModel, error) {
	var members []*model.RoleMemberModel
	err := conn(ctx, r.db).Where("role = ?", role).Order("identity_id ASC").Find(&members).Error
	return members, err
}

// FindByIdentity 列出身份所属的角色
func (r *roleMemberRepository) FindByIdentity(ctx context.Context, identityID string) ([]*model.RoleMemberModel, error) {
	var members []*model.RoleMemberModel
	err := conn(ctx, r.db).Where("identity_id = ?", identityID).Order("role ASC").Find(&members).Error
	return members, err
}

// IsMember 判断是否为角色成员
func (r *roleMemberRepository) IsMember(ctx context.Context, role, identityID string) (bool, error) {
	var member model.RoleMemberModel
	err := conn(ctx, r.db).Where("role = ? AND identity_id = ?", role, identityID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
