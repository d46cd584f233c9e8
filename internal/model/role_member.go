package model

import (
	"errors"
	"time"
)

// RoleMemberModel 角色成员
type RoleMemberModel struct {
	Role        string    `gorm:"primaryKey;type:varchar(64)"`
	IdentityID  string    `gorm:"primaryKey;type:varchar(64);index"`
	DisplayName string    `gorm:"type:varchar(255)"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName 指定表名
func (RoleMemberModel) TableName() string {
	return "role_members"
}

// Validate 验证角色成员
func (rm *RoleMemberModel) Validate() error {
	if rm.Role == "" {
		return errors.New("role is required")
	}
	if rm.IdentityID == "" {
		return errors.New("identity ID is required")
	}
	return nil
}
