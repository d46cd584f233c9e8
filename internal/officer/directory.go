package officer

import (
	"context"
	"fmt"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
)

// Directory 身份与角色目录,每次调用都读取最新数据
type Directory interface {
	ResolveRole(ctx context.Context, role string) ([]string, error)
	IsMember(ctx context.Context, role, identityID string) (bool, error)
	Lookup(ctx context.Context, identityID string) (domain.Identity, error)
}

// DBDirectory 基于 role_members 表的目录
type DBDirectory struct {
	repo      repository.RoleMemberRepository
	adminRole string
}

// NewDBDirectory 创建数据库目录,adminRole 的成员视为管理员
func NewDBDirectory(repo repository.RoleMemberRepository, adminRole string) *DBDirectory {
	return &DBDirectory{repo: repo, adminRole: adminRole}
}

// ResolveRole 列出角色成员
func (d *DBDirectory) ResolveRole(ctx context.Context, role string) ([]string, error) {
	members, err := d.repo.FindByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("resolve role %s: %w", role, err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.IdentityID)
	}
	return ids, nil
}

// IsMember 判断角色成员关系
func (d *DBDirectory) IsMember(ctx context.Context, role, identityID string) (bool, error) {
	return d.repo.IsMember(ctx, role, identityID)
}

// Lookup 从目录重建身份
func (d *DBDirectory) Lookup(ctx context.Context, identityID string) (domain.Identity, error) {
	memberships, err := d.repo.FindByIdentity(ctx, identityID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("lookup identity %s: %w", identityID, err)
	}
	identity := domain.Identity{ID: identityID, DisplayName: identityID}
	for _, m := range memberships {
		identity.Roles = append(identity.Roles, m.Role)
		if m.DisplayName != "" {
			identity.DisplayName = m.DisplayName
		}
		if d.adminRole != "" && m.Role == d.adminRole {
			identity.IsAdministrator = true
		}
	}
	return identity, nil
}
