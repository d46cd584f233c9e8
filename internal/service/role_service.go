package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/sirupsen/logrus"
)

// RelationWriter 同步角色成员到 OpenFGA
type RelationWriter interface {
	SetRelation(ctx context.Context, userID, relation, objectType, objectID string) error
	DeleteRelation(ctx context.Context, userID, relation, objectType, objectID string) error
}

// RoleMember 角色成员
type RoleMember struct {
	Role        string    `json:"role"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// AddRoleMemberRequest 添加角色成员请求
type AddRoleMemberRequest struct {
	IdentityID  string `json:"identity_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

// RoleService 角色目录维护
type RoleService interface {
	AddMember(ctx context.Context, role string, req *AddRoleMemberRequest, operator string) (RoleMember, error)
	RemoveMember(ctx context.Context, role, identityID, operator string) error
	Members(ctx context.Context, role string) ([]RoleMember, error)
	Roles(ctx context.Context, identityID string) ([]RoleMember, error)
}

type roleService struct {
	members     repository.RoleMemberRepository
	relations   RelationWriter
	fgaRoles    map[string]bool
	auditLogSvc AuditLogService
	logger      logrus.FieldLogger
}

// NewRoleService 创建角色服务
// relations 不为空时, fgaRoles 中的角色同时写入 OpenFGA 元组
func NewRoleService(members repository.RoleMemberRepository, relations RelationWriter, fgaRoles []string, auditLogSvc AuditLogService, logger logrus.FieldLogger) RoleService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	set := make(map[string]bool, len(fgaRoles))
	for _, r := range fgaRoles {
		set[r] = true
	}
	return &roleService{
		members:     members,
		relations:   relations,
		fgaRoles:    set,
		auditLogSvc: auditLogSvc,
		logger:      logger.WithField("component", "role_service"),
	}
}

func (s *roleService) mirrored(role string) bool {
	return s.relations != nil && s.fgaRoles[role]
}

// AddMember 添加成员,已存在时更新显示名
func (s *roleService) AddMember(ctx context.Context, role string, req *AddRoleMemberRequest, operator string) (RoleMember, error) {
	if role == "" || req.IdentityID == "" {
		return RoleMember{}, domain.NewError(domain.CodeInvalidArgument, "role and identity_id are required")
	}
	m := &model.RoleMemberModel{
		Role:        role,
		IdentityID:  req.IdentityID,
		DisplayName: req.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.members.Save(ctx, m); err != nil {
		return RoleMember{}, fmt.Errorf("save role member: %w", err)
	}

	if s.mirrored(role) {
		if err := s.relations.SetRelation(ctx, req.IdentityID, "member", "role", role); err != nil {
			return RoleMember{}, fmt.Errorf("mirror role member: %w", err)
		}
	}

	s.audit(ctx, operator, "add_member", role, req.IdentityID)
	return toRoleMember(m), nil
}

// RemoveMember 移除成员
func (s *roleService) RemoveMember(ctx context.Context, role, identityID, operator string) error {
	if err := s.members.Delete(ctx, role, identityID); err != nil {
		return fmt.Errorf("delete role member: %w", err)
	}
	if s.mirrored(role) {
		if err := s.relations.DeleteRelation(ctx, identityID, "member", "role", role); err != nil {
			return fmt.Errorf("mirror role member removal: %w", err)
		}
	}
	s.audit(ctx, operator, "remove_member", role, identityID)
	return nil
}

func (s *roleService) Members(ctx context.Context, role string) ([]RoleMember, error) {
	ms, err := s.members.FindByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	return toRoleMembers(ms), nil
}

func (s *roleService) Roles(ctx context.Context, identityID string) ([]RoleMember, error) {
	ms, err := s.members.FindByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return toRoleMembers(ms), nil
}

func (s *roleService) audit(ctx context.Context, operator, action, role, identityID string) {
	if s.auditLogSvc == nil {
		return
	}
	if err := s.auditLogSvc.RecordAction(ctx, operator, action, "role", role, map[string]interface{}{
		"identity_id": identityID,
	}); err != nil {
		s.logger.WithError(err).WithField("role", role).Error("Failed to record audit log")
	}
}

func toRoleMember(m *model.RoleMemberModel) RoleMember {
	return RoleMember{
		Role:        m.Role,
		IdentityID:  m.IdentityID,
		DisplayName: m.DisplayName,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func toRoleMembers(ms []*model.RoleMemberModel) []RoleMember {
	out := make([]RoleMember, 0, len(ms))
	for _, m := range ms {
		out = append(out, toRoleMember(m))
	}
	return out
}
