package api

import (
	"net/http"

	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/dataflowslab/core.rompharm-sub001/internal/utils"
	"github.com/gin-gonic/gin"
)

// RoleController 角色目录控制器
type RoleController struct {
	roleService service.RoleService
}

// NewRoleController 创建角色控制器
func NewRoleController(roleService service.RoleService) *RoleController {
	return &RoleController{roleService: roleService}
}

// Members 角色成员列表
func (c *RoleController) Members(ctx *gin.Context) {
	role := ctx.Param("role")
	if err := utils.ValidateID("role", role); err != nil {
		RespondError(ctx, err)
		return
	}
	members, err := c.roleService.Members(ctx.Request.Context(), role)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, members)
}

// AddMember 添加角色成员
func (c *RoleController) AddMember(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	role := ctx.Param("role")
	if err := utils.ValidateID("role", role); err != nil {
		RespondError(ctx, err)
		return
	}

	var req service.AddRoleMemberRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := utils.ValidateID("identity_id", req.IdentityID); err != nil {
		RespondError(ctx, err)
		return
	}
	name, err := utils.ValidateName("display_name", req.DisplayName, 128)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	req.DisplayName = name

	member, err := c.roleService.AddMember(ctx.Request.Context(), role, &req, identity.ID)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, member)
}

// RemoveMember 移除角色成员
func (c *RoleController) RemoveMember(ctx *gin.Context) {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return
	}
	role := ctx.Param("role")
	identityID := ctx.Param("identity")
	if err := utils.ValidateID("role", role); err != nil {
		RespondError(ctx, err)
		return
	}
	if err := utils.ValidateID("identity_id", identityID); err != nil {
		RespondError(ctx, err)
		return
	}
	if err := c.roleService.RemoveMember(ctx.Request.Context(), role, identityID, identity.ID); err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, nil)
}

// IdentityRoles 身份所属角色
func (c *RoleController) IdentityRoles(ctx *gin.Context) {
	identityID := ctx.Param("identity")
	if err := utils.ValidateID("identity_id", identityID); err != nil {
		RespondError(ctx, err)
		return
	}
	roles, err := c.roleService.Roles(ctx.Request.Context(), identityID)
	if err != nil {
		RespondError(ctx, err)
		return
	}
	Success(ctx, roles)
}
