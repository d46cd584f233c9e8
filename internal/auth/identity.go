package auth

import (
	"net/http"
	"strings"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// 开发环境身份头
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderRoles    = "X-User-Roles"
)

// SetIdentity 将当前身份写入 gin 上下文
func SetIdentity(c *gin.Context, identity domain.Identity) {
	c.Set(identityKey, identity)
	c.Set("user_id", identity.ID)
}

// IdentityFrom 读取当前身份
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}

// NewIdentity 由令牌角色构造身份,adminRole 成员视为管理员
func NewIdentity(id, displayName string, roles []string, adminRole string) domain.Identity {
	identity := domain.Identity{ID: id, DisplayName: displayName, Roles: roles}
	if identity.DisplayName == "" {
		identity.DisplayName = id
	}
	if adminRole != "" {
		identity.IsAdministrator = identity.HasRole(adminRole)
	}
	return identity
}

// HeaderAuthMiddleware 开发环境身份: 信任请求头
func HeaderAuthMiddleware(adminRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "missing " + HeaderUserID + " header",
			})
			c.Abort()
			return
		}

		var roles []string
		for _, r := range strings.Split(c.GetHeader(HeaderRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		SetIdentity(c, NewIdentity(userID, c.GetHeader(HeaderUserName), roles, adminRole))
		c.Next()
	}
}

// RequireAdministrator 仅管理员可访问
func RequireAdministrator() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "unauthorized",
			})
			c.Abort()
			return
		}
		if !identity.IsAdministrator {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    403,
				"message": "forbidden",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
