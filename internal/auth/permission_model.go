package auth

// GetPermissionModel 获取 OpenFGA 权限模型定义
// 角色成员关系: user:<id> member role:<name>
func GetPermissionModel() string {
	return `model
  schema 1.1

type user

type role
  relations
    define member: [user]`
}
