package officer

import (
	"context"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// RelationChecker OpenFGA 关系检查
type RelationChecker interface {
	CheckPermission(ctx context.Context, userID, relation, objectType, objectID string) (bool, error)
}

// OpenFGAPredicate 通过 user:<id> member role:<name> 关系判定
type OpenFGAPredicate struct {
	checker RelationChecker
}

// NewOpenFGAPredicate 创建 OpenFGA 判定
func NewOpenFGAPredicate(checker RelationChecker) *OpenFGAPredicate {
	return &OpenFGAPredicate{checker: checker}
}

// Matches 实现 Predicate
func (p *OpenFGAPredicate) Matches(ctx context.Context, identity domain.Identity, role string) (bool, error) {
	return p.checker.CheckPermission(ctx, identity.ID, "member", "role", role)
}
