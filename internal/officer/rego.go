package officer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/open-policy-agent/opa/rego"
)

// RegoPredicate 由 OPA 策略判定角色
//
// 输入文档:
//
//	{"role": "...", "identity": {"id": "...", "roles": [...], "is_administrator": false}}
//
// 查询结果必须是布尔值,未定义视为 false
type RegoPredicate struct {
	query rego.PreparedEvalQuery
}

// NewRegoPredicate 预编译策略,options 传入 rego.Module 或 rego.Load
func NewRegoPredicate(ctx context.Context, query string, options ...func(*rego.Rego)) (*RegoPredicate, error) {
	if query == "" {
		return nil, errors.New("rego query is required")
	}
	opts := append([]func(*rego.Rego){rego.Query(query)}, options...)
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego query %s: %w", query, err)
	}
	return &RegoPredicate{query: prepared}, nil
}

// NewRegoPredicateFromFile 从策略文件加载
func NewRegoPredicateFromFile(ctx context.Context, query, path string) (*RegoPredicate, error) {
	return NewRegoPredicate(ctx, query, rego.Load([]string{path}, nil))
}

// Matches 实现 Predicate
func (p *RegoPredicate) Matches(ctx context.Context, identity domain.Identity, role string) (bool, error) {
	roles := identity.Roles
	if roles == nil {
		roles = []string{}
	}
	input := map[string]interface{}{
		"role": role,
		"identity": map[string]interface{}{
			"id":               identity.ID,
			"roles":            roles,
			"is_administrator": identity.IsAdministrator,
		},
	}
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate rego policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("rego policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}
