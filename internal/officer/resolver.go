package officer

import (
	"context"
	"fmt"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// SignatureLister 读取流程签名
type SignatureLister interface {
	List(ctx context.Context, flowID string) ([]domain.Signature, error)
}

// Resolver 签署人解析
// 角色成员关系从不缓存,每次都查询判定或目录
type Resolver struct {
	directory  Directory
	predicates *Registry
	signatures SignatureLister
}

// NewResolver 创建签署人解析器
func NewResolver(directory Directory, predicates *Registry, signatures SignatureLister) *Resolver {
	if predicates == nil {
		predicates = NewRegistry()
	}
	return &Resolver{
		directory:  directory,
		predicates: predicates,
		signatures: signatures,
	}
}

// Resolve 解析规格对应的身份 ID
func (r *Resolver) Resolve(ctx context.Context, spec domain.OfficerSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Kind == domain.OfficerKindPerson {
		return []string{spec.Reference}, nil
	}
	return r.directory.ResolveRole(ctx, spec.Reference)
}

// Matches 判断身份是否满足规格
func (r *Resolver) Matches(ctx context.Context, identity domain.Identity, spec domain.OfficerSpec) (bool, error) {
	switch spec.Kind {
	case domain.OfficerKindPerson:
		return identity.ID == spec.Reference, nil
	case domain.OfficerKindRole:
		if p, ok := r.predicates.Lookup(spec.Reference); ok {
			matched, err := p.Matches(ctx, identity, spec.Reference)
			if err != nil {
				return false, fmt.Errorf("role predicate %s: %w", spec.Reference, err)
			}
			if matched {
				return true, nil
			}
		}
		return r.directory.IsMember(ctx, spec.Reference, identity.ID)
	}
	return false, spec.Validate()
}

// Eligible 身份是否匹配流程的任一必签或可选规格
func (r *Resolver) Eligible(ctx context.Context, identity domain.Identity, flow *domain.ApprovalFlow) (bool, error) {
	for _, specs := range [][]domain.OfficerSpec{flow.RequiredOfficers, flow.OptionalOfficers} {
		for _, spec := range specs {
			ok, err := r.Matches(ctx, identity, spec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// CanSign 身份匹配任一规格且尚未签名
// 与状态计算一样按目录重建身份,令牌中的角色和管理员标记不参与判定
func (r *Resolver) CanSign(ctx context.Context, identity domain.Identity, flow *domain.ApprovalFlow) (bool, error) {
	if identity.ID == "" {
		return false, nil
	}
	sigs, err := r.signatures.List(ctx, flow.ID)
	if err != nil {
		return false, err
	}
	for _, s := range sigs {
		if s.SignerID == identity.ID {
			return false, nil
		}
	}
	signer, err := r.directory.Lookup(ctx, identity.ID)
	if err != nil {
		return false, err
	}
	return r.Eligible(ctx, signer, flow)
}

// Attribution 签名与规格的匹配表
type Attribution map[string]map[domain.OfficerSpec]bool

// Attribute 用目录中的最新身份计算每个签名匹配哪些规格
func (r *Resolver) Attribute(ctx context.Context, signatures []domain.Signature, specs ...[]domain.OfficerSpec) (Attribution, error) {
	table := make(Attribution, len(signatures))
	for _, sig := range signatures {
		if _, done := table[sig.SignerID]; done {
			continue
		}
		identity, err := r.directory.Lookup(ctx, sig.SignerID)
		if err != nil {
			return nil, err
		}
		row := make(map[domain.OfficerSpec]bool)
		for _, group := range specs {
			for _, spec := range group {
				if _, seen := row[spec]; seen {
					continue
				}
				ok, err := r.Matches(ctx, identity, spec)
				if err != nil {
					return nil, err
				}
				row[spec] = ok
			}
		}
		table[sig.SignerID] = row
	}
	return table, nil
}

// Match 用于状态计算的纯函数匹配器
func (a Attribution) Match(sig domain.Signature, spec domain.OfficerSpec) bool {
	return a[sig.SignerID][spec]
}
