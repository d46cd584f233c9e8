package officer

import (
	"context"
	"sync"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// Predicate 角色判定
type Predicate interface {
	Matches(ctx context.Context, identity domain.Identity, role string) (bool, error)
}

// PredicateFunc 函数适配器
type PredicateFunc func(ctx context.Context, identity domain.Identity, role string) (bool, error)

// Matches 实现 Predicate
func (f PredicateFunc) Matches(ctx context.Context, identity domain.Identity, role string) (bool, error) {
	return f(ctx, identity, role)
}

// AdministratorPredicate 管理员角色
var AdministratorPredicate Predicate = PredicateFunc(func(_ context.Context, identity domain.Identity, _ string) (bool, error) {
	return identity.IsAdministrator, nil
})

// Registry 按角色名注册判定
type Registry struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewRegistry 创建判定注册表,未注册的角色只查目录
func NewRegistry() *Registry {
	return &Registry{predicates: make(map[string]Predicate)}
}

// Register 注册角色判定,覆盖已有注册
func (r *Registry) Register(role string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[role] = p
}

// Lookup 查找角色判定
func (r *Registry) Lookup(role string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[role]
	return p, ok
}
