package stage

import (
	"context"
	"fmt"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// Store 单据阶段序号存储
type Store interface {
	Ordinal(ctx context.Context, documentID string) (int, error)
	Advance(ctx context.Context, documentID, documentType string, ordinal int) (int, bool, error)
	Reset(ctx context.Context, documentID string, to, from int) (bool, error)
}

// Gate 阶段门控,序号只增不减,Reset 仅供撤销回滚策略使用
type Gate struct {
	store Store
	table Table
}

// NewGate 创建阶段门控
func NewGate(store Store, table Table) *Gate {
	return &Gate{store: store, table: table}
}

// Table 当前阈值表
func (g *Gate) Table() Table {
	return g.table
}

// Ordinal 读取序号
func (g *Gate) Ordinal(ctx context.Context, documentID string) (int, error) {
	ordinal, err := g.store.Ordinal(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("read stage ordinal: %w", err)
	}
	return ordinal, nil
}

// UnlockedStages 已解锁的业务阶段
func (g *Gate) UnlockedStages(ctx context.Context, documentID string) ([]domain.StageTag, error) {
	ordinal, err := g.Ordinal(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return g.table.Unlocked(ordinal), nil
}

// Advance 推进序号,新值不大于当前值时不变
func (g *Gate) Advance(ctx context.Context, doc domain.DocumentRef, ordinal int) (int, bool, error) {
	current, advanced, err := g.store.Advance(ctx, doc.ID, string(doc.Type), ordinal)
	if err != nil {
		return 0, false, fmt.Errorf("advance stage ordinal: %w", err)
	}
	return current, advanced, nil
}

// Reset 仅当当前序号等于 from 时降到 to
func (g *Gate) Reset(ctx context.Context, documentID string, to, from int) (bool, error) {
	if to >= from {
		return false, domain.NewError(domain.CodeInvalidArgument, "reset must lower the ordinal")
	}
	ok, err := g.store.Reset(ctx, documentID, to, from)
	if err != nil {
		return false, fmt.Errorf("reset stage ordinal: %w", err)
	}
	return ok, nil
}
