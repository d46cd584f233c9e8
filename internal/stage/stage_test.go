package stage_test

import (
	"context"
	"testing"

	"github.com/dataflowslab/core.rompharm-sub001/internal/config"
	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/dataflowslab/core.rompharm-sub001/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGate(t *testing.T) *stage.Gate {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return stage.NewGate(repository.NewDocumentStageRepository(db), stage.DefaultTable())
}

func TestTable_Unlocked(t *testing.T) {
	table := stage.DefaultTable()

	assert.Equal(t, []domain.StageTag{domain.StageItems}, table.Unlocked(0))
	assert.Equal(t, []domain.StageTag{domain.StageItems}, table.Unlocked(99))
	assert.Equal(t, []domain.StageTag{domain.StageItems, domain.StageOperations}, table.Unlocked(100))
	assert.Equal(t, []domain.StageTag{domain.StageItems, domain.StageOperations, domain.StageReception}, table.Unlocked(250))
	assert.Equal(t, []domain.StageTag{
		domain.StageItems, domain.StageOperations, domain.StageReception, domain.StageProduction,
	}, table.Unlocked(450))
	assert.Empty(t, table.Unlocked(-1))

	target, ok := table.Target(domain.FlowKindReception)
	require.True(t, ok)
	assert.Equal(t, 350, target)
}

func TestTableFromConfig(t *testing.T) {
	table, err := stage.TableFromConfig(config.ApprovalConfig{
		StageTableVersion: "v2",
		Thresholds:        map[string]int{"reception": 200},
		AdvanceOnComplete: map[string]int{"operations": 200},
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", table.Version)
	assert.Equal(t, 200, table.Thresholds[domain.StageReception])
	assert.Equal(t, 200, table.AdvanceOnComplete[domain.FlowKindOperations])
	assert.Equal(t, 100, table.Thresholds[domain.StageOperations])

	_, err = stage.TableFromConfig(config.ApprovalConfig{Thresholds: map[string]int{"shipping": 1}})
	assert.Error(t, err)

	_, err = stage.TableFromConfig(config.ApprovalConfig{AdvanceOnComplete: map[string]int{"shipping": 1}})
	assert.Error(t, err)
}

func TestTable_Entry(t *testing.T) {
	table := stage.DefaultTable()

	tag, open := table.Entry(domain.FlowKindApproval, 0)
	assert.Equal(t, domain.StageItems, tag)
	assert.True(t, open)

	tag, open = table.Entry(domain.FlowKindOperations, 0)
	assert.Equal(t, domain.StageOperations, tag)
	assert.False(t, open)

	_, open = table.Entry(domain.FlowKindOperations, 100)
	assert.True(t, open)

	_, open = table.Entry(domain.FlowKindReception, 100)
	assert.False(t, open)

	table, err := stage.TableFromConfig(config.ApprovalConfig{EntryStages: map[string]string{"reception": "operations"}})
	require.NoError(t, err)
	tag, open = table.Entry(domain.FlowKindReception, 100)
	assert.Equal(t, domain.StageOperations, tag)
	assert.True(t, open)

	_, err = stage.TableFromConfig(config.ApprovalConfig{EntryStages: map[string]string{"reception": "shipping"}})
	assert.Error(t, err)

	_, err = stage.TableFromConfig(config.ApprovalConfig{EntryStages: map[string]string{"audit": "items"}})
	assert.Error(t, err)
}

func TestGate_AdvanceIsMonotonic(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()
	doc := domain.DocumentRef{ID: "po-1", Type: domain.DocumentTypePurchaseOrder}

	tags, err := g.UnlockedStages(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.StageTag{domain.StageItems}, tags)

	ordinal, advanced, err := g.Advance(ctx, doc, 250)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, 250, ordinal)

	// 更小的值不生效
	ordinal, advanced, err = g.Advance(ctx, doc, 100)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, 250, ordinal)

	ordinal, advanced, err = g.Advance(ctx, doc, 250)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, 250, ordinal)

	tags, err = g.UnlockedStages(ctx, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, tags, domain.StageReception)
	assert.NotContains(t, tags, domain.StageProduction)
}

func TestGate_Reset(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()
	doc := domain.DocumentRef{ID: "po-1", Type: domain.DocumentTypePurchaseOrder}

	_, _, err := g.Advance(ctx, doc, 100)
	require.NoError(t, err)

	_, err = g.Reset(ctx, doc.ID, 100, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	// 序号已被其他流程推进时不回滚
	ok, err := g.Reset(ctx, doc.ID, 0, 250)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Reset(ctx, doc.ID, 0, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ordinal, err := g.Ordinal(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, ordinal)
}
