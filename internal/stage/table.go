package stage

import (
	"fmt"
	"sort"

	"github.com/dataflowslab/core.rompharm-sub001/internal/config"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// Table 阶段阈值表,带版本号
type Table struct {
	Version           string                  `json:"version"`
	Thresholds        map[domain.StageTag]int `json:"thresholds"`
	AdvanceOnComplete map[domain.FlowKind]int `json:"advance_on_complete"`
	// EntryStages 流程类型所属阶段,阶段解锁前不能创建或签署该类型的流程
	EntryStages map[domain.FlowKind]domain.StageTag `json:"entry_stages"`
}

// DefaultTable v1 阈值表
func DefaultTable() Table {
	return Table{
		Version: "v1",
		Thresholds: map[domain.StageTag]int{
			domain.StageItems:      0,
			domain.StageOperations: 100,
			domain.StageReception:  250,
			domain.StageProduction: 350,
		},
		AdvanceOnComplete: map[domain.FlowKind]int{
			domain.FlowKindApproval:   100,
			domain.FlowKindOperations: 250,
			domain.FlowKindReception:  350,
			domain.FlowKindProduction: 450,
		},
		EntryStages: map[domain.FlowKind]domain.StageTag{
			domain.FlowKindApproval:   domain.StageItems,
			domain.FlowKindOperations: domain.StageOperations,
			domain.FlowKindReception:  domain.StageReception,
			domain.FlowKindProduction: domain.StageProduction,
		},
	}
}

// TableFromConfig 在默认表基础上应用配置覆盖
func TableFromConfig(cfg config.ApprovalConfig) (Table, error) {
	t := DefaultTable()
	if cfg.StageTableVersion != "" {
		t.Version = cfg.StageTableVersion
	}
	for tag, v := range cfg.Thresholds {
		st := domain.StageTag(tag)
		if _, ok := t.Thresholds[st]; !ok {
			return Table{}, fmt.Errorf("unknown stage %q", tag)
		}
		t.Thresholds[st] = v
	}
	for kind, v := range cfg.AdvanceOnComplete {
		k, err := domain.ParseFlowKind(kind)
		if err != nil {
			return Table{}, err
		}
		t.AdvanceOnComplete[k] = v
	}
	for kind, tag := range cfg.EntryStages {
		k, err := domain.ParseFlowKind(kind)
		if err != nil {
			return Table{}, err
		}
		st := domain.StageTag(tag)
		if _, ok := t.Thresholds[st]; !ok {
			return Table{}, fmt.Errorf("unknown entry stage %q for %s", tag, kind)
		}
		t.EntryStages[k] = st
	}
	return t, nil
}

// Unlocked 序号已达到阈值的阶段,按阈值升序
func (t Table) Unlocked(ordinal int) []domain.StageTag {
	tags := make([]domain.StageTag, 0, len(t.Thresholds))
	for tag, threshold := range t.Thresholds {
		if ordinal >= threshold {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool {
		ti, tj := t.Thresholds[tags[i]], t.Thresholds[tags[j]]
		if ti != tj {
			return ti < tj
		}
		return tags[i] < tags[j]
	})
	return tags
}

// Target 流程完成后推进到的序号
func (t Table) Target(kind domain.FlowKind) (int, bool) {
	v, ok := t.AdvanceOnComplete[kind]
	return v, ok
}

// Entry 流程类型的入口阶段及当前序号下是否已解锁,未配置入口的类型总是可进入
func (t Table) Entry(kind domain.FlowKind, ordinal int) (domain.StageTag, bool) {
	tag, ok := t.EntryStages[kind]
	if !ok {
		return "", true
	}
	return tag, ordinal >= t.Thresholds[tag]
}
