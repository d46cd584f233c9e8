package approval

import (
	"fmt"
	"sync"

	"github.com/dataflowslab/core.rompharm-sub001/internal/config"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// JobTrigger 流程完成后自动生成的文档
type JobTrigger struct {
	TemplateCode string
	TemplateName string
}

// FlowConfig 单据类型 + 流程类型的签署配置
type FlowConfig struct {
	DocumentType  domain.DocumentType
	Kind          domain.FlowKind
	Required      []domain.OfficerSpec
	Optional      []domain.OfficerSpec
	MinSignatures int
	AllowEmpty    bool
	OnComplete    []JobTrigger
}

// Validate 校验配置
func (c FlowConfig) Validate() error {
	if _, err := domain.ParseDocumentType(string(c.DocumentType)); err != nil {
		return err
	}
	if _, err := domain.ParseFlowKind(string(c.Kind)); err != nil {
		return err
	}
	if c.MinSignatures < 0 {
		return domain.NewError(domain.CodeInvalidArgument, fmt.Sprintf("%s/%s: min_signatures must not be negative", c.DocumentType, c.Kind))
	}
	for _, spec := range append(append([]domain.OfficerSpec{}, c.Required...), c.Optional...) {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	// 无签署人的流程创建即完成,需要显式允许
	if len(c.Required) == 0 && c.MinSignatures == 0 && !c.AllowEmpty {
		return domain.NewError(domain.CodeInvalidArgument, fmt.Sprintf("%s/%s: flow has no signers, set allow_empty to permit", c.DocumentType, c.Kind))
	}
	if c.MinSignatures > 0 && len(c.Optional) == 0 {
		return domain.NewError(domain.CodeInvalidArgument, fmt.Sprintf("%s/%s: min_signatures without optional officers", c.DocumentType, c.Kind))
	}
	if allPersons(c.Optional) && c.MinSignatures > len(c.Optional) {
		return domain.NewError(domain.CodeInvalidArgument, fmt.Sprintf("%s/%s: min_signatures exceeds optional officers", c.DocumentType, c.Kind))
	}
	for _, t := range c.OnComplete {
		if t.TemplateCode == "" {
			return domain.NewError(domain.CodeInvalidArgument, fmt.Sprintf("%s/%s: on_complete template_code is required", c.DocumentType, c.Kind))
		}
	}
	return nil
}

func allPersons(specs []domain.OfficerSpec) bool {
	for _, s := range specs {
		if s.Kind != domain.OfficerKindPerson {
			return false
		}
	}
	return true
}

type registryKey struct {
	docType domain.DocumentType
	kind    domain.FlowKind
}

// Registry 流程配置注册表,支持热更新
type Registry struct {
	mu      sync.RWMutex
	configs map[registryKey]FlowConfig
}

// NewRegistry 创建注册表
func NewRegistry(configs []FlowConfig) (*Registry, error) {
	r := &Registry{configs: make(map[registryKey]FlowConfig)}
	if err := r.Replace(configs); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup 查找配置
func (r *Registry) Lookup(docType domain.DocumentType, kind domain.FlowKind) (FlowConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[registryKey{docType, kind}]
	return c, ok
}

// Replace 整体替换配置,任一配置无效时保持原状
// 已创建的流程保存了自己的签署人快照,不受影响
func (r *Registry) Replace(configs []FlowConfig) error {
	next := make(map[registryKey]FlowConfig, len(configs))
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return err
		}
		key := registryKey{c.DocumentType, c.Kind}
		if _, dup := next[key]; dup {
			return domain.NewError(domain.CodeInvalidArgument, fmt.Sprintf("duplicate flow config %s/%s", c.DocumentType, c.Kind))
		}
		next[key] = c
	}

	r.mu.Lock()
	r.configs = next
	r.mu.Unlock()
	return nil
}

// Len 配置数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// FromConfig 转换配置文件中的流程定义
func FromConfig(entries []config.FlowConfig) []FlowConfig {
	out := make([]FlowConfig, 0, len(entries))
	for _, e := range entries {
		c := FlowConfig{
			DocumentType:  domain.DocumentType(e.DocumentType),
			Kind:          domain.FlowKind(e.Kind),
			Required:      toSpecs(e.Required),
			Optional:      toSpecs(e.Optional),
			MinSignatures: e.MinSignatures,
			AllowEmpty:    e.AllowEmpty,
		}
		for _, t := range e.OnComplete {
			c.OnComplete = append(c.OnComplete, JobTrigger{TemplateCode: t.TemplateCode, TemplateName: t.TemplateName})
		}
		out = append(out, c)
	}
	return out
}

func toSpecs(officers []config.OfficerConfig) []domain.OfficerSpec {
	specs := make([]domain.OfficerSpec, 0, len(officers))
	for _, o := range officers {
		specs = append(specs, domain.OfficerSpec{Kind: domain.OfficerKind(o.Kind), Reference: o.Reference})
	}
	return specs
}
