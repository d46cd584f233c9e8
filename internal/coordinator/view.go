package coordinator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/approval"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"gorm.io/datatypes"
)

// FlowView 流程视图: 流程、签名、派生状态、进度和当前用户能否签名
type FlowView struct {
	Configured    bool                   `json:"configured"`
	Flow          *domain.ApprovalFlow   `json:"flow,omitempty"`
	Summary       *approval.Summary      `json:"summary,omitempty"`
	CanSign       bool                   `json:"can_sign"`
	Locked        bool                   `json:"locked"`
	Stage         domain.StageTag        `json:"stage,omitempty"`
	Transition    *StatusChange          `json:"transition,omitempty"`
	TriggeredJobs []domain.GenerationJob `json:"triggered_jobs,omitempty"`
}

// StageView 单据阶段视图
type StageView struct {
	DocumentID   string            `json:"document_id"`
	Ordinal      int               `json:"ordinal"`
	Unlocked     []domain.StageTag `json:"unlocked"`
	TableVersion string            `json:"table_version"`
}

// StatusChange 流程状态变更记录
type StatusChange struct {
	From      domain.FlowStatus `json:"from"`
	To        domain.FlowStatus `json:"to"`
	Reason    string            `json:"reason"`
	Operator  string            `json:"operator"`
	ChangedAt time.Time         `json:"changed_at"`
}

// SignatureCheck 签名哈希校验结果
type SignatureCheck struct {
	SignerID string `json:"signer_id"`
	Valid    bool   `json:"valid"`
}

func encodeSpecs(specs []domain.OfficerSpec) (datatypes.JSON, error) {
	if specs == nil {
		specs = []domain.OfficerSpec{}
	}
	raw, err := json.Marshal(specs)
	if err != nil {
		return nil, fmt.Errorf("encode officers: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeSpecs(raw datatypes.JSON) ([]domain.OfficerSpec, error) {
	specs := []domain.OfficerSpec{}
	if len(raw) == 0 {
		return specs, nil
	}
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("decode officers: %w", err)
	}
	return specs, nil
}

func flowFromModel(m *model.FlowModel) (*domain.ApprovalFlow, error) {
	required, err := decodeSpecs(m.RequiredOfficers)
	if err != nil {
		return nil, err
	}
	optional, err := decodeSpecs(m.OptionalOfficers)
	if err != nil {
		return nil, err
	}
	return &domain.ApprovalFlow{
		ID:               m.ID,
		DocumentID:       m.DocumentID,
		DocumentType:     domain.DocumentType(m.DocumentType),
		Kind:             domain.FlowKind(m.Kind),
		RequiredOfficers: required,
		OptionalOfficers: optional,
		MinSignatures:    m.MinSignatures,
		Signatures:       []domain.Signature{},
		Status:           domain.FlowStatus(m.Status),
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}, nil
}
